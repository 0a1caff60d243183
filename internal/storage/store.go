// Package storage commits archive files to a versioned file store.
package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/acme-corp/meeting-archiver/internal/errors"
)

// Content is a file as read from a FileStore.
type Content struct {
	Data []byte
	// Version is the store's opaque token for this content. It is passed
	// back unchanged on the next write.
	Version string
}

// FileStore is a version-controlled file store with compare-and-swap
// writes.
type FileStore interface {
	// Name returns a human-readable identifier for logging.
	Name() string

	// GetContent reads the file at path. A missing file is reported with an
	// error coded errors.ErrNotFound.
	GetContent(ctx context.Context, path string) (*Content, error)

	// CreateOrUpdate writes data to path. version must be the token of the
	// content being replaced, or empty when the file is being created. A
	// stale or missing token fails with an error coded errors.ErrConflict
	// and leaves the file untouched.
	CreateOrUpdate(ctx context.Context, path, message string, data []byte, version string) error
}

// FileName is the name of each yearly archive file.
const FileName = "meeting-summaries-by-id.json"

// PathFor returns the archive file path for org and year.
func PathFor(org string, year int) string {
	return path.Join("Data", org, "Meeting-Summaries", strconv.Itoa(year), FileName)
}

// CommitMessage is the message used for the yearly file commits.
func CommitMessage(year int) string {
	return fmt.Sprintf("Update meeting summaries for %d", year)
}

// StatusError is an unexpected response from a remote store.
type StatusError struct {
	Op         string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Path, e.StatusCode, e.Message)
}

func notFound(p string) error {
	return errors.Newf(errors.ErrNotFound, "%s does not exist", p)
}

func conflict(p, detail string) error {
	return errors.Newf(errors.ErrConflict, "%s changed since it was read: %s", p, detail)
}
