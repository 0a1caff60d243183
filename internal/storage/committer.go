package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/acme-corp/meeting-archiver/internal/document"
	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/acme-corp/meeting-archiver/internal/partition"
)

// Committer writes yearly archive files with optimistic concurrency: each
// file is read, merged and written back conditioned on the version that was
// read. There is no retry; a conflict is returned to the caller.
type Committer struct {
	store FileStore
	org   string
	log   logger.Logger

	// DryRun builds each file but does not write it.
	DryRun bool
}

// CommitResult describes one committed file.
type CommitResult struct {
	Path     string
	Year     int
	Meetings int
	Bytes    int
	// Created is set when the file did not exist before.
	Created bool
	DryRun  bool
}

// NewCommitter returns a Committer writing files for org to store.
func NewCommitter(store FileStore, org string, log logger.Logger) *Committer {
	if log == nil {
		log = logger.NopLogger
	}
	return &Committer{store: store, org: org, log: log}
}

// Org is the organization segment of the paths c writes.
func (c *Committer) Org() string { return c.org }

// Commit writes the groups of one year to that year's archive file.
func (c *Committer) Commit(ctx context.Context, year int, groups partition.Groups) (*CommitResult, error) {
	res, err := c.CommitFile(ctx, PathFor(c.org, year), CommitMessage(year), groups)
	if res != nil {
		res.Year = year
	}
	return res, err
}

// CommitFile merges groups into the file at path and writes it back with the
// version token observed when reading it.
func (c *Committer) CommitFile(ctx context.Context, path, message string, groups partition.Groups) (*CommitResult, error) {
	var existing document.Value
	var version string

	content, err := c.store.GetContent(ctx, path)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		c.log.Debugf("%s does not exist yet", path)
	case err != nil:
		return nil, errors.WithCode(err, errors.ErrCommitRead, "reading "+path)
	default:
		version = content.Version
		if len(bytes.TrimSpace(content.Data)) > 0 {
			existing, err = document.Decode(content.Data)
			if err != nil {
				return nil, errors.WithCode(err, errors.ErrCommitRead, "parsing "+path)
			}
			if existing.Kind() != document.KindMapping {
				return nil, errors.Newf(errors.ErrCommitRead, "%s holds a %s, not an object", path, existing.Kind())
			}
		}
	}

	merged := Merge(existing, groups)
	data, err := Encode(merged)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrCommitWrite, "encoding "+path)
	}

	res := &CommitResult{
		Path:     path,
		Meetings: merged.Len(),
		Bytes:    len(data),
		Created:  version == "",
		DryRun:   c.DryRun,
	}
	if c.DryRun {
		c.log.Infof("dry run: would write %s (%d meetings, %d bytes)", path, res.Meetings, res.Bytes)
		return res, nil
	}

	if err := c.store.CreateOrUpdate(ctx, path, message, data, version); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return nil, errors.Wrapf(err, "writing %s", path)
		}
		return nil, errors.WithCode(err, errors.ErrCommitWrite, "writing "+path)
	}
	c.log.Infof("committed %s (%d meetings, %d bytes)", path, res.Meetings, res.Bytes)
	return res, nil
}

// Merge returns existing with every meeting in groups replaced by the
// group's summaries. Meetings only present in existing are kept. Keys are
// sorted so the file is stable across runs.
func Merge(existing document.Value, groups partition.Groups) document.Value {
	byID := make(map[string]document.Value, existing.Len()+len(groups))
	for _, e := range existing.Entries() {
		byID[e.Key] = e.Value
	}
	for id, docs := range groups {
		byID[id] = document.Sequence(append([]document.Value(nil), docs...)...)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entries := make([]document.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, document.Entry{Key: id, Value: byID[id]})
	}
	return document.Mapping(entries...)
}

// Encode serializes v as JSON indented by two spaces, without a trailing
// newline and without HTML escaping.
func Encode(v document.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
