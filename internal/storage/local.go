package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/zeebo/blake3"
)

// LocalStore is a FileStore backed by a directory. Versions are BLAKE3
// hashes of file contents. Every successful write is appended to a
// newline-delimited JSON commit log in the root directory.
type LocalStore struct {
	root string
	mu   sync.Mutex
}

// CommitLog is the name of the commit log file under the root.
const CommitLog = ".commits.ndjson"

// LocalCommit is one line of the commit log.
type LocalCommit struct {
	Path    string    `json:"path"`
	Message string    `json:"message"`
	Parent  string    `json:"parent,omitempty"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// NewLocalStore returns a store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (s *LocalStore) Name() string { return "local:" + s.root }

// Version returns the token LocalStore assigns to data.
func Version(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *LocalStore) resolve(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("path %q escapes the store root", p)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) GetContent(ctx context.Context, p string) (*Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(p)
}

func (s *LocalStore) read(p string) (*Content, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, notFound(p)
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", p)
	}
	return &Content{Data: data, Version: Version(data)}, nil
}

func (s *LocalStore) CreateOrUpdate(ctx context.Context, p, message string, data []byte, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(p)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		if version != "" {
			return conflict(p, "file no longer exists")
		}
	case err != nil:
		return err
	case version == "":
		return conflict(p, "file exists but no version was supplied")
	case version != current.Version:
		return conflict(p, "version "+version+" does not match "+current.Version)
	}

	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.Wrap(err, "creating directory")
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", p)
	}
	if err := os.Rename(tmp, full); err != nil {
		return errors.Wrapf(err, "replacing %s", p)
	}
	return s.appendLog(LocalCommit{
		Path:    p,
		Message: message,
		Parent:  version,
		Version: Version(data),
		Time:    time.Now().UTC(),
	})
}

func (s *LocalStore) appendLog(c LocalCommit) error {
	f, err := os.OpenFile(filepath.Join(s.root, CommitLog), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "opening commit log")
	}
	defer f.Close()

	line, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshaling commit")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "writing commit log")
	}
	return nil
}

// Commits reads the commit log, oldest first.
func (s *LocalStore) Commits() ([]LocalCommit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.root, CommitLog))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "reading commit log")
	}
	var out []LocalCommit
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var c LocalCommit
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, errors.Wrap(err, "decoding commit log")
		}
		out = append(out, c)
	}
	return out, nil
}
