package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())
	p := PathFor("Org", 2024)

	_, err := s.GetContent(ctx, p)
	require.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, s.CreateOrUpdate(ctx, p, "create", []byte(`{"a":1}`), ""))
	c, err := s.GetContent(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(c.Data))
	assert.Equal(t, Version([]byte(`{"a":1}`)), c.Version)

	require.NoError(t, s.CreateOrUpdate(ctx, p, "update", []byte(`{"a":2}`), c.Version))
	c2, err := s.GetContent(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(c2.Data))
	assert.NotEqual(t, c.Version, c2.Version)

	commits, err := s.Commits()
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "create", commits[0].Message)
	assert.Empty(t, commits[0].Parent)
	assert.Equal(t, c.Version, commits[1].Parent)
	assert.Equal(t, c2.Version, commits[1].Version)
}

func TestLocalStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())
	p := "Data/x.json"
	require.NoError(t, s.CreateOrUpdate(ctx, p, "create", []byte("one"), ""))
	old, err := s.GetContent(ctx, p)
	require.NoError(t, err)
	require.NoError(t, s.CreateOrUpdate(ctx, p, "update", []byte("two"), old.Version))

	err = s.CreateOrUpdate(ctx, p, "stale", []byte("three"), old.Version)
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	err = s.CreateOrUpdate(ctx, p, "blind", []byte("three"), "")
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	err = s.CreateOrUpdate(ctx, "Data/missing.json", "ghost", []byte("x"), old.Version)
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	c, err := s.GetContent(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "two", string(c.Data), "rejected writes must not change the file")
}

func TestLocalStorePathEscape(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(filepath.Join(dir, "root"))
	err := s.CreateOrUpdate(context.Background(), "../outside.json", "m", []byte("x"), "")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "outside.json"))
	assert.True(t, os.IsNotExist(statErr))
}
