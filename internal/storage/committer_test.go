package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/acme-corp/meeting-archiver/internal/document"
	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps a FileStore, remembering the versions written with
// and optionally running a hook between read and write.
type recordingStore struct {
	FileStore
	versions    []string
	beforeWrite func()
	readErr     error
	writeErr    error
}

func (s *recordingStore) GetContent(ctx context.Context, p string) (*Content, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.FileStore.GetContent(ctx, p)
}

func (s *recordingStore) CreateOrUpdate(ctx context.Context, p, message string, data []byte, version string) error {
	s.versions = append(s.versions, version)
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.FileStore.CreateOrUpdate(ctx, p, message, data, version)
}

func groups(kv ...string) partition.Groups {
	g := partition.Groups{}
	for i := 0; i+1 < len(kv); i += 2 {
		g[kv[i]] = append(g[kv[i]], document.MustDecode(kv[i+1]))
	}
	return g
}

func TestCommitCreatesMissingFile(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStore(t.TempDir())
	store := &recordingStore{FileStore: local}
	c := NewCommitter(store, "Org", nil)

	res, err := c.Commit(ctx, 2024, groups("m2", `{"n":"b"}`, "m1", `{"n":"a"}`))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Meetings)
	assert.Equal(t, 2024, res.Year)
	assert.Equal(t, "Data/Org/Meeting-Summaries/2024/meeting-summaries-by-id.json", res.Path)
	assert.Equal(t, []string{""}, store.versions)

	got, err := local.GetContent(ctx, res.Path)
	require.NoError(t, err)
	assert.Equal(t, `{
  "m1": [
    {
      "n": "a"
    }
  ],
  "m2": [
    {
      "n": "b"
    }
  ]
}`, string(got.Data))

	commits, err := local.Commits()
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "Update meeting summaries for 2024", commits[0].Message)
}

func TestCommitUsesObservedVersion(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStore(t.TempDir())
	p := PathFor("Org", 2023)
	require.NoError(t, local.CreateOrUpdate(ctx, p, "seed", []byte(`{"old":[{"x":1}],"m1":[{"stale":true}]}`), ""))
	before, err := local.GetContent(ctx, p)
	require.NoError(t, err)

	store := &recordingStore{FileStore: local}
	res, err := NewCommitter(store, "Org", nil).Commit(ctx, 2023, groups("m1", `{"fresh":true}`))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, []string{before.Version}, store.versions)

	after, err := local.GetContent(ctx, p)
	require.NoError(t, err)
	merged := document.MustDecode(string(after.Data))
	assert.Equal(t, 2, merged.Len())
	m1, _ := merged.Get("m1")
	assert.True(t, m1.Equal(document.MustDecode(`[{"fresh":true}]`)))
	old, _ := merged.Get("old")
	assert.True(t, old.Equal(document.MustDecode(`[{"x":1}]`)))
}

func TestCommitConflict(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStore(t.TempDir())
	p := PathFor("Org", 2024)
	require.NoError(t, local.CreateOrUpdate(ctx, p, "seed", []byte(`{}`), ""))

	store := &recordingStore{FileStore: local}
	store.beforeWrite = func() {
		cur, err := local.GetContent(ctx, p)
		require.NoError(t, err)
		require.NoError(t, local.CreateOrUpdate(ctx, p, "concurrent", []byte(`{"other":[]}`), cur.Version))
	}

	_, err := NewCommitter(store, "Org", nil).Commit(ctx, 2024, groups("m1", `{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)
	assert.False(t, errors.Is(err, errors.ErrCommitWrite))

	cur, err := local.GetContent(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, `{"other":[]}`, string(cur.Data), "a rejected write must not leave partial content")
}

func TestCommitErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadFailure", func(t *testing.T) {
		store := &recordingStore{FileStore: NewLocalStore(t.TempDir()), readErr: fmt.Errorf("502 bad gateway")}
		_, err := NewCommitter(store, "Org", nil).Commit(ctx, 2024, groups("m1", `{}`))
		assert.True(t, errors.Is(err, errors.ErrCommitRead), "got %v", err)
		assert.Empty(t, store.versions, "no write after a failed read")
	})

	t.Run("UnparsableExisting", func(t *testing.T) {
		local := NewLocalStore(t.TempDir())
		require.NoError(t, local.CreateOrUpdate(ctx, PathFor("Org", 2024), "seed", []byte(`[1,2`), ""))
		_, err := NewCommitter(local, "Org", nil).Commit(ctx, 2024, groups("m1", `{}`))
		assert.True(t, errors.Is(err, errors.ErrCommitRead), "got %v", err)
	})

	t.Run("ExistingNotObject", func(t *testing.T) {
		local := NewLocalStore(t.TempDir())
		require.NoError(t, local.CreateOrUpdate(ctx, PathFor("Org", 2024), "seed", []byte(`[]`), ""))
		_, err := NewCommitter(local, "Org", nil).Commit(ctx, 2024, groups("m1", `{}`))
		assert.True(t, errors.Is(err, errors.ErrCommitRead), "got %v", err)
	})

	t.Run("WriteFailure", func(t *testing.T) {
		store := &recordingStore{FileStore: NewLocalStore(t.TempDir()), writeErr: &StatusError{Op: "put", StatusCode: 401}}
		_, err := NewCommitter(store, "Org", nil).Commit(ctx, 2024, groups("m1", `{}`))
		assert.True(t, errors.Is(err, errors.ErrCommitWrite), "got %v", err)
		var se *StatusError
		assert.True(t, errors.As(err, &se))
	})
}

func TestCommitDryRun(t *testing.T) {
	local := NewLocalStore(t.TempDir())
	c := NewCommitter(local, "Org", nil)
	c.DryRun = true
	res, err := c.Commit(context.Background(), 2024, groups("m1", `{"a":"b"}`))
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Greater(t, res.Bytes, 0)

	_, err = local.GetContent(context.Background(), res.Path)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMergeSortsAndReplaces(t *testing.T) {
	existing := document.MustDecode(`{"z":[1],"a":[2]}`)
	merged := Merge(existing, groups("m", `{"v":3}`, "a", `{"v":4}`, "a", `{"v":5}`))
	want := document.MustDecode(`{"a":[{"v":4},{"v":5}],"m":[{"v":3}],"z":[1]}`)
	assert.True(t, want.Equal(merged), "got %s", mustJSON(t, merged))

	assert.Equal(t, 0, Merge(document.Null(), nil).Len())
}

func mustJSON(t *testing.T, v document.Value) string {
	b, err := Encode(v)
	require.NoError(t, err)
	return string(b)
}
