package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub implements the contents endpoints for one repository.
type fakeGitHub struct {
	mu    sync.Mutex
	files map[string]string // path -> content
	shas  map[string]string
	seq   int
	puts  []putRequest
	auth  []string
	// status, when non-zero, is returned for every request.
	status int
	// inline is the largest file returned inline; larger files need the raw
	// media type.
	inline int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{files: map[string]string{}, shas: map[string]string{}, inline: 1 << 20}
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	if f.status != 0 {
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
		return
	}

	const prefix = "/repos/acme/archive/contents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	p := strings.TrimPrefix(r.URL.Path, prefix)

	switch r.Method {
	case http.MethodGet:
		content, ok := f.files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		if r.Header.Get("Accept") == "application/vnd.github.raw" {
			_, _ = w.Write([]byte(content))
			return
		}
		resp := contentResponse{SHA: f.shas[p], Type: "file", Size: len(content), Encoding: "base64"}
		if len(content) > f.inline {
			resp.Encoding = "none"
		} else {
			// GitHub wraps base64 content at 60 characters.
			enc := base64.StdEncoding.EncodeToString([]byte(content))
			var lines []string
			for len(enc) > 60 {
				lines = append(lines, enc[:60])
				enc = enc[60:]
			}
			resp.Content = strings.Join(append(lines, enc), "\n")
		}
		_ = json.NewEncoder(w).Encode(resp)
	case http.MethodPut:
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, req)
		cur, exists := f.shas[p]
		switch {
		case exists && req.SHA == "":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`))
			return
		case exists && req.SHA != cur, !exists && req.SHA != "":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"is at ` + cur + ` but expected ` + req.SHA + `"}`))
			return
		}
		data, _ := base64.StdEncoding.DecodeString(req.Content)
		f.seq++
		f.files[p] = string(data)
		f.shas[p] = "sha" + strings.Repeat("x", f.seq)
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestGitHubStore(t *testing.T, f *fakeGitHub) *GitHubStore {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewGitHubStore(GitHubConfig{APIURL: srv.URL, Owner: "acme", Repo: "archive", Token: "tok"}, nil)
}

func TestGitHubStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestGitHubStore(t, f)
	p := PathFor("Org", 2024)

	_, err := s.GetContent(ctx, p)
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	body := strings.Repeat(`{"k":"value"}`, 20)
	require.NoError(t, s.CreateOrUpdate(ctx, p, CommitMessage(2024), []byte(body), ""))

	c, err := s.GetContent(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, body, string(c.Data))
	assert.Equal(t, "shax", c.Version)

	require.NoError(t, s.CreateOrUpdate(ctx, p, "again", []byte("{}"), c.Version))
	require.Len(t, f.puts, 2)
	assert.Equal(t, "Update meeting summaries for 2024", f.puts[0].Message)
	assert.Empty(t, f.puts[0].SHA)
	assert.Equal(t, "shax", f.puts[1].SHA)
	for _, a := range f.auth {
		assert.Equal(t, "Bearer tok", a)
	}
}

func TestGitHubStoreConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestGitHubStore(t, f)
	require.NoError(t, s.CreateOrUpdate(ctx, "a.json", "m", []byte("1"), ""))

	err := s.CreateOrUpdate(ctx, "a.json", "m", []byte("2"), "stale")
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)

	err = s.CreateOrUpdate(ctx, "a.json", "m", []byte("2"), "")
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	assert.Equal(t, "1", f.files["a.json"])
}

func TestGitHubStoreLargeFile(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	f.inline = 10
	s := newTestGitHubStore(t, f)
	require.NoError(t, s.CreateOrUpdate(ctx, "big.json", "m", []byte(strings.Repeat("z", 100)), ""))

	c, err := s.GetContent(ctx, "big.json")
	require.NoError(t, err)
	assert.Len(t, c.Data, 100)
	assert.Equal(t, "shax", c.Version)
}

func TestGitHubStoreUnauthorized(t *testing.T) {
	f := newFakeGitHub()
	f.status = http.StatusUnauthorized
	s := newTestGitHubStore(t, f)

	_, err := s.GetContent(context.Background(), "a.json")
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "Bad credentials", se.Message)
	assert.False(t, errors.Is(err, errors.ErrNotFound))

	err = s.CreateOrUpdate(context.Background(), "a.json", "m", []byte("x"), "")
	require.True(t, errors.As(err, &se))
	assert.False(t, errors.Is(err, errors.ErrConflict))
}

func TestContentsURL(t *testing.T) {
	s := NewGitHubStore(GitHubConfig{Owner: "SingularityNET-Archive", Repo: "SingularityNET-Archive"}, nil)
	assert.Equal(t,
		"https://api.github.com/repos/SingularityNET-Archive/SingularityNET-Archive/contents/Data/Snet%20Org/Meeting-Summaries/2024/meeting-summaries-by-id.json",
		s.contentsURL(PathFor("Snet Org", 2024)))
}
