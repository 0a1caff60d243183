package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// GitHubConfig locates the repository that holds the archive.
type GitHubConfig struct {
	APIURL string
	Owner  string
	Repo   string
	// Branch is optional; the repository default branch is used when empty.
	Branch string
	Token  string
	// RetryMax is the number of transport-level retries per request.
	RetryMax int
}

// GitHubStore is a FileStore over the GitHub repository contents API. The
// version token is the blob SHA GitHub reports for the file.
type GitHubStore struct {
	cfg    GitHubConfig
	client *retryablehttp.Client
	log    logger.Logger
}

// NewGitHubStore returns a store for cfg. A missing or invalid token is not
// checked here; GitHub rejects the first request instead.
func NewGitHubStore(cfg GitHubConfig, log logger.Logger) *GitHubStore {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGitHubAPI
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if log == nil {
		log = logger.NopLogger
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.Logger = logger.KV{L: log}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		client.HTTPClient = oauth2.NewClient(context.Background(), ts)
	}
	return &GitHubStore{cfg: cfg, client: client, log: log}
}

func (s *GitHubStore) Name() string {
	return "github:" + s.cfg.Owner + "/" + s.cfg.Repo
}

func (s *GitHubStore) contentsURL(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.cfg.APIURL + "/repos/" + url.PathEscape(s.cfg.Owner) + "/" + url.PathEscape(s.cfg.Repo) +
		"/contents/" + strings.Join(segs, "/")
}

func (s *GitHubStore) newRequest(ctx context.Context, method, rawurl string, body interface{}) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return req, nil
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
	Type     string `json:"type"`
}

func (s *GitHubStore) GetContent(ctx context.Context, p string) (*Content, error) {
	rawurl := s.contentsURL(p)
	if s.cfg.Branch != "" {
		rawurl += "?ref=" + url.QueryEscape(s.cfg.Branch)
	}
	req, err := s.newRequest(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s", p)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, notFound(p)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError("get", p, resp)
	}

	var cr contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, errors.Wrapf(err, "decoding contents of %s", p)
	}
	if cr.Type != "" && cr.Type != "file" {
		return nil, errors.Errorf("%s is a %s, not a file", p, cr.Type)
	}

	// Files over 1MB come back without inline content.
	if cr.Encoding == "none" || (cr.Content == "" && cr.Size > 0) {
		data, err := s.getRaw(ctx, rawurl, p)
		if err != nil {
			return nil, err
		}
		return &Content{Data: data, Version: cr.SHA}, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cr.Content, "\n", ""))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding base64 content of %s", p)
	}
	return &Content{Data: data, Version: cr.SHA}, nil
}

func (s *GitHubStore) getRaw(ctx context.Context, rawurl, p string) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.raw")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "getting raw %s", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get raw", p, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading raw %s", p)
	}
	return data, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

func (s *GitHubStore) CreateOrUpdate(ctx context.Context, p, message string, data []byte, version string) error {
	body, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     version,
		Branch:  s.cfg.Branch,
	})
	if err != nil {
		return errors.Wrap(err, "marshaling request")
	}
	req, err := s.newRequest(ctx, http.MethodPut, s.contentsURL(p), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "putting %s", p)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		_, _ = io.Copy(io.Discard, resp.Body)
		s.log.Debugf("committed %s (%d bytes)", p, len(data))
		return nil
	case http.StatusConflict:
		return errors.WithCode(statusError("put", p, resp), errors.ErrConflict, "version "+version+" is stale")
	case http.StatusUnprocessableEntity:
		// GitHub answers 422 when the file exists and no sha was sent.
		if version == "" {
			return errors.WithCode(statusError("put", p, resp), errors.ErrConflict, "file was created concurrently")
		}
	}
	return statusError("put", p, resp)
}

func statusError(op, p string, resp *http.Response) error {
	var msg struct {
		Message string `json:"message"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &msg); err != nil || msg.Message == "" {
		msg.Message = strings.TrimSpace(string(body))
	}
	return &StatusError{Op: op, Path: p, StatusCode: resp.StatusCode, Message: msg.Message}
}
