package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
)

// RESTSource reads summaries through the row store's PostgREST endpoint
// (Supabase's /rest/v1 API).
type RESTSource struct {
	baseURL  string
	apiKey   string
	table    string
	pageSize int
	client   *retryablehttp.Client
	log      logger.Logger
}

// NewRESTSource returns a source for the PostgREST API at baseURL, e.g.
// https://<project>.supabase.co. retryMax is the number of transport-level
// retries per page request.
func NewRESTSource(baseURL, apiKey, table string, pageSize, retryMax int, log logger.Logger) *RESTSource {
	if table == "" {
		table = DefaultTable
	}
	if log == nil {
		log = logger.NopLogger
	}
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.Logger = logger.KV{L: log}
	return &RESTSource{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		table:    table,
		pageSize: pageSize,
		client:   client,
		log:      log,
	}
}

func (s *RESTSource) Name() string { return "rest:" + s.table }

func (s *RESTSource) Open(ctx context.Context) error {
	if _, err := url.Parse(s.baseURL); err != nil || s.baseURL == "" {
		return errors.Newf(errors.ErrConfig, "invalid row store url %q", s.baseURL)
	}
	return nil
}

// pageURL builds the PostgREST query for one page.
func (s *RESTSource) pageURL(cursor Cursor, pageIndex int) string {
	q := url.Values{}
	q.Set("select", "created_at,meeting_id,summary")
	q.Set("confirmed", "eq.true")
	q.Set("created_at", "gt."+cursor.String())
	q.Set("order", "created_at.asc")
	q.Set("limit", strconv.Itoa(s.pageSize))
	q.Set("offset", strconv.Itoa(pageIndex*s.pageSize))
	return s.baseURL + "/rest/v1/" + url.PathEscape(s.table) + "?" + q.Encode()
}

type restRow struct {
	CreatedAt string          `json:"created_at"`
	MeetingID *string         `json:"meeting_id"`
	Summary   json.RawMessage `json:"summary"`
}

func (s *RESTSource) FetchPage(ctx context.Context, cursor Cursor, pageIndex int) ([]SummaryRecord, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.pageURL(cursor, pageIndex), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "requesting page")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("row store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []restRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "decoding page")
	}

	out := make([]SummaryRecord, 0, len(rows))
	for _, rr := range rows {
		created, err := parseTimestamp(rr.CreatedAt)
		if err != nil {
			return nil, errors.WithCode(err, errors.ErrMalformedRecord, "parsing created_at")
		}
		r := row{CreatedAt: created, Summary: rr.Summary}
		if rr.MeetingID != nil {
			r.MeetingID = *rr.MeetingID
		}
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RESTSource) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}

// timestamp layouts PostgREST emits for timestamptz and timestamp columns.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
