// Package ingestiontest provides an in-memory row store for tests.
package ingestiontest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acme-corp/meeting-archiver/internal/ingestion"
)

// Row is a stored summary row.
type Row struct {
	ingestion.SummaryRecord
	Confirmed bool
}

// Source serves confirmed rows from memory with the same paging rules as the
// real stores. It records call counts and the peak number of concurrent
// FetchPage calls.
type Source struct {
	PageSize int
	// Delay is slept inside every FetchPage call.
	Delay time.Duration
	// Fail, when set, is consulted before each page is served.
	Fail func(cursor ingestion.Cursor, pageIndex int) error

	mu   sync.Mutex
	rows []Row

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewSource returns a source holding rows.
func NewSource(pageSize int, rows ...Row) *Source {
	s := &Source{PageSize: pageSize}
	s.Add(rows...)
	return s
}

// Confirmed builds a confirmed row.
func Confirmed(rec ingestion.SummaryRecord) Row {
	return Row{SummaryRecord: rec, Confirmed: true}
}

// Add stores rows, keeping them ordered by created_at.
func (s *Source) Add(rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	sort.SliceStable(s.rows, func(i, j int) bool {
		return s.rows[i].CreatedAt.Before(s.rows[j].CreatedAt)
	})
}

func (s *Source) Name() string                   { return "memory" }
func (s *Source) Open(ctx context.Context) error { return nil }
func (s *Source) Close() error                   { return nil }

func (s *Source) FetchPage(ctx context.Context, cursor ingestion.Cursor, pageIndex int) ([]ingestion.SummaryRecord, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Fail != nil {
		if err := s.Fail(cursor, pageIndex); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []ingestion.SummaryRecord
	after := cursor.Time()
	for _, r := range s.rows {
		if r.Confirmed && r.CreatedAt.After(after) {
			matched = append(matched, r.SummaryRecord)
		}
	}
	lo := pageIndex * s.PageSize
	if lo >= len(matched) {
		return nil, nil
	}
	hi := lo + s.PageSize
	if hi > len(matched) {
		hi = len(matched)
	}
	return append([]ingestion.SummaryRecord(nil), matched[lo:hi]...), nil
}

// Calls is the number of FetchPage calls so far.
func (s *Source) Calls() int64 { return s.calls.Load() }

// PeakInFlight is the highest number of concurrent FetchPage calls observed.
func (s *Source) PeakInFlight() int64 { return s.peak.Load() }
