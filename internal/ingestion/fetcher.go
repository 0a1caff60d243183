package ingestion

import (
	"context"
	"fmt"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPageSize is the number of records per page request.
	DefaultPageSize = 100
	// DefaultConcurrency is the number of page requests issued per round.
	DefaultConcurrency = 10
)

// Page is one page of a round.
type Page struct {
	Index   int
	Records []SummaryRecord
}

// Round is the joined result of one batch of concurrent page fetches.
type Round struct {
	Number int
	Cursor Cursor
	Pages  []Page
}

// Records returns the records of all pages in page order.
func (r *Round) Records() []SummaryRecord {
	var n int
	for _, p := range r.Pages {
		n += len(p.Records)
	}
	out := make([]SummaryRecord, 0, n)
	for _, p := range r.Pages {
		out = append(out, p.Records...)
	}
	return out
}

// Empty reports whether no page of the round returned a record.
func (r *Round) Empty() bool {
	for _, p := range r.Pages {
		if len(p.Records) > 0 {
			return false
		}
	}
	return true
}

// Next returns the cursor for the following round: the created_at of the
// last record of the last non-empty page. An empty round keeps the cursor.
func (r *Round) Next() Cursor {
	for i := len(r.Pages) - 1; i >= 0; i-- {
		if recs := r.Pages[i].Records; len(recs) > 0 {
			return Cursor{After: recs[len(recs)-1].CreatedAt}
		}
	}
	return r.Cursor
}

// Fetcher issues rounds of page requests against a Source.
type Fetcher struct {
	source      Source
	concurrency int
	rounds      int
}

// NewFetcher returns a Fetcher issuing concurrency pages per round.
func NewFetcher(source Source, concurrency int) *Fetcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Fetcher{source: source, concurrency: concurrency}
}

// Concurrency is the number of pages requested per round.
func (f *Fetcher) Concurrency() int { return f.concurrency }

// FetchRound requests pages 0..Concurrency-1 after cursor concurrently and
// waits for all of them. Page offsets are relative to the cursor, so every
// round starts at page 0. The first failing page cancels the others and the
// round fails with a FetchError.
func (f *Fetcher) FetchRound(ctx context.Context, cursor Cursor) (*Round, error) {
	f.rounds++
	round := &Round{
		Number: f.rounds,
		Cursor: cursor,
		Pages:  make([]Page, f.concurrency),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i := 0; i < f.concurrency; i++ {
		i := i
		g.Go(func() error {
			recs, err := f.source.FetchPage(gctx, cursor, i)
			if err != nil {
				return errors.WithCode(err, errors.ErrFetch, fmt.Sprintf("fetching page %d after %s", i, cursor))
			}
			round.Pages[i] = Page{Index: i, Records: recs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return round, nil
}
