package ingestion

import (
	"context"
	"time"

	"github.com/acme-corp/meeting-archiver/internal/document"
	"github.com/acme-corp/meeting-archiver/internal/errors"
)

// SummaryRecord is one confirmed row of the meeting summaries table.
type SummaryRecord struct {
	MeetingID string
	CreatedAt time.Time
	Summary   document.Value
}

// Epoch is where every run starts reading.
var Epoch = time.Unix(0, 0).UTC()

// Cursor marks the created_at of the last record consumed. The zero Cursor
// reads from the epoch.
type Cursor struct {
	After time.Time
}

// Time returns the lower bound (exclusive) for created_at.
func (c Cursor) Time() time.Time {
	if c.After.IsZero() {
		return Epoch
	}
	return c.After
}

func (c Cursor) String() string {
	return c.Time().Format(time.RFC3339Nano)
}

// Source reads confirmed summary records in created_at order. Implementations
// must be safe for concurrent FetchPage calls.
type Source interface {
	// Name returns a human-readable identifier for logging/metrics.
	Name() string

	// Open initializes the connection.
	Open(ctx context.Context) error

	// FetchPage returns page pageIndex of the records created after cursor,
	// PageSize records per page, ordered by created_at ascending. An empty
	// result means there is nothing at that offset.
	FetchPage(ctx context.Context, cursor Cursor, pageIndex int) ([]SummaryRecord, error)

	// Close releases any resources held by the source.
	Close() error
}

// DefaultTable is the row store table holding meeting summaries.
const DefaultTable = "meetingsummaries"

// row is a raw row as returned by the store, before validation.
type row struct {
	CreatedAt time.Time
	MeetingID string
	Summary   []byte
}

// toRecord validates a raw row at the ingestion boundary. The summary must
// decode to a mapping; its contents are otherwise opaque.
func (r row) toRecord() (SummaryRecord, error) {
	if r.MeetingID == "" {
		return SummaryRecord{}, errors.Newf(errors.ErrMalformedRecord, "row created at %s has no meeting_id", r.CreatedAt.Format(time.RFC3339Nano))
	}
	summary, err := document.Decode(r.Summary)
	if err != nil {
		return SummaryRecord{}, errors.WithCode(err, errors.ErrMalformedRecord, "decoding summary of meeting "+r.MeetingID)
	}
	if summary.Kind() != document.KindMapping {
		return SummaryRecord{}, errors.Newf(errors.ErrMalformedRecord, "summary of meeting %s is a %s, not an object", r.MeetingID, summary.Kind())
	}
	return SummaryRecord{
		MeetingID: r.MeetingID,
		CreatedAt: r.CreatedAt,
		Summary:   summary,
	}, nil
}
