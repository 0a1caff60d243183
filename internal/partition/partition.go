// Package partition groups sanitized summaries by year and meeting.
package partition

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/acme-corp/meeting-archiver/internal/document"
	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/ingestion"
)

// DatePath locates the meeting date inside a summary.
var DatePath = []string{"meetingInfo", "date"}

// Key identifies a partition.
type Key struct {
	Year      int
	MeetingID string
}

func (k Key) String() string {
	return strconv.Itoa(k.Year) + "/" + k.MeetingID
}

// Groups maps a meeting id to its summaries in arrival order.
type Groups map[string][]document.Value

// MeetingIDs returns the meeting ids in ascending order.
func (g Groups) MeetingIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Accumulator collects records of one run into partitions. It is not safe
// for concurrent use; the run loop owns it.
type Accumulator struct {
	years map[int]Groups

	// Quarantine makes Add skip records without a usable date instead of
	// failing. Skipped records are counted.
	Quarantine  bool
	quarantined []QuarantinedRecord
	added       int
}

// QuarantinedRecord is a record Add skipped.
type QuarantinedRecord struct {
	MeetingID string
	CreatedAt time.Time
	Err       error
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{years: make(map[int]Groups)}
}

// Add places rec, whose summary must already be sanitized, in the
// (year, meeting id) bucket derived from its meeting date.
func (a *Accumulator) Add(rec ingestion.SummaryRecord) error {
	year, err := Year(rec.Summary)
	if err != nil {
		err = errors.Wrapf(err, "meeting %s created %s", rec.MeetingID, rec.CreatedAt.Format(time.RFC3339Nano))
		if a.Quarantine {
			a.quarantined = append(a.quarantined, QuarantinedRecord{
				MeetingID: rec.MeetingID,
				CreatedAt: rec.CreatedAt,
				Err:       err,
			})
			return nil
		}
		return err
	}

	groups, ok := a.years[year]
	if !ok {
		groups = make(Groups)
		a.years[year] = groups
	}
	groups[rec.MeetingID] = append(groups[rec.MeetingID], rec.Summary)
	a.added++
	return nil
}

// Years returns the years with at least one record, ascending.
func (a *Accumulator) Years() []int {
	years := make([]int, 0, len(a.years))
	for y := range a.years {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Groups returns the meeting groups of year, or nil.
func (a *Accumulator) Groups(year int) Groups {
	return a.years[year]
}

// Keys returns every partition key, ordered by year then meeting id.
func (a *Accumulator) Keys() []Key {
	var keys []Key
	for _, y := range a.Years() {
		for _, id := range a.years[y].MeetingIDs() {
			keys = append(keys, Key{Year: y, MeetingID: id})
		}
	}
	return keys
}

// Len is the number of records added.
func (a *Accumulator) Len() int { return a.added }

// Quarantined returns the records skipped by Add.
func (a *Accumulator) Quarantined() []QuarantinedRecord { return a.quarantined }

// dateLayouts are tried in order when reading a meeting date.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Year returns the year of the meeting date in summary. The year is read as
// written, without shifting time zones.
func Year(summary document.Value) (int, error) {
	v, ok := summary.Lookup(DatePath...)
	if !ok {
		return 0, errors.New(errors.ErrMalformedRecord, "summary has no "+strings.Join(DatePath, "."))
	}
	s, ok := v.AsString()
	if !ok {
		return 0, errors.Newf(errors.ErrMalformedRecord, "%s is a %s, not a string", strings.Join(DatePath, "."), v.Kind())
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), nil
		}
	}
	return 0, errors.Newf(errors.ErrMalformedRecord, "unparsable meeting date %q", s)
}
