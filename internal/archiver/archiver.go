// Package archiver runs the meeting summary export: it pages through the
// confirmed rows of the row store, sanitizes and partitions every record,
// and commits one archive file per meeting year.
package archiver

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/ingestion"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/acme-corp/meeting-archiver/internal/metrics"
	"github.com/acme-corp/meeting-archiver/internal/partition"
	"github.com/acme-corp/meeting-archiver/internal/storage"
	"github.com/acme-corp/meeting-archiver/internal/transform"
)

// State is the phase a run is in.
type State int32

const (
	Idle State = iota
	Fetching
	Draining
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ErrBusy is returned by Run while another run is in progress.
var ErrBusy = errors.New(errors.ErrUncoded, "an archive run is already in progress")

const (
	MessageSuccess = "Meeting summaries updated successfully"
	MessageFailure = "Failed to update meeting summaries"
	MessageBusy    = "Meeting summary update already in progress"
)

// Options tune an Archiver. Zero values select the defaults.
type Options struct {
	// Concurrency is the number of pages fetched per round.
	Concurrency int
	// Workers is the number of sanitizer workers.
	Workers int
	// CommitConcurrency is the number of year files committed at once.
	CommitConcurrency int
	// QuarantineMalformed skips records without a usable meeting date
	// instead of failing the run.
	QuarantineMalformed bool

	Metrics *metrics.Collector
	Logger  logger.Logger
}

// Archiver drives archive runs. Only one run executes at a time.
type Archiver struct {
	fetcher   *ingestion.Fetcher
	committer *storage.Committer
	metrics   *metrics.Collector
	log       logger.Logger

	workers           int
	commitConcurrency int
	quarantine        bool

	state   atomic.Int32
	running atomic.Bool
}

// New returns an Archiver reading from source and writing through
// committer. The source must already be open.
func New(source ingestion.Source, committer *storage.Committer, opts Options) *Archiver {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CommitConcurrency <= 0 {
		opts.CommitConcurrency = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	return &Archiver{
		fetcher:           ingestion.NewFetcher(source, opts.Concurrency),
		committer:         committer,
		metrics:           opts.Metrics,
		log:               opts.Logger,
		workers:           opts.Workers,
		commitConcurrency: opts.CommitConcurrency,
		quarantine:        opts.QuarantineMalformed,
	}
}

// State returns the phase of the current or last run.
func (a *Archiver) State() State { return State(a.state.Load()) }

func (a *Archiver) setState(s State) { a.state.Store(int32(s)) }

// Report summarizes one run.
type Report struct {
	RunID       string        `json:"runId"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Rounds      int           `json:"rounds"`
	Pages       int           `json:"pages"`
	Records     int           `json:"records"`
	Quarantined int           `json:"quarantined"`
	Partitions  int           `json:"partitions"`
	Years       []int         `json:"years"`
	Committed   []string      `json:"committed"`
	Failed      string        `json:"failed,omitempty"`
	DryRun      bool          `json:"dryRun,omitempty"`
}

// Run exports every confirmed record. It fetches rounds until one comes back
// empty, then commits each year's file. The first error stops the run;
// files committed before it stay committed.
func (a *Archiver) Run(ctx context.Context) (*Report, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer a.running.Store(false)

	report := &Report{
		RunID:   uuid.New().String(),
		Started: time.Now(),
		DryRun:  a.committer.DryRun,
	}
	log := a.log.WithPrefix("run=" + report.RunID + " ")

	err := a.run(ctx, log, report)
	report.Duration = time.Since(report.Started)
	if err != nil {
		a.setState(Failed)
		a.metrics.RunFinished("failure", time.Now())
		return report, err
	}
	a.setState(Done)
	a.metrics.RunFinished("success", time.Now())
	log.Infof("run done in %s: %d records, %d files committed", report.Duration.Round(time.Millisecond), report.Records, len(report.Committed))
	return report, nil
}

func (a *Archiver) run(ctx context.Context, log logger.Logger, report *Report) error {
	acc := partition.NewAccumulator()
	acc.Quarantine = a.quarantine

	if err := a.fetch(ctx, log, acc, report); err != nil {
		return err
	}

	for _, q := range acc.Quarantined() {
		log.Warnf("skipped meeting %s created %s: %v", q.MeetingID, q.CreatedAt.Format(time.RFC3339Nano), q.Err)
	}
	report.Quarantined = len(acc.Quarantined())
	report.Partitions = len(acc.Keys())
	report.Years = acc.Years()
	a.metrics.RecordQuarantined(int64(report.Quarantined))
	a.metrics.RecordPartitioned(int64(acc.Len()))

	return a.drain(ctx, log, acc, report)
}

// fetch runs rounds from the epoch until a round is empty. Every record of
// a round is sanitized and added to acc before the next round starts.
func (a *Archiver) fetch(ctx context.Context, log logger.Logger, acc *partition.Accumulator, report *Report) error {
	a.setState(Fetching)

	pipeline := transform.NewPipeline(a.workers, log)
	pipeline.AddStage("sanitize", transform.SanitizeTransform())

	var cursor ingestion.Cursor
	for {
		start := time.Now()
		round, err := a.fetcher.FetchRound(ctx, cursor)
		if err != nil {
			return err
		}
		a.metrics.TrackStageDuration("fetch", time.Since(start))
		a.metrics.RoundCompleted()
		a.metrics.PagesFetched(int64(len(round.Pages)))
		report.Rounds++
		report.Pages += len(round.Pages)

		if round.Empty() {
			log.Debugf("round %d after %s is empty", round.Number, cursor)
			return nil
		}

		records := round.Records()
		a.metrics.RecordRead(int64(len(records)))
		report.Records += len(records)

		start = time.Now()
		sanitized, errs := pipeline.Process(ctx, records)
		a.metrics.TrackStageDuration("sanitize", time.Since(start))
		if len(errs) > 0 {
			a.metrics.RecordFailed(int64(len(errs)))
			return errors.Wrapf(errs[0], "sanitizing round %d", round.Number)
		}

		for _, rec := range sanitized {
			if err := acc.Add(rec); err != nil {
				a.metrics.RecordFailed(1)
				return err
			}
		}

		cursor = round.Next()
		log.Debugf("round %d: %d records, cursor now %s", round.Number, len(records), cursor)
	}
}

// drain commits one file per accumulated year.
func (a *Archiver) drain(ctx context.Context, log logger.Logger, acc *partition.Accumulator, report *Report) error {
	a.setState(Draining)
	years := acc.Years()
	if len(years) == 0 {
		log.Infof("no confirmed summaries, nothing to commit")
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.commitConcurrency)
	for _, year := range years {
		if gctx.Err() != nil {
			break
		}
		year := year
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			start := time.Now()
			res, err := a.committer.Commit(gctx, year, acc.Groups(year))
			a.metrics.TrackStageDuration("commit", time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, errors.ErrConflict) {
					a.metrics.CommitConflict()
				} else {
					a.metrics.CommitFailed()
				}
				if report.Failed == "" {
					report.Failed = storage.PathFor(a.committer.Org(), year)
				}
				return errors.Wrapf(err, "committing %d", year)
			}
			a.metrics.PartitionCommitted(int64(res.Bytes))
			report.Committed = append(report.Committed, res.Path)
			return nil
		})
	}
	err := g.Wait()
	sort.Strings(report.Committed)
	return err
}

// Result is the outcome of a trigger, shaped for the invocation boundary.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`

	Report *Report `json:"-"`
}

// Trigger runs the export once and reports a generic outcome. Failure
// details are logged, not returned.
func (a *Archiver) Trigger(ctx context.Context) Result {
	report, err := a.Run(ctx)
	switch {
	case err == ErrBusy:
		return Result{StatusCode: http.StatusConflict, Error: MessageBusy}
	case err != nil:
		a.log.Errorf("archive run %s failed (%s): %v", report.RunID, errors.CodeOf(err), err)
		return Result{StatusCode: http.StatusInternalServerError, Error: MessageFailure, Report: report}
	}
	return Result{StatusCode: http.StatusOK, Message: MessageSuccess, Report: report}
}
