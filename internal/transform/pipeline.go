package transform

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme-corp/meeting-archiver/internal/ingestion"
	"github.com/acme-corp/meeting-archiver/internal/logger"
)

// Transformer applies a transformation function to records.
type Transformer struct {
	name string
	fn   TransformFunc
}

// TransformFunc is the signature for any transformation operation.
// It receives a record and returns a modified record, or an error.
type TransformFunc func(ctx context.Context, record ingestion.SummaryRecord) (ingestion.SummaryRecord, error)

// Pipeline chains multiple transformers together. Stages run in the order
// they were added.
type Pipeline struct {
	stages     []*Transformer
	workers    int
	errHandler func(error, ingestion.SummaryRecord)
	mu         sync.RWMutex
}

// NewPipeline creates a transform pipeline with the given worker count.
func NewPipeline(workers int, log logger.Logger) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Pipeline{
		workers: workers,
		errHandler: func(err error, r ingestion.SummaryRecord) {
			log.Warnf("transform error on meeting %s (created %s): %v", r.MeetingID, r.CreatedAt, err)
		},
	}
}

// AddStage appends a named transformer to the pipeline.
func (p *Pipeline) AddStage(name string, fn TransformFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, &Transformer{name: name, fn: fn})
}

// SetErrorHandler sets a custom error handler for failed transformations.
func (p *Pipeline) SetErrorHandler(handler func(error, ingestion.SummaryRecord)) {
	p.errHandler = handler
}

// Process applies all stages to records using a fan-out/fan-in worker pool:
//
//	            ┌──► worker 1 ──┐
//	input ──►───┼──► worker 2 ──┼───► output
//	            └──► worker 3 ──┘
//
// Each worker runs a record through every stage. The returned records keep
// the input order; records whose stages failed are left out and their
// errors returned.
func (p *Pipeline) Process(ctx context.Context, records []ingestion.SummaryRecord) ([]ingestion.SummaryRecord, []error) {
	p.mu.RLock()
	stages := make([]*Transformer, len(p.stages))
	copy(stages, p.stages)
	p.mu.RUnlock()

	if len(stages) == 0 || len(records) == 0 {
		return records, nil
	}

	type item struct {
		record ingestion.SummaryRecord
		index  int
	}
	type result struct {
		item
		err error
	}

	input := make(chan item, len(records))
	output := make(chan result, len(records))

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range input {
				rec := it.record
				var err error
				for _, stage := range stages {
					if err = ctx.Err(); err != nil {
						break
					}
					rec, err = stage.fn(ctx, rec)
					if err != nil {
						err = fmt.Errorf("stage %q: %w", stage.name, err)
						break
					}
				}
				output <- result{item: item{record: rec, index: it.index}, err: err}
			}
		}()
	}

	for i, rec := range records {
		input <- item{record: rec, index: i}
	}
	close(input)

	go func() {
		wg.Wait()
		close(output)
	}()

	transformed := make([]ingestion.SummaryRecord, len(records))
	ok := make([]bool, len(records))
	var errs []error
	for res := range output {
		if res.err != nil {
			errs = append(errs, res.err)
			p.errHandler(res.err, records[res.index])
			continue
		}
		transformed[res.index] = res.record
		ok[res.index] = true
	}

	clean := make([]ingestion.SummaryRecord, 0, len(records))
	for i, rec := range transformed {
		if ok[i] {
			clean = append(clean, rec)
		}
	}
	return clean, errs
}
