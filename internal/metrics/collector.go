package metrics

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "archiver"

// Collector gathers run metrics using atomic counters for lock-free
// concurrent updates, and mirrors them into Prometheus collectors on its
// own registry.
type Collector struct {
	rounds              atomic.Int64
	pagesFetched        atomic.Int64
	recordsRead         atomic.Int64
	recordsPartitioned  atomic.Int64
	recordsQuarantined  atomic.Int64
	recordsFailed       atomic.Int64
	partitionsCommitted atomic.Int64
	commitConflicts     atomic.Int64
	bytesCommitted      atomic.Int64

	stageDurations map[string]*durationTracker
	mu             sync.RWMutex

	startTime time.Time

	registry    *prometheus.Registry
	promRecords *prometheus.CounterVec
	promPages   prometheus.Counter
	promRounds  prometheus.Counter
	promCommits *prometheus.CounterVec
	promBytes   prometheus.Counter
	promStage   *prometheus.HistogramVec
	promLastRun *prometheus.GaugeVec
}

type durationTracker struct {
	total time.Duration
	count int64
	mu    sync.Mutex
}

func NewCollector() *Collector {
	c := &Collector{
		stageDurations: make(map[string]*durationTracker),
		startTime:      time.Now(),
		registry:       prometheus.NewRegistry(),
		promRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Summary records by outcome.",
		}, []string{"outcome"}),
		promPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Page requests answered by the row store.",
		}),
		promRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Fetch rounds completed.",
		}),
		promCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Archive file commits by result.",
		}, []string{"result"}),
		promBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_bytes_total",
			Help:      "Bytes written to archive files.",
		}),
		promStage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"stage"}),
		promLastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run by status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(c.promRecords, c.promPages, c.promRounds, c.promCommits, c.promBytes, c.promStage, c.promLastRun)
	return c
}

// Registry is the Prometheus registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RoundCompleted() {
	c.rounds.Add(1)
	c.promRounds.Inc()
}

func (c *Collector) PagesFetched(n int64) {
	c.pagesFetched.Add(n)
	c.promPages.Add(float64(n))
}

func (c *Collector) RecordRead(n int64) {
	c.recordsRead.Add(n)
	c.promRecords.WithLabelValues("read").Add(float64(n))
}

func (c *Collector) RecordPartitioned(n int64) {
	c.recordsPartitioned.Add(n)
	c.promRecords.WithLabelValues("partitioned").Add(float64(n))
}

func (c *Collector) RecordQuarantined(n int64) {
	c.recordsQuarantined.Add(n)
	c.promRecords.WithLabelValues("quarantined").Add(float64(n))
}

func (c *Collector) RecordFailed(n int64) {
	c.recordsFailed.Add(n)
	c.promRecords.WithLabelValues("failed").Add(float64(n))
}

func (c *Collector) PartitionCommitted(bytes int64) {
	c.partitionsCommitted.Add(1)
	c.bytesCommitted.Add(bytes)
	c.promCommits.WithLabelValues("ok").Inc()
	c.promBytes.Add(float64(bytes))
}

func (c *Collector) CommitConflict() {
	c.commitConflicts.Add(1)
	c.promCommits.WithLabelValues("conflict").Inc()
}

func (c *Collector) CommitFailed() {
	c.promCommits.WithLabelValues("error").Inc()
}

// RunFinished stamps the end of a run with its status ("success" or
// "failure").
func (c *Collector) RunFinished(status string, at time.Time) {
	c.promLastRun.WithLabelValues(status).Set(float64(at.Unix()))
}

// TrackStageDuration records how long a named stage took.
func (c *Collector) TrackStageDuration(stage string, d time.Duration) {
	c.promStage.WithLabelValues(stage).Observe(d.Seconds())

	c.mu.RLock()
	tracker, ok := c.stageDurations[stage]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		// Double-check after acquiring write lock
		if tracker, ok = c.stageDurations[stage]; !ok {
			tracker = &durationTracker{}
			c.stageDurations[stage] = tracker
		}
		c.mu.Unlock()
	}

	tracker.mu.Lock()
	tracker.total += d
	tracker.count++
	tracker.mu.Unlock()
}

// Snapshot represents a point-in-time view of run metrics.
type Snapshot struct {
	Rounds              int64             `json:"rounds"`
	PagesFetched        int64             `json:"pages_fetched"`
	RecordsRead         int64             `json:"records_read"`
	RecordsPartitioned  int64             `json:"records_partitioned"`
	RecordsQuarantined  int64             `json:"records_quarantined"`
	RecordsFailed       int64             `json:"records_failed"`
	PartitionsCommitted int64             `json:"partitions_committed"`
	CommitConflicts     int64             `json:"commit_conflicts"`
	BytesCommitted      int64             `json:"bytes_committed"`
	Uptime              string            `json:"uptime"`
	Throughput          float64           `json:"records_per_second"`
	AvgStageDuration    map[string]string `json:"avg_stage_duration_ms"`
}

// Snapshot returns a consistent view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	read := c.recordsRead.Load()
	elapsed := time.Since(c.startTime)

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(read) / elapsed.Seconds()
	}

	avgDurations := make(map[string]string)
	c.mu.RLock()
	for stage, tracker := range c.stageDurations {
		tracker.mu.Lock()
		if tracker.count > 0 {
			avg := tracker.total / time.Duration(tracker.count)
			avgDurations[stage] = fmt.Sprintf("%.2fms", float64(avg.Microseconds())/1000)
		}
		tracker.mu.Unlock()
	}
	c.mu.RUnlock()

	return Snapshot{
		Rounds:              c.rounds.Load(),
		PagesFetched:        c.pagesFetched.Load(),
		RecordsRead:         read,
		RecordsPartitioned:  c.recordsPartitioned.Load(),
		RecordsQuarantined:  c.recordsQuarantined.Load(),
		RecordsFailed:       c.recordsFailed.Load(),
		PartitionsCommitted: c.partitionsCommitted.Load(),
		CommitConflicts:     c.commitConflicts.Load(),
		BytesCommitted:      c.bytesCommitted.Load(),
		Uptime:              elapsed.Round(time.Second).String(),
		Throughput:          throughput,
		AvgStageDuration:    avgDurations,
	}
}

// JSON returns the snapshot as formatted JSON.
func (c *Collector) JSON() (string, error) {
	snap := c.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Push sends the registry to a Prometheus Pushgateway under job.
func (c *Collector) Push(gatewayURL, job string) error {
	return push.New(gatewayURL, job).Gatherer(c.registry).Push()
}
