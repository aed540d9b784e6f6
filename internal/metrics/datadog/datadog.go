// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Flushing model:
//   - sync and API goroutines buffer metrics in-memory under a mutex
//   - a background loop submits the buffer on a ticker (default: once per minute)
//   - Close() stops the loop and submits one final time
//
// A one-shot sync invocation therefore still ships its metrics through the
// final flush on Close(), while the long-running API server produces a
// proper time series.
//
// Concurrency model:
//   - IncCounter/ObserveHistogram may be called at any time
//   - Flush snapshots+resets buffers under the mutex, then submits out-of-lock
package datadog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"appsync/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "appsync".
	JobName string

	// Env becomes tag "env:<env>". If empty, defaults to "env:unknown".
	Env string

	// Tags are extra Datadog tags (e.g. []string{"service:appsync"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production never sets them; unit tests use
	// them to avoid real network submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal surface needed to submit metrics.
//
// The Datadog SDK exposes a concrete *datadogV2.MetricsApi, which cannot be
// stubbed without real HTTP. Backend depends on this interface instead, so
// tests can use a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	stepCounts   map[string]float64   // step\x00status -> count
	stepDur      map[string][]float64 // step\x00status -> samples
	recordCounts map[string]float64   // kind -> count
	cohortCounts map[string]float64   // status -> count
	manualCounts map[string]float64   // op -> count

	airtableReqCounts map[string]float64   // status -> count
	apiReqDur         map[string][]float64 // method\x00path -> samples
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "appsync".
//
// Errors occur during Flush(), not here; client construction does not talk
// to the network.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "appsync"
	}
	env := opts.Env
	if env == "" {
		env = "unknown"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, "env:"+env, "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		stepCounts:        make(map[string]float64),
		stepDur:           make(map[string][]float64),
		recordCounts:      make(map[string]float64),
		cohortCounts:      make(map[string]float64),
		manualCounts:      make(map[string]float64),
		airtableReqCounts: make(map[string]float64),
		apiReqDur:         make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "sync_step_total":
		b.stepCounts[pairKey(labels["step"], labels["status"])] += delta

	case "sync_records_total":
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.recordCounts[kind] += delta

	case "sync_cohorts_total":
		b.cohortCounts[orUnknown(labels["status"])] += delta

	case "airtable_requests_total":
		b.airtableReqCounts[orUnknown(labels["status"])] += delta

	case "api_manual_records_total":
		b.manualCounts[orUnknown(labels["op"])] += delta

	default:
		// Unknown counters are dropped silently.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "sync_step_duration_seconds":
		k := pairKey(labels["step"], labels["status"])
		b.stepDur[k] = append(b.stepDur[k], value)

	case "api_request_duration_seconds":
		k := pairKey(labels["method"], labels["path"])
		b.apiReqDur[k] = append(b.apiReqDur[k], value)

	default:
		// Unknown histograms are dropped silently.
	}
}

// snapshot is the detached buffer state a single flush submits.
type snapshot struct {
	stepCounts   map[string]float64
	stepDur      map[string][]float64
	recordCounts map[string]float64
	cohortCounts map[string]float64
	manualCounts map[string]float64

	airtableReqCounts map[string]float64
	apiReqDur         map[string][]float64
}

// snapshotAndReset grabs current buffered metrics and resets the buffers.
// Takes the lock internally; callers must not hold it.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stepCounts:        b.stepCounts,
		stepDur:           b.stepDur,
		recordCounts:      b.recordCounts,
		cohortCounts:      b.cohortCounts,
		manualCounts:      b.manualCounts,
		airtableReqCounts: b.airtableReqCounts,
		apiReqDur:         b.apiReqDur,
	}

	b.stepCounts = make(map[string]float64)
	b.stepDur = make(map[string][]float64)
	b.recordCounts = make(map[string]float64)
	b.cohortCounts = make(map[string]float64)
	b.manualCounts = make(map[string]float64)
	b.airtableReqCounts = make(map[string]float64)
	b.apiReqDur = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.stepCounts) == 0 &&
		len(s.stepDur) == 0 &&
		len(s.recordCounts) == 0 &&
		len(s.cohortCounts) == 0 &&
		len(s.manualCounts) == 0 &&
		len(s.airtableReqCounts) == 0 &&
		len(s.apiReqDur) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Edge cases:
//   - Returns nil without submitting when there is nothing buffered.
//   - Buffers are reset even if submission fails; metrics delivery is
//     best-effort and never blocks the pipeline.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// Pure (no locks, no network, no clocks), so it is unit-tested directly.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 32)

	for k, v := range s.stepCounts {
		if v == 0 {
			continue
		}
		step, status := splitPairKey(k)
		tags := withTags(b.baseTags, "step:"+step, "status:"+status)
		series = append(series, countSeries("appsync.step.total", v, tags, nowUnix))
	}

	for kind, v := range s.recordCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, countSeries("appsync.records.total", v, tags, nowUnix))
	}

	for status, v := range s.cohortCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "status:"+status)
		series = append(series, countSeries("appsync.cohorts.total", v, tags, nowUnix))
	}

	for status, v := range s.airtableReqCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "status:"+status)
		series = append(series, countSeries("appsync.airtable.requests.total", v, tags, nowUnix))
	}

	for op, v := range s.manualCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "op:"+op)
		series = append(series, countSeries("appsync.api.manual_records.total", v, tags, nowUnix))
	}

	for k, samples := range s.stepDur {
		step, status := splitPairKey(k)
		tags := withTags(b.baseTags, "step:"+step, "status:"+status)
		addPercentiles(&series, "appsync.step.duration_seconds", samples, tags, nowUnix)
	}

	for k, samples := range s.apiReqDur {
		method, path := splitPairKey(k)
		tags := withTags(b.baseTags, "method:"+method, "path:"+path)
		addPercentiles(&series, "appsync.api.request_duration_seconds", samples, tags, nowUnix)
	}

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
//
// Edge cases:
//   - If samples is empty, it does nothing.
//   - It sorts a copy of samples (does not mutate input).
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (a, b string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:appsync".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
