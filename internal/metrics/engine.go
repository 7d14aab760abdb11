package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine aggregates request latencies into HDR histograms and keeps a
// time series of one bucket per interval.
//
// Counters use atomics, histograms are mutex protected and the bucket
// emitter runs in its own goroutine until Stop.
type Engine struct {
	// 1µs to 1h, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	stepHists   map[string]*hdrhistogram.Histogram
	stepHistsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeUsers    atomic.Int32
	startedUsers   atomic.Int64
	completedUsers atomic.Int64
	failedUsers    atomic.Int64
	abortedUsers   atomic.Int64

	bucketStore *TimeBucketStore

	phaseMu      sync.RWMutex
	currentPhase string
	phaseHistory []PhaseChange

	startTime time.Time

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the time-series resolution (default 1s)
	BucketInterval time.Duration

	// MaxBuckets bounds the ring buffer (default 3600)
	MaxBuckets int

	// Histogram range in microseconds and precision
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when an injection phase started.
type PhaseChange struct {
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		stepHists:     make(map[string]*hdrhistogram.Histogram),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  "init",
		startTime:     time.Now(),
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// RecordRequest implements Sink. Requests that were never sent count
// toward the totals but stay out of the latency histograms.
func (e *Engine) RecordRequest(r RequestRecord) {
	if !r.NotSent {
		e.recordLatency(r)
	}

	ok := r.Status == StatusOK
	e.totalRequests.Add(1)
	e.totalBytes.Add(r.Bytes)
	if ok {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
	e.bucketStore.RecordRequest(ok)
}

func (e *Engine) recordLatency(r RequestRecord) {
	micros := r.Latency.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if r.Step != "" {
		// RecordValue is not safe for concurrent use
		e.stepHistsMu.Lock()
		hist, ok := e.stepHists[r.Step]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.stepHists[r.Step] = hist
		}
		_ = hist.RecordValue(micros)
		e.stepHistsMu.Unlock()
	}
}

// RecordUser implements Sink.
func (e *Engine) RecordUser(u UserRecord) {
	switch u.Event {
	case UserStarted:
		e.startedUsers.Add(1)
		e.activeUsers.Add(1)
		return
	case UserCompleted:
		e.completedUsers.Add(1)
	case UserFailed:
		e.failedUsers.Add(1)
	case UserAborted:
		e.abortedUsers.Add(1)
	}
	e.activeUsers.Add(-1)
}

// SetPhase marks the start of an injection phase.
func (e *Engine) SetPhase(phase string) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

func (e *Engine) Phase() string {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// PhaseHistory returns a copy of the recorded phase changes.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return append([]PhaseChange{}, e.phaseHistory...)
}

func (e *Engine) ActiveUsers() int { return int(e.activeUsers.Load()) }

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.latencyHistMu.Lock()
	p50 := micros(e.latencyHist.ValueAtQuantile(50))
	p95 := micros(e.latencyHist.ValueAtQuantile(95))
	p99 := micros(e.latencyHist.ValueAtQuantile(99))
	e.latencyHistMu.Unlock()

	e.bucketStore.CreateBucket(
		e.totalRequests.Load(), e.failedRequests.Load(),
		p50, p95, p99, e.ActiveUsers(), e.Phase(),
	)
}

// TimeSeries returns the emitted buckets.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// Snapshot returns a point-in-time view of every counter.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		Users: UserCounts{
			Started:   e.startedUsers.Load(),
			Completed: e.completedUsers.Load(),
			Failed:    e.failedUsers.Load(),
			Aborted:   e.abortedUsers.Load(),
			Active:    e.ActiveUsers(),
		},
		CurrentPhase: e.Phase(),
		Elapsed:      elapsed,
		StartTime:    e.startTime,
		Timestamp:    time.Now(),
	}
}

// StepStats returns latency statistics per step name, sorted by name.
func (e *Engine) StepStats() []StepStats {
	e.stepHistsMu.Lock()
	defer e.stepHistsMu.Unlock()

	out := make([]StepStats, 0, len(e.stepHists))
	for name, hist := range e.stepHists {
		out = append(out, StepStats{Name: name, Latency: statsOf(hist)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop halts the emitter and emits a final bucket. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

func micros(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	Users           UserCounts    `json:"users"`
	CurrentPhase    string        `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// UserCounts tallies virtual user lifecycles.
type UserCounts struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Aborted   int64 `json:"aborted"`
	Active    int   `json:"active"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// StepStats is the latency breakdown of one step name.
type StepStats struct {
	Name    string       `json:"name"`
	Latency LatencyStats `json:"latency"`
}
