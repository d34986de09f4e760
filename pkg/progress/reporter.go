package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/papersift/llm-engine/pkg/pool"
)

var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_engine_retries_total",
		Help: "Total number of batch call retries",
	})
	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_engine_key_rotations_total",
		Help: "Total number of credential rotations",
	})
	fallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_engine_model_fallbacks_total",
		Help: "Total number of model fallbacks",
	})
)

// Reporter assembles snapshots from engine events and hands each one to the
// sink synchronously. It does no buffering or fan-out of its own.
type Reporter struct {
	sink        Sink
	quotas      func() []pool.QuotaRow
	healthyKeys func() int
	clock       func() time.Time

	mu              sync.Mutex
	start           time.Time
	status          Status
	phase           Phase
	task            string
	totalPapers     int
	processedPapers int
	currentBatch    int
	totalBatches    int
	currentModel    string
	retries         int64
	rotations       int64
	fallbacks       int64
	errMsg          string
	streams         map[string]*streamState
}

type streamState struct {
	row     Stream
	started time.Time
}

// NewReporter creates a reporter. quotas and healthyKeys are read on every
// emission; pass the pool's Quotas and HealthyKeyCount methods.
func NewReporter(sink Sink, quotas func() []pool.QuotaRow, healthyKeys func() int) *Reporter {
	if sink == nil {
		sink = SinkFunc(func(Snapshot) {})
	}
	return &Reporter{
		sink:        sink,
		quotas:      quotas,
		healthyKeys: healthyKeys,
		clock:       time.Now,
		status:      StatusRunning,
		streams:     make(map[string]*streamState),
	}
}

// SetClock replaces the time source. Test hook.
func (r *Reporter) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// Begin records run totals and emits the initial snapshot.
func (r *Reporter) Begin(totalPapers, totalBatches int, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = r.clock()
	r.status = StatusRunning
	r.phase = PhaseInclusion
	r.task = task
	r.totalPapers = totalPapers
	r.totalBatches = totalBatches
	r.processedPapers = 0
	r.currentBatch = 0
	r.emitLocked()
}

// SetPhase switches the reported filter pass.
func (r *Reporter) SetPhase(phase Phase, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.task = task
	r.emitLocked()
}

// BatchStarted reports a batch being dispatched on the given model.
func (r *Reporter) BatchStarted(batch int, model, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentBatch = batch
	r.currentModel = model
	r.task = task
	r.emitLocked()
}

// BatchCompleted adds a completed batch's papers to the processed count.
func (r *Reporter) BatchCompleted(papers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processedPapers += papers
	r.emitLocked()
}

// Retry reports one retry attempt.
func (r *Reporter) Retry() {
	retriesTotal.Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
	r.emitLocked()
}

// Rotation reports a credential rotation.
func (r *Reporter) Rotation() {
	rotationsTotal.Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotations++
	r.emitLocked()
}

// Fallback reports a model fallback.
func (r *Reporter) Fallback() {
	fallbacksTotal.Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
	r.emitLocked()
}

// StreamStarted registers an observational token stream.
func (r *Reporter) StreamStarted(requestID, keyLabel, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[requestID] = &streamState{
		row: Stream{
			RequestID: requestID,
			KeyLabel:  keyLabel,
			ModelName: model,
			Status:    "streaming",
		},
		started: r.clock(),
	}
	r.emitLocked()
}

// StreamChunk adds received tokens to a stream row.
func (r *Reporter) StreamChunk(requestID string, tokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[requestID]
	if !ok {
		return
	}
	st.row.TokensReceived += tokens
	if elapsed := r.clock().Sub(st.started).Seconds(); elapsed > 0 {
		st.row.StreamSpeed = float64(st.row.TokensReceived) / elapsed
	}
	r.emitLocked()
}

// StreamEnded removes a stream row after emitting its final state.
func (r *Reporter) StreamEnded(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.streams[requestID]; ok {
		st.row.Status = "done"
		r.emitLocked()
		delete(r.streams, requestID)
	}
}

// Paused reports the run suspended waiting on operator input.
func (r *Reporter) Paused(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusPaused
	r.task = task
	r.emitLocked()
}

// Resumed reports the run continuing after a pause.
func (r *Reporter) Resumed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusRunning
	r.emitLocked()
}

// Completed emits the terminal success snapshot. Progress is not forced to
// 100: a stopped run completes with processedPapers < totalPapers.
func (r *Reporter) Completed(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusCompleted
	r.phase = PhaseFinalizing
	r.task = task
	r.emitLocked()
}

// Errored emits a terminal or recoverable error snapshot.
func (r *Reporter) Errored(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusError
	r.errMsg = msg
	r.emitLocked()
}

// Snapshot returns the current state without publishing.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reporter) emitLocked() {
	r.sink.Publish(r.snapshotLocked())
}

func (r *Reporter) snapshotLocked() Snapshot {
	now := r.clock()
	elapsed := int64(0)
	if !r.start.IsZero() {
		elapsed = now.Sub(r.start).Milliseconds()
	}

	pct := 0
	var remaining int64
	if r.totalPapers > 0 {
		pct = r.processedPapers * 100 / r.totalPapers
		if r.processedPapers > 0 {
			perPaper := float64(elapsed) / float64(r.processedPapers)
			remaining = int64(perPaper * float64(r.totalPapers-r.processedPapers))
		}
	}

	snap := Snapshot{
		Status:                   r.status,
		CurrentTask:              r.task,
		Progress:                 pct,
		Phase:                    r.phase,
		TotalPapers:              r.totalPapers,
		ProcessedPapers:          r.processedPapers,
		CurrentBatch:             r.currentBatch,
		TotalBatches:             r.totalBatches,
		TimeElapsedMs:            elapsed,
		EstimatedTimeRemainingMs: remaining,
		CurrentModel:             r.currentModel,
		RetryCount:               r.retries,
		KeyRotations:             r.rotations,
		ModelFallbacks:           r.fallbacks,
		Error:                    r.errMsg,
	}
	if r.quotas != nil {
		snap.APIKeyQuotas = r.quotas()
	}
	if r.healthyKeys != nil {
		snap.HealthyKeysCount = r.healthyKeys()
	}
	if len(r.streams) > 0 {
		rows := make([]Stream, 0, len(r.streams))
		for _, st := range r.streams {
			rows = append(rows, st.row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].RequestID < rows[j].RequestID })
		snap.ActiveStreams = rows
	}
	return snap
}
