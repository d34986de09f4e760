package progress

import (
	"testing"
	"time"

	"github.com/papersift/llm-engine/pkg/pool"
)

// collectSink records every published snapshot.
type collectSink struct {
	snaps []Snapshot
}

func (c *collectSink) Publish(s Snapshot) {
	c.snaps = append(c.snaps, s)
}

func (c *collectSink) last(t *testing.T) Snapshot {
	t.Helper()
	if len(c.snaps) == 0 {
		t.Fatal("no snapshots published")
	}
	return c.snaps[len(c.snaps)-1]
}

func staticQuotas() []pool.QuotaRow {
	return []pool.QuotaRow{{Label: "alpha", Status: "active", QuotaRemainingPct: 80}}
}

func TestReporter_ProgressAndETA(t *testing.T) {
	sink := &collectSink{}
	r := NewReporter(sink, staticQuotas, func() int { return 2 })

	now := time.Unix(1000, 0)
	r.SetClock(func() time.Time { return now })

	r.Begin(100, 5, "filtering papers")
	if got := sink.last(t); got.Progress != 0 || got.TotalBatches != 5 {
		t.Errorf("initial snapshot = %+v", got)
	}

	now = now.Add(10 * time.Second)
	r.BatchCompleted(20)

	snap := sink.last(t)
	if snap.Progress != 20 {
		t.Errorf("progress = %d, want 20", snap.Progress)
	}
	if snap.TimeElapsedMs != 10_000 {
		t.Errorf("elapsed = %d, want 10000", snap.TimeElapsedMs)
	}
	// 10s for 20 papers implies 40s for the remaining 80.
	if snap.EstimatedTimeRemainingMs != 40_000 {
		t.Errorf("eta = %d, want 40000", snap.EstimatedTimeRemainingMs)
	}
	if snap.HealthyKeysCount != 2 {
		t.Errorf("healthyKeysCount = %d, want 2", snap.HealthyKeysCount)
	}
	if len(snap.APIKeyQuotas) != 1 || snap.APIKeyQuotas[0].Label != "alpha" {
		t.Errorf("apiKeyQuotas = %+v", snap.APIKeyQuotas)
	}
}

func TestReporter_Counters(t *testing.T) {
	sink := &collectSink{}
	r := NewReporter(sink, nil, nil)
	r.Begin(10, 1, "run")

	r.Retry()
	r.Retry()
	r.Rotation()
	r.Fallback()

	snap := sink.last(t)
	if snap.RetryCount != 2 || snap.KeyRotations != 1 || snap.ModelFallbacks != 1 {
		t.Errorf("counters = retry %d rotations %d fallbacks %d",
			snap.RetryCount, snap.KeyRotations, snap.ModelFallbacks)
	}
}

func TestReporter_StreamLifecycle(t *testing.T) {
	sink := &collectSink{}
	r := NewReporter(sink, nil, nil)

	now := time.Unix(0, 0)
	r.SetClock(func() time.Time { return now })
	r.Begin(10, 1, "generate")

	r.StreamStarted("req-1", "alpha", "gemini-2.5-pro")
	now = now.Add(2 * time.Second)
	r.StreamChunk("req-1", 100)

	snap := sink.last(t)
	if len(snap.ActiveStreams) != 1 {
		t.Fatalf("activeStreams = %+v", snap.ActiveStreams)
	}
	st := snap.ActiveStreams[0]
	if st.TokensReceived != 100 {
		t.Errorf("tokensReceived = %d, want 100", st.TokensReceived)
	}
	if st.StreamSpeed != 50 {
		t.Errorf("streamSpeed = %v, want 50 tokens/s", st.StreamSpeed)
	}

	r.StreamEnded("req-1")
	// Final stream snapshot shows the row as done; subsequent snapshots omit it.
	if got := sink.last(t).ActiveStreams[0].Status; got != "done" {
		t.Errorf("final stream status = %q, want done", got)
	}
	r.BatchCompleted(5)
	if got := sink.last(t).ActiveStreams; got != nil {
		t.Errorf("activeStreams after end = %+v, want omitted", got)
	}
}

func TestReporter_PauseResumeTerminal(t *testing.T) {
	sink := &collectSink{}
	r := NewReporter(sink, nil, nil)
	r.Begin(10, 1, "run")

	r.Paused("waiting for a new API key")
	if got := sink.last(t).Status; got != StatusPaused {
		t.Errorf("status = %q, want paused", got)
	}

	r.Resumed()
	if got := sink.last(t).Status; got != StatusRunning {
		t.Errorf("status = %q, want running", got)
	}

	r.Completed("done")
	snap := sink.last(t)
	if snap.Status != StatusCompleted || snap.Phase != PhaseFinalizing {
		t.Errorf("terminal snapshot = %+v", snap)
	}
}

func TestReporter_StoppedRunKeepsPartialProgress(t *testing.T) {
	sink := &collectSink{}
	r := NewReporter(sink, nil, nil)
	r.Begin(60, 3, "run")
	r.BatchCompleted(20)
	r.Completed("stopped")

	snap := sink.last(t)
	if snap.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", snap.Status)
	}
	if snap.ProcessedPapers != 20 || snap.TotalPapers != 60 {
		t.Errorf("processed/total = %d/%d, want 20/60", snap.ProcessedPapers, snap.TotalPapers)
	}
}

func TestChannelSink_DropsOldestWhenFull(t *testing.T) {
	sink := NewChannelSink(2)
	sink.Publish(Snapshot{Progress: 1})
	sink.Publish(Snapshot{Progress: 2})
	sink.Publish(Snapshot{Progress: 3})

	first := <-sink.C()
	second := <-sink.C()
	if first.Progress == 1 {
		t.Error("oldest snapshot should have been dropped")
	}
	if second.Progress != 3 {
		t.Errorf("latest snapshot lost, got progress %d", second.Progress)
	}
}
