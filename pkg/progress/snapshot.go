package progress

import (
	"github.com/papersift/llm-engine/pkg/pool"
)

// Status is the run-level state reported in a snapshot.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Phase is the filtering pass currently executing.
type Phase string

const (
	PhaseInclusion  Phase = "inclusion"
	PhaseExclusion  Phase = "exclusion"
	PhaseFinalizing Phase = "finalizing"
)

// Stream is an observational row for one in-flight streaming call.
type Stream struct {
	RequestID      string  `json:"requestId"`
	KeyLabel       string  `json:"keyLabel"`
	ModelName      string  `json:"modelName"`
	TokensReceived int64   `json:"tokensReceived"`
	StreamSpeed    float64 `json:"streamSpeed"` // tokens per second
	Status         string  `json:"status"`      // "streaming" or "done"
}

// Snapshot is an immutable status report pushed to the sink after every
// meaningful engine event. Consumers must not retain references into it
// across events; each emission is a fresh value.
type Snapshot struct {
	Status      Status `json:"status"`
	CurrentTask string `json:"currentTask"`
	Progress    int    `json:"progress"` // 0-100
	Phase       Phase  `json:"phase"`

	TotalPapers     int `json:"totalPapers"`
	ProcessedPapers int `json:"processedPapers"`
	CurrentBatch    int `json:"currentBatch"`
	TotalBatches    int `json:"totalBatches"`

	TimeElapsedMs            int64 `json:"timeElapsedMs"`
	EstimatedTimeRemainingMs int64 `json:"estimatedTimeRemainingMs"`

	CurrentModel     string `json:"currentModel"`
	HealthyKeysCount int    `json:"healthyKeysCount"`

	RetryCount     int64 `json:"retryCount"`
	KeyRotations   int64 `json:"keyRotations"`
	ModelFallbacks int64 `json:"modelFallbacks"`

	APIKeyQuotas []pool.QuotaRow `json:"apiKeyQuotas"`

	// ActiveStreams is omitted entirely for non-streaming runs.
	ActiveStreams []Stream `json:"activeStreams,omitempty"`

	// Error carries the terminal error message for error snapshots.
	Error string `json:"error,omitempty"`
}
