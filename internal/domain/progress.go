package domain

import "time"

// RunState is the orchestrator's per-run state machine
type RunState string

const (
	RunFetching     RunState = "fetching"
	RunTransforming RunState = "transforming"
	RunSyncing      RunState = "syncing"
	RunComplete     RunState = "complete"
	RunError        RunState = "error"
)

// SyncProgress is a batch-granularity progress snapshot emitted while the
// apply phase runs
type SyncProgress struct {
	Total              int           `json:"total"`
	Processed          int           `json:"processed"`
	Succeeded          int           `json:"succeeded"`
	Failed             int           `json:"failed"`
	BatchIndex         int           `json:"batch_index"`
	TotalBatches       int           `json:"total_batches"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// SyncEvent is published to observers as a run advances
type SyncEvent struct {
	TenantID string        `json:"tenant_id"`
	RunID    string        `json:"run_id"`
	State    RunState      `json:"state"`
	Progress *SyncProgress `json:"progress,omitempty"`
	At       time.Time     `json:"at"`
}
