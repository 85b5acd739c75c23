package domain

import "time"

// SyncType classifies what kind of data a sync run moved
type SyncType string

const (
	SyncTypeCatalog   SyncType = "catalog"
	SyncTypeInventory SyncType = "inventory"
	SyncTypeWebhook   SyncType = "webhook"
	SyncTypeManual    SyncType = "manual"
)

// SyncOperation is the operation a log entry records
type SyncOperation string

const (
	OpCreate SyncOperation = "create"
	OpUpdate SyncOperation = "update"
	OpDelete SyncOperation = "delete"
	OpSync   SyncOperation = "sync"
)

// SyncStatus is the lifecycle state of a log entry
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
	SyncSkipped SyncStatus = "skipped"
)

// ItemError is one failed item inside a sync run. Item failures are collected
// into the run's log entry, not written as separate rows.
type ItemError struct {
	ItemID   string `json:"item_id" bson:"item_id"`
	ItemName string `json:"item_name,omitempty" bson:"item_name,omitempty"`
	Error    string `json:"error" bson:"error"`
	Code     string `json:"code,omitempty" bson:"code,omitempty"`
}

// SyncLogEntry is the immutable audit record of one attempted sync operation.
// It is created with status pending before any work starts and finalized
// exactly once; the store rejects a second finalization.
type SyncLogEntry struct {
	ID              string         `json:"id" bson:"_id"`
	TenantID        string         `json:"tenant_id" bson:"tenant_id"`
	IntegrationID   string         `json:"integration_id" bson:"integration_id"`
	MappingID       string         `json:"mapping_id,omitempty" bson:"mapping_id,omitempty"`
	SyncType        SyncType       `json:"sync_type" bson:"sync_type"`
	Direction       SyncDirection  `json:"direction" bson:"direction"`
	Operation       SyncOperation  `json:"operation" bson:"operation"`
	Status          SyncStatus     `json:"status" bson:"status"`
	ErrorCode       string         `json:"error_code,omitempty" bson:"error_code,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty" bson:"error_message,omitempty"`
	RequestPayload  map[string]any `json:"request_payload,omitempty" bson:"request_payload,omitempty"`
	ResponsePayload map[string]any `json:"response_payload,omitempty" bson:"response_payload,omitempty"`
	ItemsAffected   int            `json:"items_affected" bson:"items_affected"`
	DurationMillis  int64          `json:"duration_ms" bson:"duration_ms"`
	DryRun          bool           `json:"dry_run" bson:"dry_run"`
	StartedAt       time.Time      `json:"started_at" bson:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// Finalized reports whether the entry has already been completed
func (e *SyncLogEntry) Finalized() bool {
	return e.Status != SyncPending
}

// SyncResult is the structured outcome returned to callers of the sync
// operations. Expected failure modes are carried here, not as errors.
type SyncResult struct {
	Success        bool          `json:"success"`
	ItemsProcessed int           `json:"items_processed"`
	ItemsSucceeded int           `json:"items_succeeded"`
	ItemsFailed    int           `json:"items_failed"`
	Errors         []ItemError   `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
	SyncLogID      string        `json:"sync_log_id"`
}
