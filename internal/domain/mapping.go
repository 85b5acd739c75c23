package domain

import "time"

// MappingStatus is the sync state of one identity mapping
type MappingStatus string

const (
	MappingActive MappingStatus = "active"
	MappingPaused MappingStatus = "paused"
	MappingError  MappingStatus = "error"
)

// SyncDirection controls which side a mapping is allowed to flow towards
type SyncDirection string

const (
	DirectionToRemote      SyncDirection = "to_remote"
	DirectionFromRemote    SyncDirection = "from_remote"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// IdentityMapping is the durable correspondence between one local inventory
// item and one remote catalog object. It is the idempotency key for sync:
// a re-sync of an already-mapped item is an update, never a duplicate create.
// Unique per (tenant, local item) and per (integration, remote object).
type IdentityMapping struct {
	ID                string        `json:"id" bson:"_id"`
	TenantID          string        `json:"tenant_id" bson:"tenant_id"`
	IntegrationID     string        `json:"integration_id" bson:"integration_id"`
	LocalItemID       string        `json:"local_item_id" bson:"local_item_id"`
	RemoteObjectID    string        `json:"remote_object_id" bson:"remote_object_id"`
	RemoteVariationID string        `json:"remote_variation_id,omitempty" bson:"remote_variation_id,omitempty"`
	SyncStatus        MappingStatus `json:"sync_status" bson:"sync_status"`
	Direction         SyncDirection `json:"direction" bson:"direction"`
	LastLocalUpdate   time.Time     `json:"last_local_update" bson:"last_local_update"`
	LastRemoteUpdate  time.Time     `json:"last_remote_update" bson:"last_remote_update"`
	ConflictPolicy    string        `json:"conflict_policy,omitempty" bson:"conflict_policy,omitempty"`
	CreatedAt         time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" bson:"updated_at"`
}
