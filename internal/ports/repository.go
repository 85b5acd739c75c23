package ports

import (
	"context"

	"meridian-core-pos-layer/internal/domain"
)

// IntegrationRepository defines persistence for tenant POS integrations
type IntegrationRepository interface {
	// Upsert creates or replaces the integration for its (tenant, vendor) pair
	Upsert(ctx context.Context, integration *domain.Integration) error

	// GetEnabledByTenant retrieves the single enabled integration for a tenant,
	// or domain.ErrIntegrationNotFound
	GetEnabledByTenant(ctx context.Context, tenantID string) (*domain.Integration, error)

	// Update persists changed fields of an existing integration
	Update(ctx context.Context, integration *domain.Integration) error

	// Disable soft-disables the integration, recording the failure reason.
	// The row is retained for audit.
	Disable(ctx context.Context, tenantID string, reason string) error
}

// MappingRepository defines persistence for identity mappings
type MappingRepository interface {
	// Create upserts on both unique pairs: a retried create for the same
	// (integration, remote object) or (tenant, local item) is an update,
	// never a duplicate row
	Create(ctx context.Context, mapping *domain.IdentityMapping) (*domain.IdentityMapping, error)

	GetByLocalID(ctx context.Context, tenantID, localItemID string) (*domain.IdentityMapping, error)
	GetByRemoteID(ctx context.Context, integrationID, remoteObjectID string) (*domain.IdentityMapping, error)
	ListByIntegration(ctx context.Context, integrationID string) ([]*domain.IdentityMapping, error)

	// UpdateSyncTimes bumps the last-local/last-remote update timestamps
	UpdateSyncTimes(ctx context.Context, mappingID string, mapping *domain.IdentityMapping) error

	SetStatus(ctx context.Context, mappingID string, status domain.MappingStatus) error
	Delete(ctx context.Context, mappingID string) error
}

// SyncLogRepository defines the append-only sync audit store
type SyncLogRepository interface {
	// Create inserts a new pending entry
	Create(ctx context.Context, entry *domain.SyncLogEntry) error

	// Finalize completes a pending entry exactly once; finalizing an entry
	// that is no longer pending returns domain.ErrLogFinalized
	Finalize(ctx context.Context, entry *domain.SyncLogEntry) error

	GetByTenant(ctx context.Context, tenantID string, limit int64) ([]*domain.SyncLogEntry, error)
	GetByStatus(ctx context.Context, tenantID string, status domain.SyncStatus, limit int64) ([]*domain.SyncLogEntry, error)
}

// ReviewRepository persists conflicts awaiting manual review
type ReviewRepository interface {
	// Upsert stores a review keyed by (tenant, mapping, field); re-queueing
	// the same conflict refreshes the existing row
	Upsert(ctx context.Context, review *domain.ConflictReview) error

	ListOpen(ctx context.Context, tenantID string) ([]*domain.ConflictReview, error)
	Resolve(ctx context.Context, reviewID string) error
	Clear(ctx context.Context, tenantID string) error
}
