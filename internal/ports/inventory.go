package ports

import (
	"context"

	"meridian-core-pos-layer/internal/domain"
)

// InventoryStore is the platform's own inventory storage, consumed as a
// simple keyed read/write store. The CRUD surface around it is owned by
// the rest of the application.
type InventoryStore interface {
	Get(ctx context.Context, tenantID, itemID string) (*domain.LocalItem, error)
	Create(ctx context.Context, item *domain.LocalItem) (*domain.LocalItem, error)
	Update(ctx context.Context, item *domain.LocalItem) error
	List(ctx context.Context, tenantID string) ([]*domain.LocalItem, error)
}

// EncryptionService encrypts credentials at rest
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventPublisher fans sync run events out to observers. Publishing never
// blocks the run.
type EventPublisher interface {
	Publish(event *domain.SyncEvent)
}

// RunGuard serializes sync runs per (tenant, integration). Two concurrent
// runs for the same integration are never coordinated by the engine itself;
// callers go through this guard instead.
type RunGuard interface {
	// Acquire takes the guard, returning domain.ErrSyncInProgress when a run
	// is already active. The returned release func is always safe to call.
	Acquire(ctx context.Context, tenantID, integrationID string) (release func(), err error)
}
