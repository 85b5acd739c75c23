package repository

import (
	"context"
	"fmt"
	"time"

	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/ports"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSyncLogRepository implements the append-only sync audit store.
// Entries are inserted pending and completed with a status-guarded update so
// a finalized entry can never be mutated again.
type MongoSyncLogRepository struct {
	collection *mongo.Collection
}

// NewMongoSyncLogRepository creates a new MongoDB sync log repository
func NewMongoSyncLogRepository(db *mongo.Database) ports.SyncLogRepository {
	r := &MongoSyncLogRepository{
		collection: db.Collection("sync_logs"),
	}

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "started_at", Value: -1}},
	}
	_, _ = r.collection.Indexes().CreateOne(context.Background(), indexModel)

	return r
}

// Create inserts a new pending entry
func (r *MongoSyncLogRepository) Create(ctx context.Context, entry *domain.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = domain.SyncPending
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to create sync log entry: %w", err)
	}
	return nil
}

// Finalize completes a pending entry exactly once
func (r *MongoSyncLogRepository) Finalize(ctx context.Context, entry *domain.SyncLogEntry) error {
	if entry.Status == domain.SyncPending {
		return fmt.Errorf("cannot finalize entry %s with status pending", entry.ID)
	}

	now := time.Now()
	entry.CompletedAt = &now

	filter := bson.M{"_id": entry.ID, "status": string(domain.SyncPending)}
	update := bson.M{"$set": bson.M{
		"status":           string(entry.Status),
		"error_code":       entry.ErrorCode,
		"error_message":    entry.ErrorMessage,
		"response_payload": entry.ResponsePayload,
		"items_affected":   entry.ItemsAffected,
		"duration_ms":      entry.DurationMillis,
		"completed_at":     entry.CompletedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to finalize sync log entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrLogFinalized
	}
	return nil
}

// GetByTenant retrieves the most recent entries for a tenant
func (r *MongoSyncLogRepository) GetByTenant(ctx context.Context, tenantID string, limit int64) ([]*domain.SyncLogEntry, error) {
	filter := bson.M{"tenant_id": tenantID}
	return r.find(ctx, filter, limit)
}

// GetByStatus retrieves the most recent entries with the given status
func (r *MongoSyncLogRepository) GetByStatus(ctx context.Context, tenantID string, status domain.SyncStatus, limit int64) ([]*domain.SyncLogEntry, error) {
	filter := bson.M{"tenant_id": tenantID, "status": string(status)}
	return r.find(ctx, filter, limit)
}

func (r *MongoSyncLogRepository) find(ctx context.Context, filter bson.M, limit int64) ([]*domain.SyncLogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.SyncLogEntry
	for cursor.Next(ctx) {
		var entry domain.SyncLogEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode sync log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return entries, nil
}
