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
)

// MongoInventoryRepository implements the local inventory store port. The
// sync engine only needs keyed reads and writes; the surrounding application
// owns the full item lifecycle.
type MongoInventoryRepository struct {
	collection *mongo.Collection
}

// NewMongoInventoryRepository creates a new MongoDB inventory repository
func NewMongoInventoryRepository(db *mongo.Database) ports.InventoryStore {
	return &MongoInventoryRepository{
		collection: db.Collection("inventory_items"),
	}
}

// Get retrieves one item by ID
func (r *MongoInventoryRepository) Get(ctx context.Context, tenantID, itemID string) (*domain.LocalItem, error) {
	var item domain.LocalItem
	filter := bson.M{"_id": itemID, "tenant_id": tenantID}

	err := r.collection.FindOne(ctx, filter).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return &item, nil
}

// Create inserts a new item, assigning an ID when absent
func (r *MongoInventoryRepository) Create(ctx context.Context, item *domain.LocalItem) (*domain.LocalItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

// Update replaces an existing item
func (r *MongoInventoryRepository) Update(ctx context.Context, item *domain.LocalItem) error {
	item.UpdatedAt = time.Now()

	filter := bson.M{"_id": item.ID, "tenant_id": item.TenantID}
	result, err := r.collection.ReplaceOne(ctx, filter, item)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// List retrieves all items for a tenant
func (r *MongoInventoryRepository) List(ctx context.Context, tenantID string) ([]*domain.LocalItem, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*domain.LocalItem
	for cursor.Next(ctx) {
		var item domain.LocalItem
		if err := cursor.Decode(&item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		items = append(items, &item)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return items, nil
}
