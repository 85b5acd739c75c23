package repository

import (
	"context"
	"fmt"
	"time"

	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/infrastructure/repository/entity"
	"meridian-core-pos-layer/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMappingRepository implements MappingRepository using MongoDB
type MongoMappingRepository struct {
	collection *mongo.Collection
}

// NewMongoMappingRepository creates a new MongoDB mapping repository
func NewMongoMappingRepository(db *mongo.Database) ports.MappingRepository {
	r := &MongoMappingRepository{
		collection: db.Collection("catalog_mappings"),
	}

	// Both identity pairs are unique: a local item maps to exactly one remote
	// object per integration and vice versa
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "integrationId", Value: 1}, {Key: "remoteObjectId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "localItemId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, _ = r.collection.Indexes().CreateMany(context.Background(), indexes)

	return r
}

// Create upserts the mapping. A retry for an already-mapped pair updates the
// existing row instead of creating a duplicate; this property is what makes
// re-syncs idempotent.
func (r *MongoMappingRepository) Create(ctx context.Context, mapping *domain.IdentityMapping) (*domain.IdentityMapping, error) {
	doc := entity.MappingDocFromDomain(mapping)
	now := time.Now()
	doc.UpdatedAt = now

	filter := bson.M{"$or": bson.A{
		bson.M{"integrationId": mapping.IntegrationID, "remoteObjectId": mapping.RemoteObjectID},
		bson.M{"tenantId": mapping.TenantID, "localItemId": mapping.LocalItemID},
	}}
	update := bson.M{
		"$set": bson.M{
			"tenantId":          doc.TenantID,
			"integrationId":     doc.IntegrationID,
			"localItemId":       doc.LocalItemID,
			"remoteObjectId":    doc.RemoteObjectID,
			"remoteVariationId": doc.RemoteVariationID,
			"syncStatus":        doc.SyncStatus,
			"direction":         doc.Direction,
			"lastLocalUpdate":   doc.LastLocalUpdate,
			"lastRemoteUpdate":  doc.LastRemoteUpdate,
			"conflictPolicy":    doc.ConflictPolicy,
			"updatedAt":         now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var saved entity.MappingDoc
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved); err != nil {
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}

	return saved.ToDomain(), nil
}

// GetByLocalID retrieves a mapping by (tenant, local item); nil when unmapped
func (r *MongoMappingRepository) GetByLocalID(ctx context.Context, tenantID, localItemID string) (*domain.IdentityMapping, error) {
	var doc entity.MappingDoc
	filter := bson.M{"tenantId": tenantID, "localItemId": localItemID}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return doc.ToDomain(), nil
}

// GetByRemoteID retrieves a mapping by (integration, remote object); nil when unmapped
func (r *MongoMappingRepository) GetByRemoteID(ctx context.Context, integrationID, remoteObjectID string) (*domain.IdentityMapping, error) {
	var doc entity.MappingDoc
	filter := bson.M{"integrationId": integrationID, "remoteObjectId": remoteObjectID}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return doc.ToDomain(), nil
}

// ListByIntegration retrieves all mappings for one integration
func (r *MongoMappingRepository) ListByIntegration(ctx context.Context, integrationID string) ([]*domain.IdentityMapping, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"integrationId": integrationID})
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer cursor.Close(ctx)

	var mappings []*domain.IdentityMapping
	for cursor.Next(ctx) {
		var doc entity.MappingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode mapping: %w", err)
		}
		mappings = append(mappings, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return mappings, nil
}

// UpdateSyncTimes bumps the last-local/last-remote update timestamps
func (r *MongoMappingRepository) UpdateSyncTimes(ctx context.Context, mappingID string, mapping *domain.IdentityMapping) error {
	objID, err := primitive.ObjectIDFromHex(mappingID)
	if err != nil {
		return fmt.Errorf("invalid mapping id %q: %w", mappingID, err)
	}

	update := bson.M{"$set": bson.M{
		"lastLocalUpdate":  mapping.LastLocalUpdate,
		"lastRemoteUpdate": mapping.LastRemoteUpdate,
		"updatedAt":        time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update)
	if err != nil {
		return fmt.Errorf("failed to update mapping sync times: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrMappingNotFound
	}
	return nil
}

// SetStatus updates the sync status of a mapping
func (r *MongoMappingRepository) SetStatus(ctx context.Context, mappingID string, status domain.MappingStatus) error {
	objID, err := primitive.ObjectIDFromHex(mappingID)
	if err != nil {
		return fmt.Errorf("invalid mapping id %q: %w", mappingID, err)
	}

	update := bson.M{"$set": bson.M{"syncStatus": string(status), "updatedAt": time.Now()}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update)
	if err != nil {
		return fmt.Errorf("failed to set mapping status: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrMappingNotFound
	}
	return nil
}

// Delete removes a mapping, used when the local item is deleted
func (r *MongoMappingRepository) Delete(ctx context.Context, mappingID string) error {
	objID, err := primitive.ObjectIDFromHex(mappingID)
	if err != nil {
		return fmt.Errorf("invalid mapping id %q: %w", mappingID, err)
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": objID})
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrMappingNotFound
	}
	return nil
}
