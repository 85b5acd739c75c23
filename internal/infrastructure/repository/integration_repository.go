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

// MongoIntegrationRepository implements IntegrationRepository using MongoDB
type MongoIntegrationRepository struct {
	collection *mongo.Collection
}

// NewMongoIntegrationRepository creates a new MongoDB integration repository
func NewMongoIntegrationRepository(db *mongo.Database) ports.IntegrationRepository {
	r := &MongoIntegrationRepository{
		collection: db.Collection("integrations"),
	}

	// One enabled integration per (tenant, vendor)
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "vendor", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"enabled": true}),
	}
	_, _ = r.collection.Indexes().CreateOne(context.Background(), indexModel)

	return r
}

// Upsert creates or replaces the integration for its (tenant, vendor) pair
func (r *MongoIntegrationRepository) Upsert(ctx context.Context, integration *domain.Integration) error {
	doc := entity.IntegrationDocFromDomain(integration)
	doc.UpdatedAt = time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	filter := bson.M{"tenantId": integration.TenantID, "vendor": integration.Vendor}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert integration: %w", err)
	}
	return nil
}

// GetEnabledByTenant retrieves the single enabled integration for a tenant
func (r *MongoIntegrationRepository) GetEnabledByTenant(ctx context.Context, tenantID string) (*domain.Integration, error) {
	var doc entity.IntegrationDoc
	filter := bson.M{"tenantId": tenantID, "enabled": true}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	return doc.ToDomain(), nil
}

// Update persists changed fields of an existing integration
func (r *MongoIntegrationRepository) Update(ctx context.Context, integration *domain.Integration) error {
	objID, err := primitive.ObjectIDFromHex(integration.ID)
	if err != nil {
		return fmt.Errorf("invalid integration id %q: %w", integration.ID, err)
	}

	doc := entity.IntegrationDocFromDomain(integration)
	doc.UpdatedAt = time.Now()

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, bson.M{"$set": doc})
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrIntegrationNotFound
	}
	return nil
}

// Disable soft-disables the tenant's integration, retaining the row for audit
func (r *MongoIntegrationRepository) Disable(ctx context.Context, tenantID string, reason string) error {
	filter := bson.M{"tenantId": tenantID, "enabled": true}
	update := bson.M{"$set": bson.M{
		"enabled":   false,
		"lastError": reason,
		"updatedAt": time.Now(),
	}}

	_, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to disable integration: %w", err)
	}
	return nil
}
