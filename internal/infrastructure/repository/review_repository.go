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

// MongoReviewRepository persists conflicts awaiting manual review
type MongoReviewRepository struct {
	collection *mongo.Collection
}

// NewMongoReviewRepository creates a new MongoDB review repository
func NewMongoReviewRepository(db *mongo.Database) ports.ReviewRepository {
	r := &MongoReviewRepository{
		collection: db.Collection("conflict_reviews"),
	}

	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "mapping_id", Value: 1},
			{Key: "field", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, _ = r.collection.Indexes().CreateOne(context.Background(), indexModel)

	return r
}

// Upsert stores a review keyed by (tenant, mapping, field). Re-queueing the
// same conflict refreshes the candidate values on the existing row.
func (r *MongoReviewRepository) Upsert(ctx context.Context, review *domain.ConflictReview) error {
	now := time.Now()

	filter := bson.M{
		"tenant_id":  review.TenantID,
		"mapping_id": review.MappingID,
		"field":      review.Field,
	}
	update := bson.M{
		"$set": bson.M{
			"remote_value":  review.RemoteValue,
			"local_value":   review.LocalValue,
			"interim_value": review.InterimValue,
			"reason":        review.Reason,
			"open":          true,
		},
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"created_at": now,
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert conflict review: %w", err)
	}
	return nil
}

// ListOpen retrieves all open reviews for a tenant
func (r *MongoReviewRepository) ListOpen(ctx context.Context, tenantID string) ([]*domain.ConflictReview, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID, "open": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list conflict reviews: %w", err)
	}
	defer cursor.Close(ctx)

	var reviews []*domain.ConflictReview
	for cursor.Next(ctx) {
		var review domain.ConflictReview
		if err := cursor.Decode(&review); err != nil {
			return nil, fmt.Errorf("failed to decode conflict review: %w", err)
		}
		reviews = append(reviews, &review)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return reviews, nil
}

// Resolve closes one review. The row is retained for audit.
func (r *MongoReviewRepository) Resolve(ctx context.Context, reviewID string) error {
	now := time.Now()
	update := bson.M{"$set": bson.M{"open": false, "resolved_at": now}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": reviewID}, update)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict review: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("conflict review %s not found", reviewID)
	}
	return nil
}

// Clear closes all open reviews for a tenant (operator action)
func (r *MongoReviewRepository) Clear(ctx context.Context, tenantID string) error {
	now := time.Now()
	update := bson.M{"$set": bson.M{"open": false, "resolved_at": now}}

	_, err := r.collection.UpdateMany(ctx, bson.M{"tenant_id": tenantID, "open": true}, update)
	if err != nil {
		return fmt.Errorf("failed to clear conflict reviews: %w", err)
	}
	return nil
}
