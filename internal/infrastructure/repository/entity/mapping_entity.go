package entity

import (
	"time"

	"meridian-core-pos-layer/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MappingDoc represents an identity mapping in MongoDB
type MappingDoc struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	TenantID          string             `bson:"tenantId"`
	IntegrationID     string             `bson:"integrationId"`
	LocalItemID       string             `bson:"localItemId"`
	RemoteObjectID    string             `bson:"remoteObjectId"`
	RemoteVariationID string             `bson:"remoteVariationId,omitempty"`
	SyncStatus        string             `bson:"syncStatus"`
	Direction         string             `bson:"direction"`
	LastLocalUpdate   time.Time          `bson:"lastLocalUpdate"`
	LastRemoteUpdate  time.Time          `bson:"lastRemoteUpdate"`
	ConflictPolicy    string             `bson:"conflictPolicy,omitempty"`
	CreatedAt         time.Time          `bson:"createdAt"`
	UpdatedAt         time.Time          `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *MappingDoc) ToDomain() *domain.IdentityMapping {
	return &domain.IdentityMapping{
		ID:                d.ID.Hex(),
		TenantID:          d.TenantID,
		IntegrationID:     d.IntegrationID,
		LocalItemID:       d.LocalItemID,
		RemoteObjectID:    d.RemoteObjectID,
		RemoteVariationID: d.RemoteVariationID,
		SyncStatus:        domain.MappingStatus(d.SyncStatus),
		Direction:         domain.SyncDirection(d.Direction),
		LastLocalUpdate:   d.LastLocalUpdate,
		LastRemoteUpdate:  d.LastRemoteUpdate,
		ConflictPolicy:    d.ConflictPolicy,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// MappingDocFromDomain converts a domain entity to a MongoDB document
func MappingDocFromDomain(mapping *domain.IdentityMapping) *MappingDoc {
	doc := &MappingDoc{
		TenantID:          mapping.TenantID,
		IntegrationID:     mapping.IntegrationID,
		LocalItemID:       mapping.LocalItemID,
		RemoteObjectID:    mapping.RemoteObjectID,
		RemoteVariationID: mapping.RemoteVariationID,
		SyncStatus:        string(mapping.SyncStatus),
		Direction:         string(mapping.Direction),
		LastLocalUpdate:   mapping.LastLocalUpdate,
		LastRemoteUpdate:  mapping.LastRemoteUpdate,
		ConflictPolicy:    mapping.ConflictPolicy,
		CreatedAt:         mapping.CreatedAt,
		UpdatedAt:         mapping.UpdatedAt,
	}

	if mapping.ID != "" {
		if objID, err := primitive.ObjectIDFromHex(mapping.ID); err == nil {
			doc.ID = objID
		}
	}

	return doc
}
