package entity

import (
	"time"

	"meridian-core-pos-layer/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IntegrationDoc represents a POS integration in MongoDB
type IntegrationDoc struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty"`
	TenantID              string             `bson:"tenantId"`
	Vendor                string             `bson:"vendor"`
	EncryptedAccessToken  string             `bson:"encryptedAccessToken"`
	EncryptedRefreshToken string             `bson:"encryptedRefreshToken,omitempty"`
	RemoteMerchantID      string             `bson:"remoteMerchantId"`
	RemoteLocationID      string             `bson:"remoteLocationId,omitempty"`
	TokenExpiresAt        time.Time          `bson:"tokenExpiresAt"`
	Scopes                []string           `bson:"scopes"`
	Enabled               bool               `bson:"enabled"`
	Mode                  string             `bson:"mode"`
	LastSyncAt            *time.Time         `bson:"lastSyncAt,omitempty"`
	LastError             string             `bson:"lastError,omitempty"`
	CreatedAt             time.Time          `bson:"createdAt"`
	UpdatedAt             time.Time          `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *IntegrationDoc) ToDomain() *domain.Integration {
	return &domain.Integration{
		ID:                    d.ID.Hex(),
		TenantID:              d.TenantID,
		Vendor:                d.Vendor,
		EncryptedAccessToken:  d.EncryptedAccessToken,
		EncryptedRefreshToken: d.EncryptedRefreshToken,
		RemoteMerchantID:      d.RemoteMerchantID,
		RemoteLocationID:      d.RemoteLocationID,
		TokenExpiresAt:        d.TokenExpiresAt,
		Scopes:                d.Scopes,
		Enabled:               d.Enabled,
		Mode:                  domain.IntegrationMode(d.Mode),
		LastSyncAt:            d.LastSyncAt,
		LastError:             d.LastError,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// IntegrationDocFromDomain converts a domain entity to a MongoDB document
func IntegrationDocFromDomain(integration *domain.Integration) *IntegrationDoc {
	doc := &IntegrationDoc{
		TenantID:              integration.TenantID,
		Vendor:                integration.Vendor,
		EncryptedAccessToken:  integration.EncryptedAccessToken,
		EncryptedRefreshToken: integration.EncryptedRefreshToken,
		RemoteMerchantID:      integration.RemoteMerchantID,
		RemoteLocationID:      integration.RemoteLocationID,
		TokenExpiresAt:        integration.TokenExpiresAt,
		Scopes:                integration.Scopes,
		Enabled:               integration.Enabled,
		Mode:                  string(integration.Mode),
		LastSyncAt:            integration.LastSyncAt,
		LastError:             integration.LastError,
		CreatedAt:             integration.CreatedAt,
		UpdatedAt:             integration.UpdatedAt,
	}

	if integration.ID != "" {
		if objID, err := primitive.ObjectIDFromHex(integration.ID); err == nil {
			doc.ID = objID
		}
	}

	return doc
}
