package ports

import (
	"context"
	"time"

	"meridian-core-pos-layer/internal/domain"
)

// CatalogObject is one remote catalog record as returned by the POS vendor.
// The vendor payload is treated as opaque: everything beyond identity and
// recency lives in Fields.
type CatalogObject struct {
	ID          string        `json:"id"`
	VariationID string        `json:"variation_id,omitempty"`
	Version     int64         `json:"version,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Fields      domain.Record `json:"fields"`
}

// CatalogPage is one page of a cursored catalog listing
type CatalogPage struct {
	Objects    []CatalogObject `json:"objects"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// RemoteCatalogClient defines the remote POS catalog operations this
// subsystem consumes. All calls are token-scoped with a bearer credential.
type RemoteCatalogClient interface {
	ListCatalogObjects(ctx context.Context, token string, cursor string) (*CatalogPage, error)
	UpsertCatalogObject(ctx context.Context, token string, object *CatalogObject) (*CatalogObject, error)
	DeleteCatalogObject(ctx context.Context, token string, objectID string) error
}

// TokenGrant is the subset of an OAuth token response this subsystem consumes
type TokenGrant struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	MerchantID   string    `json:"merchant_id"`
	LocationID   string    `json:"location_id,omitempty"`
	Scopes       []string  `json:"scopes"`
}

// OAuthClient defines the vendor's authorization endpoint operations
type OAuthClient interface {
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	RevokeToken(ctx context.Context, accessToken string) error
}
