package domain

import "time"

// IntegrationMode distinguishes sandbox from production POS accounts
type IntegrationMode string

const (
	ModeSandbox    IntegrationMode = "sandbox"
	ModeProduction IntegrationMode = "production"
)

// Integration represents a tenant's authorized link to one external POS account.
// Tokens are stored encrypted; the raw bearer value only ever lives in memory
// for the duration of a remote call. At most one enabled integration exists
// per (tenant, vendor).
type Integration struct {
	ID                    string          `json:"id" bson:"_id"`
	TenantID              string          `json:"tenant_id" bson:"tenant_id"`
	Vendor                string          `json:"vendor" bson:"vendor"`
	EncryptedAccessToken  string          `json:"-" bson:"encrypted_access_token"`
	EncryptedRefreshToken string          `json:"-" bson:"encrypted_refresh_token,omitempty"`
	RemoteMerchantID      string          `json:"remote_merchant_id" bson:"remote_merchant_id"`
	RemoteLocationID      string          `json:"remote_location_id,omitempty" bson:"remote_location_id,omitempty"`
	TokenExpiresAt        time.Time       `json:"token_expires_at" bson:"token_expires_at"`
	Scopes                []string        `json:"scopes" bson:"scopes"`
	Enabled               bool            `json:"enabled" bson:"enabled"`
	Mode                  IntegrationMode `json:"mode" bson:"mode"`
	LastSyncAt            *time.Time      `json:"last_sync_at,omitempty" bson:"last_sync_at,omitempty"`
	LastError             string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt             time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" bson:"updated_at"`
}

// TokenExpiresWithin reports whether the access token expires within the
// given buffer (or already has expired).
func (i *Integration) TokenExpiresWithin(now time.Time, buffer time.Duration) bool {
	return !now.Before(i.TokenExpiresAt.Add(-buffer))
}
