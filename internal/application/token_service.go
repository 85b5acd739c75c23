package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how long before expiry a token is refreshed.
// Vendor tokens live ~30 days; refreshing a day early keeps a healthy margin.
const DefaultRefreshBuffer = 24 * time.Hour

// TokenService owns the OAuth credential lifecycle for tenant POS links:
// exchange, refresh, expiry tracking, revocation. Tokens are persisted only
// in encrypted form; the raw bearer value exists in memory for the duration
// of a remote call.
type TokenService struct {
	integrations  ports.IntegrationRepository
	oauth         ports.OAuthClient
	encryptionSvc ports.EncryptionService
	vendor        string
	refreshBuffer time.Duration
	logger        zerolog.Logger

	// group collapses concurrent refreshes for the same tenant into one
	// request; late callers receive the in-flight result
	group singleflight.Group
	now   func() time.Time
}

// NewTokenService creates a token service for one POS vendor
func NewTokenService(
	integrations ports.IntegrationRepository,
	oauth ports.OAuthClient,
	encryptionSvc ports.EncryptionService,
	vendor string,
	refreshBuffer time.Duration,
	logger zerolog.Logger,
) *TokenService {
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	return &TokenService{
		integrations:  integrations,
		oauth:         oauth,
		encryptionSvc: encryptionSvc,
		vendor:        vendor,
		refreshBuffer: refreshBuffer,
		logger:        logger,
		now:           time.Now,
	}
}

// GetValidToken returns a decrypted bearer token for the tenant, refreshing
// synchronously first when the stored token is inside the refresh buffer
func (s *TokenService) GetValidToken(ctx context.Context, tenantID string) (string, error) {
	integration, err := s.integrations.GetEnabledByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return "", &domain.AuthError{TenantID: tenantID, Reason: "no enabled integration"}
		}
		return "", fmt.Errorf("failed to load integration: %w", err)
	}

	if integration.TokenExpiresWithin(s.now(), s.refreshBuffer) {
		integration, err = s.Refresh(ctx, tenantID)
		if err != nil {
			return "", err
		}
	}

	token, err := s.encryptionSvc.Decrypt(integration.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}

// ExchangeCode exchanges an OAuth authorization code and persists the
// resulting integration for the tenant
func (s *TokenService) ExchangeCode(ctx context.Context, tenantID, code string, mode domain.IntegrationMode) (*domain.Integration, error) {
	grant, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	integration, err := s.integrationFromGrant(tenantID, grant, mode)
	if err != nil {
		return nil, err
	}

	if err := s.integrations.Upsert(ctx, integration); err != nil {
		return nil, fmt.Errorf("failed to persist integration: %w", err)
	}

	s.logger.Info().
		Str("tenantId", tenantID).
		Str("merchantId", grant.MerchantID).
		Strs("scopes", grant.Scopes).
		Msg("POS integration authorized")

	return integration, nil
}

// Refresh performs a refresh_token grant. Concurrent callers for the same
// tenant share a single in-flight refresh. A revoked or invalid refresh
// token disables the integration and surfaces an AuthError; this is fatal
// for the current sync run and is not retried.
func (s *TokenService) Refresh(ctx context.Context, tenantID string) (*domain.Integration, error) {
	v, err, _ := s.group.Do(tenantID, func() (any, error) {
		return s.doRefresh(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Integration), nil
}

func (s *TokenService) doRefresh(ctx context.Context, tenantID string) (*domain.Integration, error) {
	integration, err := s.integrations.GetEnabledByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil, &domain.AuthError{TenantID: tenantID, Reason: "no enabled integration"}
		}
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}

	if integration.EncryptedRefreshToken == "" {
		reason := "integration has no refresh token"
		if derr := s.integrations.Disable(ctx, tenantID, reason); derr != nil {
			s.logger.Error().Err(derr).Str("tenantId", tenantID).Msg("Failed to disable integration")
		}
		return nil, &domain.AuthError{TenantID: tenantID, Reason: reason}
	}

	refreshToken, err := s.encryptionSvc.Decrypt(integration.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	grant, err := s.oauth.RefreshToken(ctx, refreshToken)
	if err != nil {
		if domain.IsAuthError(err) {
			// Revoked or invalid refresh token: disable the link and make the
			// caller re-authorize. Never retried.
			if derr := s.integrations.Disable(ctx, tenantID, err.Error()); derr != nil {
				s.logger.Error().Err(derr).Str("tenantId", tenantID).Msg("Failed to disable integration")
			}
			s.logger.Warn().
				Err(err).
				Str("tenantId", tenantID).
				Msg("Token refresh rejected, integration disabled")
			return nil, &domain.AuthError{TenantID: tenantID, Reason: "token refresh rejected", Err: err}
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	encryptedAccess, err := s.encryptionSvc.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	integration.EncryptedAccessToken = encryptedAccess
	if grant.RefreshToken != "" {
		encryptedRefresh, err := s.encryptionSvc.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		integration.EncryptedRefreshToken = encryptedRefresh
	}
	integration.TokenExpiresAt = grant.ExpiresAt
	if len(grant.Scopes) > 0 {
		integration.Scopes = grant.Scopes
	}
	integration.LastError = ""

	if err := s.integrations.Update(ctx, integration); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed integration: %w", err)
	}

	s.logger.Info().
		Str("tenantId", tenantID).
		Time("expiresAt", integration.TokenExpiresAt).
		Msg("Access token refreshed")

	return integration, nil
}

// Revoke revokes the tenant's credential at the vendor (best-effort) and
// always clears local credential state
func (s *TokenService) Revoke(ctx context.Context, tenantID string) error {
	integration, err := s.integrations.GetEnabledByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load integration: %w", err)
	}

	if token, derr := s.encryptionSvc.Decrypt(integration.EncryptedAccessToken); derr == nil {
		if rerr := s.oauth.RevokeToken(ctx, token); rerr != nil {
			s.logger.Warn().
				Err(rerr).
				Str("tenantId", tenantID).
				Msg("Remote token revocation failed, clearing local state anyway")
		}
	}

	integration.Enabled = false
	integration.EncryptedAccessToken = ""
	integration.EncryptedRefreshToken = ""
	integration.LastError = "revoked"
	if err := s.integrations.Update(ctx, integration); err != nil {
		return fmt.Errorf("failed to clear integration credentials: %w", err)
	}

	s.logger.Info().Str("tenantId", tenantID).Msg("POS integration revoked")
	return nil
}

func (s *TokenService) integrationFromGrant(tenantID string, grant *ports.TokenGrant, mode domain.IntegrationMode) (*domain.Integration, error) {
	encryptedAccess, err := s.encryptionSvc.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	integration := &domain.Integration{
		TenantID:             tenantID,
		Vendor:               s.vendor,
		EncryptedAccessToken: encryptedAccess,
		RemoteMerchantID:     grant.MerchantID,
		RemoteLocationID:     grant.LocationID,
		TokenExpiresAt:       grant.ExpiresAt,
		Scopes:               grant.Scopes,
		Enabled:              true,
		Mode:                 mode,
	}
	if grant.RefreshToken != "" {
		encryptedRefresh, err := s.encryptionSvc.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		integration.EncryptedRefreshToken = encryptedRefresh
	}
	return integration, nil
}
