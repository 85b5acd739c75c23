package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIntegrationRepo keeps a single integration in memory
type fakeIntegrationRepo struct {
	mu          sync.Mutex
	integration *domain.Integration
	upserts     int
	updates     int
	disabledFor string
}

func (r *fakeIntegrationRepo) Upsert(ctx context.Context, integration *domain.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integration = integration
	r.upserts++
	return nil
}

func (r *fakeIntegrationRepo) GetEnabledByTenant(ctx context.Context, tenantID string) (*domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.integration == nil || !r.integration.Enabled || r.integration.TenantID != tenantID {
		return nil, domain.ErrIntegrationNotFound
	}
	stored := *r.integration
	return &stored, nil
}

func (r *fakeIntegrationRepo) Update(ctx context.Context, integration *domain.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integration = integration
	r.updates++
	return nil
}

func (r *fakeIntegrationRepo) Disable(ctx context.Context, tenantID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.integration != nil {
		r.integration.Enabled = false
		r.integration.LastError = reason
	}
	r.disabledFor = reason
	return nil
}

// fakeOAuthClient scripts the vendor's authorization endpoint
type fakeOAuthClient struct {
	exchangeFn func(code string) (*ports.TokenGrant, error)
	refreshFn  func(refreshToken string) (*ports.TokenGrant, error)
	revokeErr  error

	refreshCalls atomic.Int32
	revokeCalls  atomic.Int32
}

func (c *fakeOAuthClient) ExchangeCode(ctx context.Context, code string) (*ports.TokenGrant, error) {
	return c.exchangeFn(code)
}

func (c *fakeOAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*ports.TokenGrant, error) {
	c.refreshCalls.Add(1)
	return c.refreshFn(refreshToken)
}

func (c *fakeOAuthClient) RevokeToken(ctx context.Context, accessToken string) error {
	c.revokeCalls.Add(1)
	return c.revokeErr
}

// fakeEncryption prefixes instead of encrypting so tests can assert on
// stored values
type fakeEncryption struct{}

func (fakeEncryption) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (fakeEncryption) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("not a ciphertext")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

func storedIntegration(tenantID string, expiresAt time.Time) *domain.Integration {
	return &domain.Integration{
		ID:                    "int-1",
		TenantID:              tenantID,
		Vendor:                "square",
		EncryptedAccessToken:  "enc:access-token",
		EncryptedRefreshToken: "enc:refresh-token",
		TokenExpiresAt:        expiresAt,
		Enabled:               true,
	}
}

func newTestTokenService(repo *fakeIntegrationRepo, oauth *fakeOAuthClient) *TokenService {
	return NewTokenService(repo, oauth, fakeEncryption{}, "square", DefaultRefreshBuffer, zerolog.Nop())
}

func TestGetValidTokenReturnsStoredToken(t *testing.T) {
	repo := &fakeIntegrationRepo{integration: storedIntegration("t1", time.Now().Add(30*24*time.Hour))}
	oauth := &fakeOAuthClient{}
	svc := newTestTokenService(repo, oauth)

	token, err := svc.GetValidToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "access-token", token)
	assert.Equal(t, int32(0), oauth.refreshCalls.Load())
}

func TestGetValidTokenRefreshesInsideBuffer(t *testing.T) {
	repo := &fakeIntegrationRepo{integration: storedIntegration("t1", time.Now().Add(time.Hour))}
	oauth := &fakeOAuthClient{
		refreshFn: func(refreshToken string) (*ports.TokenGrant, error) {
			assert.Equal(t, "refresh-token", refreshToken)
			return &ports.TokenGrant{
				AccessToken:  "fresh-token",
				RefreshToken: "fresh-refresh",
				ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
			}, nil
		},
	}
	svc := newTestTokenService(repo, oauth)

	token, err := svc.GetValidToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int32(1), oauth.refreshCalls.Load())
	assert.Equal(t, "enc:fresh-refresh", repo.integration.EncryptedRefreshToken)
}

func TestGetValidTokenWithoutIntegration(t *testing.T) {
	svc := newTestTokenService(&fakeIntegrationRepo{}, &fakeOAuthClient{})

	_, err := svc.GetValidToken(context.Background(), "t1")
	assert.True(t, domain.IsAuthError(err))
}

func TestRefreshCollapsesConcurrentCallers(t *testing.T) {
	repo := &fakeIntegrationRepo{integration: storedIntegration("t1", time.Now().Add(time.Hour))}
	oauth := &fakeOAuthClient{
		refreshFn: func(refreshToken string) (*ports.TokenGrant, error) {
			time.Sleep(50 * time.Millisecond)
			return &ports.TokenGrant{
				AccessToken: "fresh-token",
				ExpiresAt:   time.Now().Add(30 * 24 * time.Hour),
			}, nil
		},
	}
	svc := newTestTokenService(repo, oauth)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background(), "t1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), oauth.refreshCalls.Load())
}

func TestRefreshRejectionDisablesIntegration(t *testing.T) {
	repo := &fakeIntegrationRepo{integration: storedIntegration("t1", time.Now().Add(time.Hour))}
	oauth := &fakeOAuthClient{
		refreshFn: func(refreshToken string) (*ports.TokenGrant, error) {
			return nil, &domain.AuthError{TenantID: "t1", Reason: "refresh token revoked"}
		},
	}
	svc := newTestTokenService(repo, oauth)

	_, err := svc.Refresh(context.Background(), "t1")
	require.True(t, domain.IsAuthError(err))
	assert.False(t, repo.integration.Enabled)
	assert.Contains(t, repo.disabledFor, "revoked")
}

func TestRefreshTransientFailureKeepsIntegrationEnabled(t *testing.T) {
	repo := &fakeIntegrationRepo{integration: storedIntegration("t1", time.Now().Add(time.Hour))}
	oauth := &fakeOAuthClient{
		refreshFn: func(refreshToken string) (*ports.TokenGrant, error) {
			return nil, &domain.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
		},
	}
	svc := newTestTokenService(repo, oauth)

	_, err := svc.Refresh(context.Background(), "t1")
	require.Error(t, err)
	assert.False(t, domain.IsAuthError(err))
	assert.True(t, repo.integration.Enabled)
}

func TestRefreshWithoutRefreshTokenDisables(t *testing.T) {
	integration := storedIntegration("t1", time.Now().Add(time.Hour))
	integration.EncryptedRefreshToken = ""
	repo := &fakeIntegrationRepo{integration: integration}
	svc := newTestTokenService(repo, &fakeOAuthClient{})

	_, err := svc.Refresh(context.Background(), "t1")
	assert.True(t, domain.IsAuthError(err))
	assert.False(t, repo.integration.Enabled)
}

func TestExchangeCodePersistsEncryptedTokens(t *testing.T) {
	repo := &fakeIntegrationRepo{}
	oauth := &fakeOAuthClient{
		exchangeFn: func(code string) (*ports.TokenGrant, error) {
			assert.Equal(t, "auth-code", code)
			return &ports.TokenGrant{
				AccessToken:  "access-token",
				RefreshToken: "refresh-token",
				ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
				MerchantID:   "M-1",
				LocationID:   "L-1",
				Scopes:       []string{"ITEMS_READ", "ITEMS_WRITE"},
			}, nil
		},
	}
	svc := newTestTokenService(repo, oauth)

	integration, err := svc.ExchangeCode(context.Background(), "t1", "auth-code", domain.ModeProduction)
	require.NoError(t, err)
	assert.Equal(t, "enc:access-token", integration.EncryptedAccessToken)
	assert.Equal(t, "enc:refresh-token", integration.EncryptedRefreshToken)
	assert.Equal(t, "M-1", integration.RemoteMerchantID)
	assert.True(t, integration.Enabled)
	assert.Equal(t, 1, repo.upserts)
}

func TestRevokeClearsLocalStateEvenWhenRemoteFails(t *testing.T) {
	repo := &fakeIntegrationRepo{integration: storedIntegration("t1", time.Now().Add(time.Hour))}
	oauth := &fakeOAuthClient{revokeErr: errors.New("vendor down")}
	svc := newTestTokenService(repo, oauth)

	require.NoError(t, svc.Revoke(context.Background(), "t1"))
	assert.Equal(t, int32(1), oauth.revokeCalls.Load())
	assert.False(t, repo.integration.Enabled)
	assert.Empty(t, repo.integration.EncryptedAccessToken)
	assert.Empty(t, repo.integration.EncryptedRefreshToken)
}

func TestRevokeWithoutIntegrationIsNoop(t *testing.T) {
	svc := newTestTokenService(&fakeIntegrationRepo{}, &fakeOAuthClient{})
	assert.NoError(t, svc.Revoke(context.Background(), "t1"))
}
