package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/ports"

	"github.com/rs/zerolog"
)

const (
	sandboxBaseURL    = "https://connect.sandbox.posvendor.com"
	productionBaseURL = "https://connect.posvendor.com"

	catalogPath = "/v2/catalog/objects"
	tokenPath   = "/oauth2/token"
	revokePath  = "/oauth2/revoke"
)

// Client talks to the vendor's catalog and OAuth endpoints over plain HTTP.
// The vendor payload is treated as opaque field maps; only identity, version
// and recency are interpreted.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       zerolog.Logger
}

// NewClient creates a vendor API client for the given mode
func NewClient(clientID, clientSecret string, mode domain.IntegrationMode, logger zerolog.Logger) *Client {
	baseURL := productionBaseURL
	if mode == domain.ModeSandbox {
		baseURL = sandboxBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// NewClientWithBaseURL creates a client against an explicit base URL.
// Used by tests and self-hosted vendor gateways.
func NewClientWithBaseURL(clientID, clientSecret, baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// ListCatalogObjects fetches one page of the remote catalog
func (c *Client) ListCatalogObjects(ctx context.Context, token string, cursor string) (*ports.CatalogPage, error) {
	endpoint := c.baseURL + catalogPath
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog list request: %w", err)
	}
	c.authorize(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Err: fmt.Errorf("catalog list request failed: %w", err)}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var page ports.CatalogPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode catalog page: %w", err)
	}
	return &page, nil
}

// UpsertCatalogObject creates or updates one remote catalog object. An object
// with an ID updates that object; without one the vendor assigns an ID.
func (c *Client) UpsertCatalogObject(ctx context.Context, token string, object *ports.CatalogObject) (*ports.CatalogObject, error) {
	if object == nil {
		return nil, &domain.ValidationError{Message: "catalog object is required"}
	}

	body, err := json.Marshal(object)
	if err != nil {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unserializable catalog object: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+catalogPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog upsert request: %w", err)
	}
	c.authorize(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Err: fmt.Errorf("catalog upsert request failed: %w", err)}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var saved ports.CatalogObject
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return nil, fmt.Errorf("failed to decode catalog object: %w", err)
	}
	return &saved, nil
}

// DeleteCatalogObject deletes one remote catalog object by ID
func (c *Client) DeleteCatalogObject(ctx context.Context, token string, objectID string) error {
	if objectID == "" {
		return &domain.ValidationError{Field: "id", Message: "object id is required"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+catalogPath+"/"+url.PathEscape(objectID), nil)
	if err != nil {
		return fmt.Errorf("failed to create catalog delete request: %w", err)
	}
	c.authorize(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Err: fmt.Errorf("catalog delete request failed: %w", err)}
	}
	defer resp.Body.Close()

	return c.checkStatus(resp)
}

// tokenResponse is the vendor's OAuth token payload
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
	LocationID   string `json:"location_id"`
	Scope        string `json:"scope"`
}

// ExchangeCode exchanges an authorization code for a token grant
func (c *Client) ExchangeCode(ctx context.Context, code string) (*ports.TokenGrant, error) {
	values := url.Values{}
	values.Set("grant_type", "authorization_code")
	values.Set("code", code)
	return c.tokenGrant(ctx, values)
}

// RefreshToken exchanges a refresh token for a fresh grant
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*ports.TokenGrant, error) {
	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", refreshToken)
	return c.tokenGrant(ctx, values)
}

func (c *Client) tokenGrant(ctx context.Context, values url.Values) (*ports.TokenGrant, error) {
	values.Set("client_id", c.clientID)
	values.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Err: fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	grant := &ports.TokenGrant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		MerchantID:   tr.MerchantID,
		LocationID:   tr.LocationID,
	}
	if tr.Scope != "" {
		grant.Scopes = strings.Split(tr.Scope, " ")
	}
	switch {
	case tr.ExpiresAt != "":
		at, err := time.Parse(time.RFC3339, tr.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse token expiry %q: %w", tr.ExpiresAt, err)
		}
		grant.ExpiresAt = at
	case tr.ExpiresIn > 0:
		grant.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return grant, nil
}

// RevokeToken revokes an access token at the vendor. Callers treat failures
// as best-effort; local credential state is cleared regardless.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	values := url.Values{}
	values.Set("client_id", c.clientID)
	values.Set("client_secret", c.clientSecret)
	values.Set("token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+revokePath, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Err: fmt.Errorf("revoke request failed: %w", err)}
	}
	defer resp.Body.Close()

	return c.checkStatus(resp)
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
}

// checkStatus maps vendor HTTP statuses onto the engine's error taxonomy
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Reason: fmt.Sprintf("vendor returned %d: %s", resp.StatusCode, msg)}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &domain.RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return &domain.TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("vendor error: %s", msg),
		}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &domain.ValidationError{Message: fmt.Sprintf("vendor rejected request (%d): %s", resp.StatusCode, msg)}
	default:
		return fmt.Errorf("unexpected vendor response %d: %s", resp.StatusCode, msg)
	}
}

var (
	_ ports.RemoteCatalogClient = (*Client)(nil)
	_ ports.OAuthClient         = (*Client)(nil)
)
