// Package oauth implements the OAuth2 token lifecycle for integrations
// (§4.7): expiry checks, refresh-token and authorization-code exchange, and
// the Authorization header an authenticated step needs.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Pallavikumarimdb/superglue/internal/errhandling"
	"github.com/Pallavikumarimdb/superglue/internal/logger"
	"github.com/Pallavikumarimdb/superglue/pkg/superglue"
)

// tokenExpiryWindow is how far ahead of the real expiry a token is treated
// as already expired, so a step never starts a call with a token that dies
// mid-flight.
const tokenExpiryWindow = 5 * time.Minute

// maxTokenResponseSize caps how much of a token endpoint's response body is
// read, guarding against a misbehaving endpoint exhausting memory.
const maxTokenResponseSize = 64 * 1024

// CatalogLookup resolves an integration's default OAuth token URL from the
// static integration catalog (§6), keyed by the integration's URL host.
// Nil is a valid Client field: token URL then falls through to the
// `{urlHost}/oauth/token` default.
type CatalogLookup func(urlHost string) (tokenURL string, ok bool)

// Client drives OAuth token refresh and the authorization-code exchange for
// a process's integrations, serializing concurrent refreshes of the same
// integration (§5: "serialized per (orgId, integrationId)").
type Client struct {
	httpClient *http.Client
	catalog    CatalogLookup
	locks      *keyedLocks
}

// New creates an OAuth client. catalog may be nil.
func New(timeout time.Duration, catalog CatalogLookup) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		catalog:    catalog,
		locks:      newKeyedLocks(),
	}
}

// IsTokenExpired reports whether integration's token is within
// tokenExpiryWindow of expiry. A missing expires_at is treated as not
// expired (§4.7: "missing = false") — static API-key-style integrations
// that never set it should never be refreshed.
func (c *Client) IsTokenExpired(integration *superglue.Integration) bool {
	if integration == nil {
		return false
	}
	raw := integration.Credentials[superglue.CredExpiresAt]
	if raw == "" {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("oauth: unparseable expires_at, treating as not expired",
			"integrationId", integration.ID, "value", raw)
		return false
	}
	return time.Until(expiresAt) < tokenExpiryWindow
}

// RefreshToken exchanges integration's refresh_token for a new access
// token and updates integration.Credentials in place. On failure it logs
// and returns (false, a TokenRefreshFailed error); it never panics or
// leaves the integration's credentials partially written.
func (c *Client) RefreshToken(ctx context.Context, integration *superglue.Integration) (bool, error) {
	if integration == nil {
		return false, errhandling.TokenRefreshFailed("no integration to refresh", nil)
	}

	refreshToken := integration.Credentials[superglue.CredRefreshToken]
	if refreshToken == "" {
		logger.Warn("oauth: no refresh token available", "integrationId", integration.ID)
		return false, errhandling.TokenRefreshFailed("no refresh token available", nil)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	c.addClientCredentials(form, integration)

	tok, err := c.exchangeToken(ctx, resolveTokenURL(integration, c.catalog), form)
	if err != nil {
		logger.Warn("oauth: token refresh failed", "integrationId", integration.ID, "error", err.Error())
		return false, errhandling.TokenRefreshFailed(err.Error(), err)
	}

	applyTokenResponse(integration, tok, refreshToken)
	return true, nil
}

// BuildHeaders returns the Authorization header for integration's current
// access token, or an empty map if it has none (§4.7).
func BuildHeaders(integration *superglue.Integration) map[string]string {
	if integration == nil {
		return map[string]string{}
	}
	token := integration.Credentials[superglue.CredAccessToken]
	if token == "" {
		return map[string]string{}
	}
	tokenType := integration.Credentials[superglue.CredTokenType]
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return map[string]string{"Authorization": tokenType + " " + token}
}

// EnsureFresh refreshes integration's token if expired and persists the
// result, serialized per (orgID, integration.ID) so concurrent steps
// against the same integration never race the refresh.
func (c *Client) EnsureFresh(ctx context.Context, orgID string, integration *superglue.Integration, persist func(context.Context, *superglue.Integration) error) error {
	if integration == nil {
		return nil
	}

	unlock := c.locks.lock(orgID + ":" + integration.ID)
	defer unlock()

	if !c.IsTokenExpired(integration) {
		return nil
	}

	ok, err := c.RefreshToken(ctx, integration)
	if !ok {
		if err == nil {
			err = errhandling.TokenRefreshFailed("token refresh failed", nil)
		}
		return err
	}

	if persist == nil {
		return nil
	}
	return persist(ctx, integration)
}

// HandleCallback completes an authorization-code exchange for integrationID
// and persists the resulting credentials via update.
func (c *Client) HandleCallback(ctx context.Context, integrationID, code, redirectURI string, get func(context.Context, string) (*superglue.Integration, error), update func(context.Context, *superglue.Integration) error) (*superglue.Integration, error) {
	integration, err := get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, errhandling.TokenRefreshFailed(fmt.Sprintf("unknown integration %q", integrationID), nil)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	c.addClientCredentials(form, integration)

	tok, err := c.exchangeToken(ctx, resolveTokenURL(integration, c.catalog), form)
	if err != nil {
		return nil, errhandling.TokenRefreshFailed(err.Error(), err)
	}

	applyTokenResponse(integration, tok, "")

	if err := update(ctx, integration); err != nil {
		return nil, err
	}
	return integration, nil
}

func (c *Client) addClientCredentials(form url.Values, integration *superglue.Integration) {
	if v := integration.Credentials[superglue.CredClientID]; v != "" {
		form.Set("client_id", v)
	}
	if v := integration.Credentials[superglue.CredClientSecret]; v != "" {
		form.Set("client_secret", v)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// exchangeToken POSTs form to tokenURL and parses the token response. It is
// shared by RefreshToken and HandleCallback since both are a standard OAuth2
// token-endpoint exchange differing only in grant_type.
func (c *Client) exchangeToken(ctx context.Context, tokenURL string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing token request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("oauth: failed to close token response body", "error", closeErr.Error())
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading token response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, fmt.Errorf("token endpoint returned an empty access_token")
	}
	return &tok, nil
}

// applyTokenResponse writes tok onto integration.Credentials.
// fallbackRefreshToken is kept when the token endpoint didn't return a new
// one (refresh_token rotation is optional per RFC 6749 §6).
func applyTokenResponse(integration *superglue.Integration, tok *tokenResponse, fallbackRefreshToken string) {
	if integration.Credentials == nil {
		integration.Credentials = map[string]string{}
	}
	integration.Credentials[superglue.CredAccessToken] = tok.AccessToken

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = fallbackRefreshToken
	}
	if refreshToken != "" {
		integration.Credentials[superglue.CredRefreshToken] = refreshToken
	}

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	integration.Credentials[superglue.CredTokenType] = tokenType

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	integration.Credentials[superglue.CredExpiresAt] = time.Now().Add(time.Duration(expiresIn) * time.Second).Format(time.RFC3339)
}

// resolveTokenURL implements §4.7's token URL precedence: an explicit
// credentials.token_url, then the integration catalog's default, then
// {urlHost}/oauth/token.
func resolveTokenURL(integration *superglue.Integration, catalog CatalogLookup) string {
	if v := integration.Credentials[superglue.CredTokenURL]; v != "" {
		return v
	}
	if catalog != nil {
		if v, ok := catalog(integration.URLHost); ok && v != "" {
			return v
		}
	}
	return strings.TrimRight(integration.URLHost, "/") + "/oauth/token"
}
