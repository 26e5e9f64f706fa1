package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"chatrelay/internal/platform/config"
)

// TokenClient talks to the identity provider's token endpoint. It covers the
// three grant modes the relay needs: client credentials for the application
// identity, authorization code for delegated sign-in, and refresh for keeping
// delegated credentials alive.
type TokenClient struct {
	tenantID     string
	clientID     string
	clientSecret string
	loginBaseURL string
	redirectURL  string
	scopes       []string
	httpClient   *http.Client
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func NewTokenClient(cfg config.GraphConfig, oauth config.OAuthConfig) *TokenClient {
	return &TokenClient{
		tenantID:     cfg.TenantID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		loginBaseURL: strings.TrimRight(cfg.LoginBaseURL, "/"),
		redirectURL:  oauth.RedirectURL,
		scopes:       oauth.Scopes,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *TokenClient) tokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginBaseURL, c.tenantID)
}

// AuthorizeURL builds the redirect target for the delegated sign-in flow.
func (c *TokenClient) AuthorizeURL(state string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"response_type": {"code"},
		"redirect_uri":  {c.redirectURL},
		"response_mode": {"query"},
		"scope":         {strings.Join(c.scopes, " ")},
		"state":         {state},
		"prompt":        {"select_account"},
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize?%s", c.loginBaseURL, c.tenantID, params.Encode())
}

func (c *TokenClient) ClientCredentials(ctx context.Context) (*TokenResponse, error) {
	log.Debug().Msg("acquiring application access token")
	return c.exchange(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
		"grant_type":    {"client_credentials"},
	})
}

func (c *TokenClient) AuthorizationCode(ctx context.Context, code string) (*TokenResponse, error) {
	log.Debug().Msg("exchanging authorization code")
	return c.exchange(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"redirect_uri":  {c.redirectURL},
		"grant_type":    {"authorization_code"},
		"scope":         {strings.Join(c.scopes, " ")},
	})
}

func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	log.Debug().Msg("refreshing delegated access token")
	return c.exchange(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
		"scope":         {strings.Join(c.scopes, " ")},
	})
}

func (c *TokenClient) exchange(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	if token.ExpiresIn == 0 {
		token.ExpiresIn = 3600
	}
	return &token, nil
}
