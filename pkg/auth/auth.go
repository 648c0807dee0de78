// Package auth is a client for the Google Identity Toolkit REST API. It
// covers the credential flows the service needs: email/password sign-up and
// sign-in, Google federated sign-in, refresh-token exchange, and ID token
// verification via the accounts:lookup endpoint.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultIdentityBaseURL    = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenBaseURL = "https://securetoken.googleapis.com/v1"
)

// Config holds auth client configuration
type Config struct {
	// APIKey is the Identity Toolkit web API key
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// IdentityBaseURL and SecureTokenBaseURL override the Google endpoints.
	// Intended for tests; leave empty in production.
	IdentityBaseURL    string
	SecureTokenBaseURL string
}

// Client calls the Identity Toolkit API
type Client struct {
	apiKey             string
	httpClient         *http.Client
	identityBaseURL    string
	secureTokenBaseURL string
}

// New creates a new Identity Toolkit client
func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("identity toolkit API key is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	identityBaseURL := config.IdentityBaseURL
	if identityBaseURL == "" {
		identityBaseURL = defaultIdentityBaseURL
	}
	secureTokenBaseURL := config.SecureTokenBaseURL
	if secureTokenBaseURL == "" {
		secureTokenBaseURL = defaultSecureTokenBaseURL
	}

	return &Client{
		apiKey:             config.APIKey,
		httpClient:         httpClient,
		identityBaseURL:    identityBaseURL,
		secureTokenBaseURL: secureTokenBaseURL,
	}, nil
}

// Session is the credential bundle returned by the sign-in flows.
type Session struct {
	UID          string
	Email        string
	DisplayName  string
	IDToken      string
	RefreshToken string
	ExpiresIn    string
}

// Claims is the identity extracted from a verified ID token.
type Claims struct {
	UID   string
	Email string
	Name  string
}

// SignUp registers a new email/password account.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	return c.credentialCall(ctx, "accounts:signUp", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithPassword authenticates an existing email/password account.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.credentialCall(ctx, "accounts:signInWithPassword", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithGoogle exchanges a Google OAuth ID token for a session.
func (c *Client) SignInWithGoogle(ctx context.Context, googleIDToken string) (*Session, error) {
	return c.credentialCall(ctx, "accounts:signInWithIdp", map[string]interface{}{
		"postBody":            fmt.Sprintf("id_token=%s&providerId=google.com", googleIDToken),
		"requestUri":          "http://localhost",
		"returnIdpCredential": true,
		"returnSecureToken":   true,
	})
}

// ExchangeRefreshToken trades a refresh token for a fresh ID token. The
// secure-token endpoint speaks form encoding, unlike the rest of the API.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := fmt.Sprintf("%s/token?key=%s", c.secureTokenBaseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		UserID       string `json:"user_id"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &Session{
		UID:          payload.UserID,
		IDToken:      payload.IDToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    payload.ExpiresIn,
	}, nil
}

// VerifyIDToken resolves an ID token to the account it belongs to. The lookup
// endpoint rejects expired, malformed, and revoked tokens, so a successful
// response is proof of a live session.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*Claims, error) {
	body, err := c.identityCall(ctx, "accounts:lookup", map[string]interface{}{
		"idToken": idToken,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Users []struct {
			LocalID     string `json:"localId"`
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"users"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(payload.Users) == 0 {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "USER_NOT_FOUND"}
	}

	u := payload.Users[0]
	return &Claims{UID: u.LocalID, Email: u.Email, Name: u.DisplayName}, nil
}

// TokenName extracts the display name claim from an ID token without
// verifying its signature. Callers must have verified the token already;
// this is only a convenience for reading profile data out of it.
func TokenName(idToken string) string {
	token, _, err := jwt.NewParser().ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	name, _ := claims["name"].(string)
	return name
}

func (c *Client) credentialCall(ctx context.Context, endpoint string, payload map[string]interface{}) (*Session, error) {
	body, err := c.identityCall(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		LocalID      string `json:"localId"`
		Email        string `json:"email"`
		DisplayName  string `json:"displayName"`
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &Session{
		UID:          result.LocalID,
		Email:        result.Email,
		DisplayName:  result.DisplayName,
		IDToken:      result.IDToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}

func (c *Client) identityCall(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	target := fmt.Sprintf("%s/%s?key=%s", c.identityBaseURL, endpoint, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity toolkit request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, parseAPIError(res.StatusCode, body)
	}
	return body, nil
}
