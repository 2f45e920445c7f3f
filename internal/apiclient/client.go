package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backoffice/internal/auth"
	"backoffice/internal/tokencache"
)

// ErrReloginRequired means the cached credentials are gone or unusable and
// the user has to sign in again.
var ErrReloginRequired = errors.New("session ended, log in again")

const codeTokenExpired = "token_expired"

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Code, e.Message)
}

type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

type tokenResponse struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
	SessionID       string    `json:"sessionId"`
	User            Account   `json:"user"`
}

// Client calls the back-office API on behalf of one signed-in user. A request
// that finds the access token expired gets exactly one refresh and one retry.
// Anything else that fails authentication clears the cache.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *tokencache.Cache
	users   *tokencache.UserCache
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, tokens *tokencache.Cache, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		users:   tokencache.NewUserCache(5 * time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Login(ctx context.Context, email, password string) (Account, error) {
	var resp tokenResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return Account{}, err
	}
	if err := c.store(resp); err != nil {
		return Account{}, err
	}
	return resp.User, nil
}

// Refresh exchanges the cached refresh token for a new pair. A rejected
// refresh token clears the cache and returns ErrReloginRequired. Transient
// failures such as rate limiting or an unavailable server keep the cache.
func (c *Client) Refresh(ctx context.Context) error {
	cached, ok, err := c.tokens.GetTokens()
	if err != nil || !ok || cached.RefreshToken == "" {
		c.forget()
		return ErrReloginRequired
	}

	var resp tokenResponse
	err = c.send(ctx, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refreshToken": cached.RefreshToken,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && refreshRejected(apiErr.Status) {
			c.forget()
			return ErrReloginRequired
		}
		return err
	}
	return c.store(resp)
}

func refreshRejected(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// Logout ends the server session and always clears the local cache.
func (c *Client) Logout(ctx context.Context) error {
	defer c.forget()

	cached, ok, err := c.tokens.GetTokens()
	if err != nil || !ok || cached.AccessToken == "" {
		return nil
	}
	err = c.send(ctx, http.MethodPost, "/api/v1/auth/logout", cached.AccessToken, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return nil
	}
	return err
}

func (c *Client) Me(ctx context.Context) (Account, error) {
	var resp struct {
		User Account `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &resp); err != nil {
		return Account{}, err
	}
	return resp.User, nil
}

// CurrentUser decodes the cached access token for display. It is not a
// security check.
func (c *Client) CurrentUser() (*auth.User, bool) {
	cached, ok, err := c.tokens.GetTokens()
	if err != nil || !ok {
		return nil, false
	}
	return c.users.User(cached.AccessToken)
}

// Do sends an authenticated request, decoding a 2xx JSON body into out.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	refreshed := false
	if !c.tokens.HasValidToken() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		refreshed = true
	}

	for {
		cached, ok, err := c.tokens.GetTokens()
		if err != nil || !ok {
			c.forget()
			return ErrReloginRequired
		}

		err = c.send(ctx, method, path, cached.AccessToken, body, out)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
			return err
		}

		if apiErr.Code != codeTokenExpired || refreshed {
			c.forget()
			return ErrReloginRequired
		}
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		refreshed = true
	}
}

func (c *Client) store(resp tokenResponse) error {
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return errors.New("token response is missing tokens")
	}
	c.users.Clear()
	return c.tokens.SetTokens(tokencache.CachedToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.AccessExpiresAt,
	})
}

func (c *Client) forget() {
	_ = c.tokens.ClearTokens()
	c.users.Clear()
}

func (c *Client) send(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
