// Package idp talks to the hosted identity provider's auth REST API. It is
// the only package that knows the provider's wire format; everything it
// returns is translated into core types and sentinel errors.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
)

// Client implements core.Provider against a GoTrue-compatible auth endpoint.
// The current session (access + refresh token) is held in memory and renewed
// through the refresh grant on RestoreSession.
type Client struct {
	baseURL      string
	functionsURL string
	apiKey       string
	httpc        *http.Client
	log          *zap.Logger

	mu      sync.Mutex
	session *session
}

type session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		log:     zap.NewNop(),
	}
}

// WithFunctionsURL points password updates at the provider's functions
// endpoint. Defaults to baseURL with /auth/v1 swapped for /functions/v1.
func (c *Client) WithFunctionsURL(u string) *Client {
	c.functionsURL = strings.TrimRight(u, "/")
	return c
}

// WithHTTPClient overrides the HTTP client (tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client { c.httpc = h; return c }

// WithLogger sets the structured logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l == nil {
		l = zap.NewNop()
	}
	c.log = l
	return c
}

// providerUser is the provider's user representation.
type providerUser struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
}

// sessionResponse is the token grant / verify response shape.
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int           `json:"expires_in"`
	User         *providerUser `json:"user"`
}

type apiError struct {
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.Description, e.Error} {
		if s != "" {
			return s
		}
	}
	return "request failed"
}

func (u *providerUser) identity(provider string) *core.ProviderIdentity {
	if u == nil {
		return nil
	}
	return &core.ProviderIdentity{
		Subject:        u.ID,
		Email:          u.Email,
		Phone:          u.Phone,
		EmailConfirmed: u.EmailConfirmedAt != "",
		Provider:       provider,
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*core.ProviderIdentity, error) {
	var out providerUser
	err := c.post(ctx, "/signup", map[string]any{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.log.Debug("provider sign-up", zap.String("subject", out.ID))
	return out.identity(""), nil
}

func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*core.ProviderIdentity, error) {
	var out sessionResponse
	err := c.post(ctx, "/token?grant_type=password", map[string]any{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.storeSession(&out)
	return out.User.identity(""), nil
}

func (c *Client) SendOTP(ctx context.Context, contact string, channel core.Channel) error {
	body := map[string]any{"create_user": true}
	if channel == core.ChannelSMS {
		body["phone"] = contact
	} else {
		body["email"] = contact
	}
	return c.post(ctx, "/otp", body, nil)
}

func (c *Client) VerifyOTP(ctx context.Context, contact, code string, channel core.Channel) (*core.ProviderIdentity, error) {
	body := map[string]any{"token": code}
	if channel == core.ChannelSMS {
		body["type"] = "sms"
		body["phone"] = contact
	} else {
		body["type"] = "email"
		body["email"] = contact
	}
	var out sessionResponse
	if err := c.post(ctx, "/verify", body, &out); err != nil {
		// The provider answers 4xx for a wrong or expired code.
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return nil, fmt.Errorf("%w: %s", core.ErrInvalidOrExpiredCode, se.msg)
		}
		return nil, err
	}
	c.storeSession(&out)
	return out.User.identity(""), nil
}

// UpdatePasswordByEmail calls the provider's reset-password function, which
// force-sets the password for the account matching email without a session.
func (c *Client) UpdatePasswordByEmail(ctx context.Context, email, newPassword string) error {
	u := c.functionsURL
	if u == "" {
		u = strings.Replace(c.baseURL, "/auth/v1", "/functions/v1", 1)
	}
	return c.do(ctx, http.MethodPost, u+"/reset-password", map[string]any{
		"email":       email,
		"newPassword": newPassword,
	}, nil)
}

// RestoreSession renews the held session through the refresh grant. Returns
// (nil, nil) when no session was ever established.
func (c *Client) RestoreSession(ctx context.Context) (*core.ProviderIdentity, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil || sess.RefreshToken == "" {
		return nil, nil
	}
	var out sessionResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", map[string]any{"refresh_token": sess.RefreshToken}, &out)
	if err != nil {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		return nil, err
	}
	c.storeSession(&out)
	return out.User.identity(""), nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("%w: logout status %d", core.ErrProvider, resp.StatusCode)
	}
	return nil
}

// User fetches the provider's view of the current session's principal.
func (c *Client) User(ctx context.Context) (*core.ProviderIdentity, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil || sess.AccessToken == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProvider, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		return nil, &statusError{code: resp.StatusCode, msg: ae.text()}
	}
	var u providerUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", core.ErrProvider, err)
	}
	return u.identity(""), nil
}

// AccessToken returns the current session's access token, or "".
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) storeSession(out *sessionResponse) {
	if out.AccessToken == "" {
		return
	}
	c.mu.Lock()
	c.session = &session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, c.baseURL+path, body, out)
}

// statusError carries the provider's HTTP status so callers can distinguish
// rejected input from provider trouble. It always wraps core.ErrProvider.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.code, e.msg)
}

func (e *statusError) Unwrap() error { return core.ErrProvider }

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", core.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", core.ErrProvider, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		return &statusError{code: resp.StatusCode, msg: ae.text()}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", core.ErrProvider, err)
		}
	}
	return nil
}
