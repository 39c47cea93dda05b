package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/echo-chat/client/internal/app"
	"github.com/zhouzirui/echo-chat/client/internal/config"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/metrics"
	authmodel "github.com/zhouzirui/echo-chat/client/internal/model/auth"
)

const (
	loginPath    = "/api/auth/local"
	registerPath = "/api/auth/local/register"

	maxResponseBytes = 1 << 20
)

// Result describes a successful login or registration.
type Result struct {
	Token    string
	User     *authmodel.User
	Redirect string
}

// Client talks to the remote auth endpoint and records the resulting identity in the
// application context. Requests are never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	appCtx     *app.Context
	metrics    *metrics.Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds an auth client for cfg.BaseURL.
func NewClient(cfg config.AuthConfig, appCtx *app.Context, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		appCtx:     appCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges an identifier (email or username) and password for a token.
func (c *Client) Login(ctx context.Context, identifier, password string) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Result{}, &Error{Kind: KindInvalid, Message: "email and password are required"}
	}

	return c.authenticate(ctx, "login", loginPath, authmodel.LoginRequest{
		Identifier: identifier,
		Password:   password,
	})
}

// Register creates an account and logs it in.
func (c *Client) Register(ctx context.Context, username, email, password string) (Result, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return Result{}, &Error{Kind: KindInvalid, Message: "username, email and password are required"}
	}

	return c.authenticate(ctx, "register", registerPath, authmodel.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
}

// Logout forgets the stored token and returns the route to navigate to.
func (c *Client) Logout() (string, error) {
	c.appCtx.ClearCurrentSession()
	if err := c.appCtx.ClearToken(); err != nil {
		return app.RouteEntry, err
	}
	logger.Info("logged out")
	return app.RouteEntry, nil
}

func (c *Client) authenticate(ctx context.Context, endpoint, path string, payload any) (Result, error) {
	resp, status, err := c.post(ctx, path, payload)
	if err != nil {
		c.metrics.AuthRequest(endpoint, KindTransport.String())
		logger.Error("auth request failed", "endpoint", endpoint, "error", err)
		return Result{}, &Error{Kind: KindTransport, Status: status, Message: "request failed", Err: err}
	}

	switch {
	case resp.JWT != "":
		if err := c.appCtx.SetToken(resp.JWT); err != nil {
			c.metrics.AuthRequest(endpoint, KindTransport.String())
			return Result{}, fmt.Errorf("%s: %w", endpoint, err)
		}
		c.metrics.AuthRequest(endpoint, "ok")
		logger.Info("authenticated", "endpoint", endpoint)
		return Result{Token: resp.JWT, User: resp.User, Redirect: app.RouteChat}, nil

	case resp.Error != nil && resp.Error.Message != "":
		c.metrics.AuthRequest(endpoint, KindRejected.String())
		return Result{}, &Error{Kind: KindRejected, Status: status, Message: resp.Error.Message}

	default:
		c.metrics.AuthRequest(endpoint, KindUnknown.String())
		logger.Warn("auth response carried neither token nor error", "endpoint", endpoint, "status", status)
		return Result{}, &Error{Kind: KindUnknown, Status: status, Message: "no token in response"}
	}
}

// post sends payload as JSON and decodes the reply whatever its status code; the server
// reports failures in the body.
func (c *Client) post(ctx context.Context, path string, payload any) (authmodel.Response, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return authmodel.Response{}, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return authmodel.Response{}, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return authmodel.Response{}, 0, err
	}
	defer res.Body.Close()

	var decoded authmodel.Response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return authmodel.Response{}, res.StatusCode, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)
	}
	return decoded, res.StatusCode, nil
}
