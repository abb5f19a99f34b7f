package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/httpclient"
	"github.com/Checker-Finance/credpool/internal/pool"
	"github.com/Checker-Finance/credpool/internal/rate"
	"github.com/Checker-Finance/credpool/pkg/model"
)

// ErrIdentityMismatch is returned when a call names an identity other than the
// token's subject. The server only ever acts for the token subject.
var ErrIdentityMismatch = errors.New("identity does not match token subject")

type Config struct {
	BaseURL           string
	Token             string
	RetryMax          int
	Timeout           time.Duration
	RequestsPerSecond int
	Burst             int
}

// PoolClient talks to the pool HTTP API and satisfies retry.Allocator.
type PoolClient struct {
	base     string
	token    string
	identity string
	exec     *httpclient.Executor
	logger   *zap.Logger
}

func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*PoolClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("pool client: base URL is required")
	}
	identity, err := Subject(cfg.Token)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Manager
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewManager(rate.Config{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst})
	}
	return &PoolClient{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		identity: identity,
		exec:     httpclient.New(logger, limiter, httpClient, cfg.RetryMax, "pool_client", decodeError),
		logger:   logger,
	}, nil
}

// Subject reads the identity from a bearer token without verifying it; the
// server does the verification.
func Subject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("pool client: malformed token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("pool client: token has no subject")
	}
	return claims.Subject, nil
}

func (c *PoolClient) Identity() string { return c.identity }

type credentialEnvelope struct {
	Credential *model.AssignedCredential `json:"credential"`
}

func (c *PoolClient) Preview(ctx context.Context, identityID string, exclude []string, skipCurrent bool) (*model.Credential, error) {
	if err := c.checkIdentity(identityID); err != nil {
		return nil, err
	}
	if exclude == nil {
		exclude = []string{}
	}
	var out credentialEnvelope
	err := c.post(ctx, "/api/v1/pool/preview", map[string]any{
		"exclude":     exclude,
		"skipCurrent": skipCurrent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return unwrap(out)
}

func (c *PoolClient) Confirm(ctx context.Context, identityID, credentialID string) (*model.Credential, error) {
	if err := c.checkIdentity(identityID); err != nil {
		return nil, err
	}
	var out credentialEnvelope
	if err := c.post(ctx, "/api/v1/pool/confirm", map[string]any{"credentialId": credentialID}, &out); err != nil {
		return nil, err
	}
	return unwrap(out)
}

func (c *PoolClient) ReportDead(ctx context.Context, credentialID, reason string) error {
	return c.post(ctx, "/api/v1/pool/dead", map[string]any{
		"credentialId": credentialID,
		"errorCode":    reason,
	}, nil)
}

func (c *PoolClient) Release(ctx context.Context) error {
	return c.post(ctx, "/api/v1/pool/release", map[string]any{}, nil)
}

// Assignment returns the credential the token's identity holds, or nil.
func (c *PoolClient) Assignment(ctx context.Context) (*model.Credential, error) {
	req, err := c.request(ctx, http.MethodGet, "/api/v1/pool/assignment", nil)
	if err != nil {
		return nil, err
	}
	var out credentialEnvelope
	if err := c.exec.DoJSON(ctx, req, c.identity, &out); err != nil {
		return nil, err
	}
	if out.Credential == nil {
		return nil, nil
	}
	return unwrap(out)
}

func (c *PoolClient) checkIdentity(identityID string) error {
	if identityID != "" && identityID != c.identity {
		return fmt.Errorf("%w: %q", ErrIdentityMismatch, identityID)
	}
	return nil
}

func (c *PoolClient) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.request(ctx, http.MethodPost, path, data)
	if err != nil {
		return err
	}
	return c.exec.DoJSON(ctx, req, c.identity, out)
}

func (c *PoolClient) request(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func unwrap(env credentialEnvelope) (*model.Credential, error) {
	if env.Credential == nil {
		return nil, fmt.Errorf("pool client: response has no credential")
	}
	c := env.Credential.Credential()
	return &c, nil
}

// decodeError maps API error bodies back onto the pool sentinels.
func decodeError(status int, body []byte) error {
	var apiErr model.APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("pool api returned %d", status)
	}
	if sentinel := pool.FromCode(apiErr.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, apiErr.Error)
	}
	return fmt.Errorf("pool api returned %d: %s", status, apiErr.Error)
}
