package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pulseboard/internal/types"
)

// IdentityClientConfig holds the configuration for creating an IdentityClient.
type IdentityClientConfig struct {
	BaseURL string
	Logger  *slog.Logger
}

// IdentityClient resolves dashboard session tokens against the identity
// provider's session endpoint. It implements core.Authenticator.
//
// The distinction between "the provider rejected this token" and "the
// provider is unreachable" matters: the first is a 401 to the caller, the
// second must surface as an upstream failure so clients do not treat a
// provider outage as a revoked session.
type IdentityClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewIdentityClient creates a new IdentityClient.
func NewIdentityClient(httpClient *http.Client, cfg IdentityClientConfig) *IdentityClient {
	base := NewBaseClient(
		httpClient,
		"identity",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    250 * time.Millisecond,
			MaxWait:    2 * time.Second,
		},
		"Pulseboard/1.0",
	)
	return NewIdentityClientWithBase(base, cfg)
}

// NewIdentityClientWithBase creates an IdentityClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewIdentityClientWithBase(base *BaseClient, cfg IdentityClientConfig) *IdentityClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &IdentityClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// identitySession is the JSON body returned by the provider's session endpoint.
type identitySession struct {
	User identityUser `json:"user"`
}

type identityUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ResolveToken validates a session token and returns the authenticated user.
func (c *IdentityClient) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sessions/me", nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to build identity session request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return nil, err
		}
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			"identity provider request failed",
			err,
		)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decoding.
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"session token rejected by identity provider",
			nil,
		)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"identity provider rate limit exceeded",
			nil,
		)
	default:
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("identity provider returned status %d", resp.StatusCode),
			nil,
		)
	}

	var session identitySession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			"failed to decode identity session response",
			err,
		)
	}

	if session.User.ID == "" {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"identity provider returned a session without a user",
			nil,
		)
	}

	return &types.Actor{
		ID:           session.User.ID,
		PrimaryEmail: session.User.Email,
		DisplayName:  session.User.Name,
	}, nil
}
