package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulseboard/internal/types"
)

func newTestIdentityClient(t *testing.T, serverURL string) *IdentityClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-identity",
		RetryPolicy{
			MaxRetries: 0,
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"Pulseboard-Test/1.0",
		WithSleepFunc(noopSleep),
	)

	return NewIdentityClientWithBase(base, IdentityClientConfig{
		BaseURL: serverURL,
	})
}

func TestResolveToken_Success(t *testing.T) {
	var receivedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/me" {
			t.Errorf("expected path /v1/sessions/me, got %s", r.URL.Path)
		}
		receivedAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user": map[string]interface{}{
				"id":    "user_123",
				"email": "alice@example.com",
				"name":  "Alice Example",
			},
		})
	}))
	defer server.Close()

	client := newTestIdentityClient(t, server.URL)

	actor, err := client.ResolveToken(context.Background(), "tok_valid")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if receivedAuth != "Bearer tok_valid" {
		t.Errorf("expected Authorization 'Bearer tok_valid', got '%s'", receivedAuth)
	}
	if actor.ID != "user_123" {
		t.Errorf("expected actor ID user_123, got %s", actor.ID)
	}
	if actor.PrimaryEmail != "alice@example.com" {
		t.Errorf("expected email alice@example.com, got %s", actor.PrimaryEmail)
	}
	if actor.DisplayName != "Alice Example" {
		t.Errorf("expected name Alice Example, got %s", actor.DisplayName)
	}
}

func TestResolveToken_RejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client := newTestIdentityClient(t, server.URL)

		_, err := client.ResolveToken(context.Background(), "tok_bad")
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}

		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			t.Fatalf("status %d: expected *types.AppError, got %T", status, err)
		}
		if appErr.Code != types.ErrCodeAuthTokenInvalid {
			t.Errorf("status %d: expected code %s, got %s", status, types.ErrCodeAuthTokenInvalid, appErr.Code)
		}
	}
}

func TestResolveToken_ProviderOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestIdentityClient(t, server.URL)

	_, err := client.ResolveToken(context.Background(), "tok_valid")
	if err == nil {
		t.Fatal("expected error for provider outage")
	}

	// A 5xx from the provider must NOT look like a rejected token: the
	// BaseClient maps it to an upstream failure, which the auth middleware
	// surfaces as 502 rather than 401.
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code == types.ErrCodeAuthTokenInvalid {
		t.Errorf("provider outage must not map to %s", types.ErrCodeAuthTokenInvalid)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected code %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}

func TestResolveToken_MalformedSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user": {}}`))
	}))
	defer server.Close()

	client := newTestIdentityClient(t, server.URL)

	_, err := client.ResolveToken(context.Background(), "tok_valid")
	if err == nil {
		t.Fatal("expected error for session without a user ID")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeAuthTokenInvalid {
		t.Errorf("expected code %s, got %s", types.ErrCodeAuthTokenInvalid, appErr.Code)
	}
}

func TestResolveToken_NonJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login page</html>`))
	}))
	defer server.Close()

	client := newTestIdentityClient(t, server.URL)

	_, err := client.ResolveToken(context.Background(), "tok_valid")
	if err == nil {
		t.Fatal("expected error for non-JSON session body")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamIdentity {
		t.Errorf("expected code %s, got %s", types.ErrCodeUpstreamIdentity, appErr.Code)
	}
}
