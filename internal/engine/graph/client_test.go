package graph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/platform/config"
)

type stubSource struct {
	token        string
	refreshed    string
	refreshCalls int
	refreshErr   error
}

func (s *stubSource) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s *stubSource) ForceRefresh(ctx context.Context) (string, error) {
	s.refreshCalls++
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return s.refreshed, nil
}

func testClient(serverURL string) *Client {
	return NewClient(config.GraphConfig{
		BaseURL:            serverURL,
		RequestTimeout:     5 * time.Second,
		RetryAttempts:      3,
		RetryBaseBackoff:   time.Millisecond,
		RateLimitPerSecond: 1000,
	})
}

func TestClient_FetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/chats/c1/messages/m1" {
			t.Errorf("Path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"m1"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	body, err := client.Fetch(context.Background(), "/chats/c1/messages/m1", &stubSource{token: "tok-1"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != `{"id":"m1"}` {
		t.Errorf("Body = %s", body)
	}
}

func TestClient_RateLimitedThenSuccess(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Fetch(context.Background(), "/r", &stubSource{token: "t"}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestClient_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Fetch(context.Background(), "/r", &stubSource{token: "t"})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusTooManyRequests {
		t.Errorf("Expected wrapped 429 StatusError, got %v", err)
	}
}

func TestClient_UnauthorizedRefreshesOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	src := &stubSource{token: "stale", refreshed: "fresh"}
	client := testClient(server.URL)
	if _, err := client.Fetch(context.Background(), "/r", src); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if src.refreshCalls != 1 {
		t.Errorf("Expected 1 refresh, got %d", src.refreshCalls)
	}
}

func TestClient_UnauthorizedAfterRefreshSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src := &stubSource{token: "stale", refreshed: "still-stale"}
	client := testClient(server.URL)
	_, err := client.Fetch(context.Background(), "/r", src)
	if err == nil {
		t.Fatal("Expected error")
	}
	if src.refreshCalls != 1 {
		t.Errorf("Expected exactly 1 refresh, got %d", src.refreshCalls)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		t.Errorf("Expected 401 StatusError, got %v", err)
	}
}

func TestClient_ServerErrorsSurfaceBody(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"code":"UnknownError"}}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Fetch(context.Background(), "/r", &stubSource{token: "t"})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "UnknownError") {
		t.Errorf("Expected error body surfaced, got %v", err)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NotFound"}}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Fetch(context.Background(), "/r", &stubSource{token: "t"}); err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt for a 404, got %d", calls)
	}
}

func TestNormalizeResourcePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Plain path",
			input:    "chats/c1/messages/m1",
			expected: "/chats/c1/messages/m1",
		},
		{
			name:     "Already rooted",
			input:    "/chats/c1/messages/m1",
			expected: "/chats/c1/messages/m1",
		},
		{
			name:     "Absolute URL with version",
			input:    "https://graph.microsoft.com/v1.0/teams/t1/channels/c1/messages/m1",
			expected: "/teams/t1/channels/c1/messages/m1",
		},
		{
			name:     "Beta prefix",
			input:    "/beta/chats/c1/messages/m1",
			expected: "/chats/c1/messages/m1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeResourcePath(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeResourcePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Errorf("parseRetryAfter(5) = %v", got)
	}
	if got := parseRetryAfter(""); got != 60*time.Second {
		t.Errorf("parseRetryAfter empty = %v, want default 60s", got)
	}
}
