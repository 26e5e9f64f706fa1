package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"chatrelay/internal/platform/config"
)

// CredentialSource yields a bearer token for outbound calls. ForceRefresh is
// the 401 escape hatch: it must bypass any cached token.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// StatusError carries the remote status and any structured error body so
// callers can see what the platform actually said.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("graph: HTTP %d", e.Status)
	}
	return fmt.Sprintf("graph: HTTP %d: %s", e.Status, e.Body)
}

// Client performs authenticated calls against the Graph API with bounded
// retries for transient failures.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	attempts    int
	baseBackoff time.Duration
	limiter     *rate.Limiter
}

func NewClient(cfg config.GraphConfig) *Client {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseBackoff := cfg.RetryBaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	rps := cfg.RateLimitPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		attempts:    attempts,
		baseBackoff: baseBackoff,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// Fetch retrieves the resource named by a notification and returns the raw
// JSON payload.
func (c *Client) Fetch(ctx context.Context, resourcePath string, src CredentialSource) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, NormalizeResourcePath(resourcePath), nil, src)
}

// Do runs one authenticated request with the retry policy: 429 honors the
// server's Retry-After, 401 forces a single credential refresh, network and
// 5xx failures back off exponentially. Other client errors surface as-is.
func (c *Client) Do(ctx context.Context, method, path string, payload interface{}, src CredentialSource) (json.RawMessage, error) {
	token, err := src.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	refreshed := false
	var lastErr error

	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request %s %s: %w", method, path, err)
			log.Warn().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("graph request failed")
			if attempt < c.attempts-1 {
				if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
					return nil, err
				}
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = &StatusError{Status: resp.StatusCode, Body: string(body)}
			log.Warn().Dur("retry_after", retryAfter).Str("path", path).Msg("graph rate limited")
			if attempt < c.attempts-1 {
				if err := sleepCtx(ctx, retryAfter); err != nil {
					return nil, err
				}
			}

		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			log.Warn().Str("path", path).Msg("graph unauthorized, refreshing credential")
			token, err = src.ForceRefresh(ctx)
			if err != nil {
				return nil, fmt.Errorf("refresh credential: %w", err)
			}
			refreshed = true
			// The refresh itself does not consume an attempt.
			attempt--

		case resp.StatusCode >= 500:
			lastErr = &StatusError{Status: resp.StatusCode, Body: string(body)}
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("path", path).Msg("graph server error")
			if attempt < c.attempts-1 {
				if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
					return nil, err
				}
			}

		case resp.StatusCode >= 400:
			return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}

		default:
			return body, nil
		}
	}

	return nil, fmt.Errorf("graph request failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.baseBackoff << attempt
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 60 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NormalizeResourcePath reduces the resource reference a notification carries
// (sometimes an absolute URL, sometimes prefixed with an API version) to the
// path the client can request.
func NormalizeResourcePath(resource string) string {
	if strings.HasPrefix(resource, "https://") || strings.HasPrefix(resource, "http://") {
		if u, err := url.Parse(resource); err == nil {
			resource = u.Path
		}
	}

	if _, after, found := strings.Cut(resource, "/v1.0/"); found {
		resource = after
	} else if _, after, found := strings.Cut(resource, "/beta/"); found {
		resource = after
	}

	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
	}
	return resource
}
