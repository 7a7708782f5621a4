package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
)

// Breaker trip threshold: trip when at least this many requests have been
// seen and the failure ratio reaches breakerFailureRatio.
const (
	breakerMinRequests   = 5
	breakerFailureRatio  = 0.6
	breakerHalfOpenCalls = 3
)

// TokenSource supplies the bearer token for privileged calls.
type TokenSource func(ctx context.Context) (string, error)

// CSRFSource supplies the X-CSRF-Token header value.
type CSRFSource func(ctx context.Context) string

// AdminClient calls the privileged admin API. Every request carries a fresh
// bearer token and the CSRF token; the whole client sits behind a circuit
// breaker so a dead backend fails fast instead of queueing timeouts.
type AdminClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
	token      TokenSource
	csrf       CSRFSource
}

// CreateUserRequest is the payload for privileged user creation.
type CreateUserRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	DisplayName      string `json:"displayName,omitempty"`
	Role             string `json:"role,omitempty"`
	OrganizationID   string `json:"organizationId,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
}

// CreateUserResponse is the admin API's answer to a creation request.
type CreateUserResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// NewAdminClient builds the client from backend settings. Returns an error
// when no admin API URL is configured, privileged actions are then simply
// unavailable.
func NewAdminClient(cfg config.BackendConfig, token TokenSource, csrf CSRFSource) (*AdminClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.AdminAPIURL), "/")
	if base == "" {
		return nil, errors.New("admin API URL not configured")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "admin-api",
		MaxRequests: breakerHalfOpenCalls,
		Interval:    time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.Breaker.MaxFailures > 0 {
				return counts.ConsecutiveFailures >= uint32(cfg.Breaker.MaxFailures)
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && ratio >= breakerFailureRatio
		},
	}

	return &AdminClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		token:      token,
		csrf:       csrf,
	}, nil
}

// CreateUser provisions a user through the admin API.
func (c *AdminClient) CreateUser(ctx context.Context, req CreateUserRequest) (*CreateUserResponse, error) {
	var resp CreateUserResponse
	if err := c.post(ctx, "/users", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteUser removes a user through the admin API.
func (c *AdminClient) DeleteUser(ctx context.Context, uid, email string) error {
	payload := map[string]string{"uid": uid, "email": email}
	return c.post(ctx, "/users/delete", payload, nil)
}

// SendRecoveryEmail asks the admin API to dispatch a password recovery mail.
func (c *AdminClient) SendRecoveryEmail(ctx context.Context, email string) error {
	payload := map[string]string{"email": email}
	return c.post(ctx, "/users/recovery", payload, nil)
}

// apiError is the admin API's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AdminClient) post(ctx context.Context, path string, payload, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%w: obtaining token: %w", ErrNoActiveSession, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding admin request: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if c.csrf != nil {
			req.Header.Set("X-CSRF-Token", c.csrf(ctx))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var envelope apiError
			message := resp.Status
			if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil && envelope.Error.Message != "" {
				message = envelope.Error.Message
			}
			return nil, fmt.Errorf("admin API %s: %s", path, message)
		}

		if out == nil {
			return nil, nil
		}
		raw := json.NewDecoder(resp.Body)
		if decodeErr := raw.Decode(out); decodeErr != nil {
			return nil, fmt.Errorf("decoding admin response: %w", decodeErr)
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return err
	}
	return nil
}
