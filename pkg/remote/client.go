package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/pkg/auth"
	"github.com/lumehealth/lume-sync/pkg/circuitbreaker"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

const apiRoot = "/api/v1"

// Config holds the remote client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client performs authenticated HTTP exchanges with the sync backend.
// One outbox event becomes one call here; the token lifecycle is handled
// transparently (refresh-on-401, single flight, logout on dead
// credentials).
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	tokens  *auth.Manager
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, tokens *auth.Manager, log *logger.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL + apiRoot,
		apiKey:  cfg.APIKey,
		tokens:  tokens,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "sync-backend",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		log:     log,
		metrics: m,
	}
	tokens.SetRefresher(c)
	return c
}

// Breaker exposes breaker state for the diagnostics API.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// RefreshTokens implements auth.Refresher. The refresh endpoint is the
// one call that must not recurse into the bearer-token path.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Unavailable("failed to read refresh response", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.countRequest("auth/refresh", resp.StatusCode)
		return nil, decodeError(resp.StatusCode, raw)
	}
	c.countRequest("auth/refresh", resp.StatusCode)

	var env dataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode refresh envelope: %w", err)
	}
	var pair model.TokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		return nil, fmt.Errorf("failed to decode token pair: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, apperrors.Validation("refresh response missing tokens", nil)
	}
	return &pair, nil
}

func (c *Client) CreateProgressEntry(ctx context.Context, dto *ProgressEntryDTO) (*ProgressEntryDTO, error) {
	var out ProgressEntryDTO
	if err := c.do(ctx, http.MethodPost, "/progress", dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProgressEntry(ctx context.Context, backendID string, dto *ProgressEntryDTO) (*ProgressEntryDTO, error) {
	var out ProgressEntryDTO
	if err := c.do(ctx, http.MethodPatch, "/progress/"+url.PathEscape(backendID), dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateMoodEntry(ctx context.Context, dto *MoodEntryDTO) (*MoodEntryDTO, error) {
	var out MoodEntryDTO
	if err := c.do(ctx, http.MethodPost, "/mood", dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMoodEntry(ctx context.Context, backendID string, dto *MoodEntryDTO) (*MoodEntryDTO, error) {
	var out MoodEntryDTO
	if err := c.do(ctx, http.MethodPatch, "/mood/"+url.PathEscape(backendID), dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateWorkout(ctx context.Context, dto *WorkoutDTO) (*WorkoutDTO, error) {
	var out WorkoutDTO
	if err := c.do(ctx, http.MethodPost, "/workouts", dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateWorkout(ctx context.Context, backendID string, dto *WorkoutDTO) (*WorkoutDTO, error) {
	var out WorkoutDTO
	if err := c.do(ctx, http.MethodPatch, "/workouts/"+url.PathEscape(backendID), dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateMeal(ctx context.Context, dto *MealDTO) (*MealDTO, error) {
	var out MealDTO
	if err := c.do(ctx, http.MethodPost, "/meals", dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMeal(ctx context.Context, backendID string, dto *MealDTO) (*MealDTO, error) {
	var out MealDTO
	if err := c.do(ctx, http.MethodPatch, "/meals/"+url.PathEscape(backendID), dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProgress reads a bounded remote history window. Verification and
// current-value reads only.
func (c *Client) ListProgress(ctx context.Context, q ListQuery) (*ProgressPage, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	params.Set("from", q.From.Format(time.RFC3339))
	params.Set("to", q.To.Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))

	var out ProgressPage
	if err := c.do(ctx, http.MethodGet, "/progress?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do runs one authenticated exchange. The loop is the 401 retry budget:
// a first 401 triggers a (single-flight) refresh and exactly one replay;
// a second 401 is terminal and forces logout.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-API-Key", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		var resp *http.Response
		err = c.breaker.Execute(func() error {
			var doErr error
			resp, doErr = c.http.Do(req)
			return doErr
		})
		if err != nil {
			if err == circuitbreaker.ErrOpen {
				return apperrors.Unavailable("sync backend circuit open", err)
			}
			return classifyTransportError(ctx, err)
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return apperrors.Unavailable("failed to read response", err)
		}
		c.countRequest(path, resp.StatusCode)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			var env dataEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("failed to decode response envelope: %w", err)
			}
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("failed to decode response payload: %w", err)
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			if attempt == 0 {
				if _, err := c.tokens.Refresh(ctx, token); err != nil {
					return err
				}
				continue
			}
			c.tokens.ForceLogout()
			return apperrors.Unauthorized(nil)

		default:
			return decodeError(resp.StatusCode, raw)
		}
	}
	return apperrors.Unauthorized(nil)
}

func (c *Client) countRequest(endpoint string, status int) {
	if c.metrics == nil {
		return
	}
	class := strconv.Itoa(status/100) + "xx"
	c.metrics.RemoteRequests.WithLabelValues(endpoint, class).Inc()
}

func decodeError(status int, raw []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Message == "" {
		env.Message = http.StatusText(status)
	}
	return apperrors.FromStatusCode(status, env.Message)
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Timeout(err)
	}
	return apperrors.Unavailable("request failed", err)
}
