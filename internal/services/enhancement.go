package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

// EnhancementClient performs the paid synthesis call. Transient failures
// (timeout, 408, 429, 5xx, temporary network errors) get exactly one
// automatic retry after a fixed backoff; everything else is surfaced
// immediately.
type EnhancementClient interface {
	Synthesize(ctx context.Context, userID uuid.UUID, weekKey string, entries []*types.DreamEntry) (string, error)
}

type enhancementClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

const defaultRetryBackoff = 800 * time.Millisecond

func NewEnhancementClient(log *logger.Logger) (EnhancementClient, error) {
	apiKey := os.Getenv("ENHANCE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing ENHANCE_API_KEY")
	}

	baseURL := os.Getenv("ENHANCE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.somnari.app/synthesis"
	}

	timeoutSec := 25
	if v := os.Getenv("ENHANCE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	backoff := defaultRetryBackoff
	if v := os.Getenv("ENHANCE_RETRY_BACKOFF_MS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			backoff = time.Duration(parsed) * time.Millisecond
		}
	}

	return &enhancementClient{
		log:        log.With("service", "EnhancementClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		backoff:    backoff,
	}, nil
}

// NewEnhancementClientForTest wires a client against an arbitrary base
// URL with no env requirements.
func NewEnhancementClientForTest(baseURL string, backoff time.Duration, log *logger.Logger) EnhancementClient {
	return &enhancementClient{
		log:        log.With("service", "EnhancementClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     "test",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		backoff:    backoff,
	}
}

type enhanceHTTPError struct {
	StatusCode int
	Body       string
}

func (e *enhanceHTTPError) Error() string {
	return fmt.Sprintf("enhancement http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// IsTransient classifies an enhancement failure for retry purposes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *enhanceHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

type synthesizeRequest struct {
	UserID  string            `json:"user_id"`
	WeekKey string            `json:"week_key"`
	Dreams  []synthesizeDream `json:"dreams"`
}

type synthesizeDream struct {
	Body string `json:"body"`
	Mood string `json:"mood,omitempty"`
}

type synthesizeResponse struct {
	Text string `json:"text"`
}

func (c *enhancementClient) Synthesize(ctx context.Context, userID uuid.UUID, weekKey string, entries []*types.DreamEntry) (string, error) {
	payload := synthesizeRequest{
		UserID:  userID.String(),
		WeekKey: weekKey,
		Dreams:  make([]synthesizeDream, 0, len(entries)),
	}
	for _, e := range entries {
		payload.Dreams = append(payload.Dreams, synthesizeDream{Body: e.Body, Mood: e.Mood})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal synthesis request: %w", err)
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.call(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == maxAttempts || !IsTransient(err) {
			break
		}
		c.log.Warn("transient enhancement failure, retrying once", "week_key", weekKey, "error", err)
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (c *enhancementClient) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &enhanceHTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out synthesizeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// Some deployments return the narrative as plain text.
		return string(raw), nil
	}
	if out.Text == "" {
		return string(raw), nil
	}
	return out.Text, nil
}
