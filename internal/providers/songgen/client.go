package songgen

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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("songgen: api key is required")

// Options configures the song generation API client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	CallbackURL    string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// PollSpacing is the minimum interval between two PollOnce calls for the
	// same provider job. Calls arriving faster fail with domain.ErrRateLimited
	// instead of reaching the provider.
	PollSpacing time.Duration
}

// Client talks to the external song generation service. It holds no job
// state; observations it produces are merged by the reconciler.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	callbackURL string
	httpClient  *http.Client
	logger      *infra.Logger
	spacing     time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type submitRequest struct {
	Model       string `json:"model"`
	Recipient   string `json:"recipient"`
	Occasion    string `json:"occasion"`
	Style       string `json:"style"`
	Language    string `json:"language,omitempty"`
	Notes       string `json:"notes,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.songgen.example.com/v2"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "chirp-v3-5"
	}
	spacing := opts.PollSpacing
	if spacing <= 0 {
		spacing = time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		model:       model,
		callbackURL: opts.CallbackURL,
		httpClient:  httpClient,
		logger:      logger,
		spacing:     spacing,
		limiters:    make(map[string]*rate.Limiter),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Submit enqueues a generation task with the provider and returns its
// correlation ID. Transport failures map to domain.ErrProviderUnavailable,
// provider-side validation failures to domain.ErrProviderRejected with the
// provider's message preserved.
func (c *Client) Submit(ctx context.Context, req domain.SongRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	payload := submitRequest{
		Model:       c.model,
		Recipient:   req.Recipient,
		Occasion:    req.Occasion,
		Style:       req.Style,
		Language:    req.Language,
		Notes:       req.Notes,
		CallbackURL: c.callbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("songgen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("songgen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("songgen: submit: %v: %w", err, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("songgen: read response: %v: %w", err, domain.ErrProviderUnavailable)
	}
	if err := c.checkStatus(resp.StatusCode, raw); err != nil {
		return "", err
	}

	providerJobID, _, err := parsePayload(raw)
	if err != nil {
		return "", fmt.Errorf("songgen: submit response: %w", err)
	}
	c.logger.Debug().
		Str("provider_job_id", providerJobID).
		Str("model", c.model).
		Msg("songgen: task submitted")
	return providerJobID, nil
}

// PollOnce fetches the provider's current view of one task. It enforces a
// minimum inter-call spacing per provider job and fails fast with
// domain.ErrRateLimited when called harder than that.
func (c *Client) PollOnce(ctx context.Context, providerJobID string) (domain.Observation, error) {
	if c.apiKey == "" {
		return domain.Observation{}, ErrMissingAPIKey
	}
	if providerJobID == "" {
		return domain.Observation{}, fmt.Errorf("songgen: provider job id is required")
	}
	if !c.limiter(providerJobID).Allow() {
		return domain.Observation{}, fmt.Errorf("songgen: poll %s: %w", providerJobID, domain.ErrRateLimited)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+providerJobID, nil)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("songgen: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("songgen: poll: %v: %w", err, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("songgen: read response: %v: %w", err, domain.ErrProviderUnavailable)
	}
	if err := c.checkStatus(resp.StatusCode, raw); err != nil {
		return domain.Observation{}, err
	}

	_, obs, err := parsePayload(raw)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("songgen: poll response: %w", err)
	}
	obs.Source = domain.SourcePoll
	return obs, nil
}

// ParseCallback normalizes a raw provider callback body into an observation.
// The provider has shipped several payload shapes over time; extraction probes
// a prioritized list of known field locations and tolerates unknown fields.
// It fails with domain.ErrUnrecognizedPayload only when no correlation ID can
// be found anywhere.
func (c *Client) ParseCallback(raw []byte) (string, domain.Observation, error) {
	providerJobID, obs, err := parsePayload(raw)
	if err != nil {
		return "", domain.Observation{}, fmt.Errorf("songgen: callback: %w", err)
	}
	obs.Source = domain.SourceCallback
	return providerJobID, obs, nil
}

func (c *Client) checkStatus(status int, raw []byte) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("songgen: status %d: %w", status, domain.ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("songgen: status %d: %w", status, domain.ErrProviderUnavailable)
	default:
		var detail errorResponse
		msg := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &detail); err == nil {
			if detail.Message != "" {
				msg = detail.Message
			} else if detail.Error != "" {
				msg = detail.Error
			}
		}
		return fmt.Errorf("songgen: %s: %w", msg, domain.ErrProviderRejected)
	}
}

func (c *Client) limiter(providerJobID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[providerJobID]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.spacing), 1)
		c.limiters[providerJobID] = l
	}
	return l
}

// Forget drops the rate limiter kept for a finished provider job.
func (c *Client) Forget(providerJobID string) {
	c.mu.Lock()
	delete(c.limiters, providerJobID)
	c.mu.Unlock()
}
