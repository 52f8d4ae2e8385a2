// Package inference runs the tumor classifier. Images are decoded and
// normalized locally; the forward pass happens on a TensorFlow Serving
// compatible model server reached over REST.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/imaging"
)

// Model is a two-class classifier returning [p_no_tumor, p_tumor].
type Model interface {
	Predict(ctx context.Context, tensor imaging.Tensor) ([]float64, error)
	Version() string
}

// ModelServerConfig represents configuration for the model server client
type ModelServerConfig struct {
	BaseURL   string
	ModelName string
	Version   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
}

// ModelServerClient calls the model server's predict endpoint
type ModelServerClient struct {
	baseURL    string
	modelName  string
	version    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// errCallerGone marks a call abandoned because the caller's context ended.
// Such calls say nothing about the model server's health.
var errCallerGone = errors.New("caller abandoned model call")

type predictRequest struct {
	Instances []imaging.Tensor `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// NewModelServerClient creates a new model server client
func NewModelServerClient(config ModelServerConfig, logger *logrus.Logger) *ModelServerClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 20
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.ModelName == "" {
		config.ModelName = "brain_tumor"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ModelServer",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerGone)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
			breakerState.Set(float64(to))
		},
	})

	return &ModelServerClient{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		modelName: config.ModelName,
		version:   config.Version,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		breaker:   breaker,
		log:       logger,
	}
}

// Version returns the configured model version
func (c *ModelServerClient) Version() string {
	return c.version
}

// Predict sends one tensor and returns the class probabilities
func (c *ModelServerClient) Predict(ctx context.Context, tensor imaging.Tensor) ([]float64, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait failed: %v", domain.ErrInferenceUnavailable, err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		probs, err := c.doPredict(ctx, tensor)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errCallerGone, ctx.Err())
		}
		return probs, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: model server circuit open", domain.ErrInferenceUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInferenceUnavailable, err)
	}
	return out.([]float64), nil
}

func (c *ModelServerClient) doPredict(ctx context.Context, tensor imaging.Tensor) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: []imaging.Tensor{tensor}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", c.baseURL, c.modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model server response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("model server error: %s", parsed.Error)
	}
	if len(parsed.Predictions) != 1 || len(parsed.Predictions[0]) != 2 {
		return nil, fmt.Errorf("unexpected prediction shape")
	}
	for _, p := range parsed.Predictions[0] {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("prediction out of range: %v", p)
		}
	}
	return parsed.Predictions[0], nil
}

// Ping checks the model status endpoint
func (c *ModelServerClient) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/models/%s", c.baseURL, c.modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server returned status %d", resp.StatusCode)
	}
	return nil
}

// State reports the circuit breaker state
func (c *ModelServerClient) State() gobreaker.State {
	return c.breaker.State()
}
