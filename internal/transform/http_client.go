package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/metrics"
)

// Config holds settings for the transformation service client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient calls the transformation provider over HTTP/JSON.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient creates a transformation client.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type processRequest struct {
	Model     string            `json:"model"`
	Artifacts []processArtifact `json:"artifacts"`
}

type processArtifact struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

type processResponse struct {
	Title string `json:"title"`
	Note  string `json:"note"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Process sends the job's artifacts for transformation. All failure
// paths return a typed *Error.
func (c *HTTPClient) Process(ctx context.Context, artifacts []*domain.ArtifactRef) (*Result, error) {
	start := time.Now()
	result, err := c.process(ctx, artifacts)
	metrics.TransformLatency.Observe(time.Since(start).Seconds())
	return result, err
}

func (c *HTTPClient) process(ctx context.Context, artifacts []*domain.ArtifactRef) (*Result, error) {
	if len(artifacts) == 0 {
		return nil, NewError(ErrInvalidInput, "job has no input artifacts", nil)
	}

	reqBody := processRequest{Model: c.cfg.Model}
	for _, a := range artifacts {
		reqBody.Artifacts = append(reqBody.Artifacts, processArtifact{Kind: string(a.Kind), URI: a.URI})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewError(ErrInternal, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transcribe", bytes.NewReader(jsonData))
	if err != nil {
		return nil, NewError(ErrInternal, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, NewError(ErrTimeout, "provider call timed out", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewError(ErrTimeout, "provider call timed out", err)
		}
		return nil, NewError(ErrNetwork, "provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrNetwork, "read response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, NewError(ErrRateLimited, "provider rate limit", nil)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, NewError(ErrAuth, "provider rejected credentials", nil)
	case http.StatusPaymentRequired:
		return nil, NewError(ErrQuota, "provider quota exhausted", nil)
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return nil, NewError(ErrUnsupportedFormat, fmt.Sprintf("provider rejected input: http %d", resp.StatusCode), nil)
	default:
		if resp.StatusCode >= 500 {
			return nil, NewError(ErrNetwork, fmt.Sprintf("provider error: http %d", resp.StatusCode), nil)
		}
		return nil, NewError(ErrInternal, fmt.Sprintf("unexpected status: http %d", resp.StatusCode), nil)
	}

	var out processResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, NewError(ErrParsing, "malformed provider response", err)
	}
	if out.Error != nil {
		return nil, mapProviderError(out.Error.Code, out.Error.Message)
	}
	if out.Note == "" {
		return nil, NewError(ErrParsing, "provider returned empty output", nil)
	}

	return &Result{Title: out.Title, Body: out.Note}, nil
}

// mapProviderError translates the provider's error codes into the
// closed variant set at the boundary itself.
func mapProviderError(code, message string) *Error {
	kinds := map[string]ErrorKind{
		"quota_exceeded":     ErrQuota,
		"rate_limited":       ErrRateLimited,
		"invalid_format":     ErrUnsupportedFormat,
		"invalid_input":      ErrInvalidInput,
		"generation_failed":  ErrInternal,
		"processing_timeout": ErrTimeout,
	}
	if kind, ok := kinds[code]; ok {
		return NewError(kind, message, nil)
	}
	return NewError(ErrInternal, fmt.Sprintf("provider error %s: %s", code, message), nil)
}
