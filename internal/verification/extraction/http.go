package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"degreeproof/pkg/platform/circuit"
	"degreeproof/pkg/platform/tracer"
)

// maxResponseBytes bounds the extractor's JSON response.
const maxResponseBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTPExtractor.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Breaker    *circuit.Breaker
	Logger     *slog.Logger
	Tracer     tracer.Tracer
}

// HTTPExtractor posts the raw document to an extraction service at
// POST {BaseURL}/extract and decodes {"fields": {...}, "confidence": {...}}.
// Outages and timeouts feed a circuit breaker; while it is open calls fail fast.
type HTTPExtractor struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
	timeout time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
	tracer  tracer.Tracer
}

func NewHTTPExtractor(cfg HTTPConfig) *HTTPExtractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuit.New("extractor")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracer.NewNoop()
	}
	return &HTTPExtractor{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		timeout: cfg.Timeout,
		breaker: cfg.Breaker,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
	}
}

func (x *HTTPExtractor) Extract(ctx context.Context, document []byte) (Extraction, error) {
	ctx, span := x.tracer.Start(ctx, tracer.SpanExtract, tracer.Int64("document.bytes", int64(len(document))))
	out, err := x.extract(ctx, document)
	span.End(err)
	return out, err
}

func (x *HTTPExtractor) extract(ctx context.Context, document []byte) (Extraction, error) {
	if !x.breaker.Allow() {
		return Extraction{}, newError(CategoryCircuit, "extractor circuit open", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/extract", bytes.NewReader(document))
	if err != nil {
		return Extraction{}, newError(CategoryBadData, "failed to create request", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(document))
	req.Header.Set("Accept", "application/json")
	if x.apiKey != "" {
		req.Header.Set("X-API-Key", x.apiKey)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		x.recordFailure(ctx)
		var netErr net.Error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return Extraction{}, newError(CategoryTimeout, "extractor timed out", err)
		}
		return Extraction{}, newError(CategoryOutage, "failed to call extractor", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		x.recordFailure(ctx)
		return Extraction{}, newError(CategoryOutage, "failed to read extractor response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		x.breaker.RecordSuccess()
		return Extraction{}, newError(CategoryUnreadable, "extractor could not read the document", nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		x.recordFailure(ctx)
		return Extraction{}, newError(CategoryOutage, fmt.Sprintf("extractor returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		x.breaker.RecordSuccess()
		return Extraction{}, newError(CategoryBadData, fmt.Sprintf("extractor returned status %d", resp.StatusCode), nil)
	}
	x.breaker.RecordSuccess()

	if len(body) > maxResponseBytes {
		return Extraction{}, newError(CategoryBadData, "extractor response too large", nil)
	}
	var out Extraction
	if err := json.Unmarshal(body, &out); err != nil {
		return Extraction{}, newError(CategoryBadData, "failed to decode extractor response", err)
	}
	if out.Fields == nil {
		return Extraction{}, newError(CategoryBadData, "extractor response has no fields", nil)
	}
	return out, nil
}

func (x *HTTPExtractor) recordFailure(ctx context.Context) {
	if change := x.breaker.RecordFailure(); change.Opened {
		x.logger.WarnContext(ctx, "extractor circuit opened", "breaker", x.breaker.Name())
	}
}
