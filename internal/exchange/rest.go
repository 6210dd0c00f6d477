package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantapoint/perpcore/pkg/apperrors"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// RESTClient is a signed HTTP client with a resilience pipeline (retry +
// circuit breaker). It is the transport beneath the concrete OKXGateway.
// Every request is traced and counted: one span per call, plus
// request/error counters and a latency histogram on the shared meter.
type RESTClient struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	secretKey  string
	passphrase string
	isDemo     bool
	pipeline   failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewRESTClient builds a client with a small bounded retry (up to 3 retries
// after the first attempt, 100ms-2s backoff on network errors / 5xx / 429) and a circuit breaker that
// opens after 5 of the last 10 requests fail.
func NewRESTClient(baseURL, apiKey, secretKey, passphrase string, isDemo bool, timeout time.Duration) *RESTClient {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	meter := telemetry.Meter("exchange-rest")
	reqCounter, _ := meter.Int64Counter("exchange_requests_total",
		metric.WithDescription("Total exchange REST requests"))
	errCounter, _ := meter.Int64Counter("exchange_errors_total",
		metric.WithDescription("Total exchange REST failures"))
	latencyHist, _ := meter.Float64Histogram("exchange_request_duration_seconds",
		metric.WithDescription("Exchange REST request latency in seconds"))

	return &RESTClient{
		http:        &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		secretKey:   secretKey,
		passphrase:  passphrase,
		isDemo:      isDemo,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      telemetry.Tracer("exchange-rest"),
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

func (c *RESTClient) sign(method, path, body, ts string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Request performs a signed JSON request and returns the decoded body as a
// raw map, the normalization boundary's input.
func (c *RESTClient) Request(ctx context.Context, method, path string, body map[string]interface{}) (map[string]interface{}, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", c.baseURL+path),
		),
	)
	defer span.End()
	callAttrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)

	// The request is rebuilt per attempt: the body reader and the signed
	// timestamp are both single-use.
	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(method, path, string(payload), ts))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
		if c.isDemo {
			req.Header.Set("x-simulated-trading", "1")
		}
		return c.http.Do(req)
	})

	c.reqCounter.Add(ctx, 1, callAttrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), callAttrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, callAttrs)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch resp.StatusCode {
	case 401, 403:
		return nil, apperrors.ErrAuthenticationFailed
	case 429:
		return nil, apperrors.ErrRateLimitExceeded
	case 503:
		return nil, apperrors.ErrExchangeMaintenance
	}
	if resp.StatusCode >= 500 {
		c.errCounter.Add(ctx, 1, callAttrs)
		return nil, fmt.Errorf("%w: status %d", apperrors.ErrNetwork, resp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}
