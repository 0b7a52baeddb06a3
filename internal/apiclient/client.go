// Package apiclient はDeEvent REST APIのHTTPクライアントを提供する。
// 呼び出しはサーキットブレーカーを経由し、再試行は行わない。
package apiclient

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
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/deevent/internal/metrics"
)

// maxResponseBodySize はレスポンスボディの読み込み上限（1MB）。
const maxResponseBodySize = 1 << 20

// userAgent はリクエストに付与するUser-Agent。
const userAgent = "deevent-web/1.0"

// BreakerConfig はサーキットブレーカーの設定。
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // half-open状態で許可するリクエスト数
	Interval     time.Duration // closed状態でカウントをリセットする周期
	Timeout      time.Duration // open状態からhalf-openへ移るまでの時間
	FailureRatio float64
	MinRequests  uint32
}

// Config はClientの設定。
type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// DefaultConfig は既定の設定を返す。
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
		Breaker: BreakerConfig{
			Name:         "deevent-api",
			MaxRequests:  1,
			Interval:     60 * time.Second,
			Timeout:      30 * time.Second,
			FailureRatio: 0.5,
			MinRequests:  5,
		},
	}
}

// response は読み込み済みのHTTPレスポンス。
type response struct {
	status int
	body   []byte
}

// errServerStatus は5xxレスポンスをブレーカーの失敗として数えるための内部エラー。
var errServerStatus = errors.New("upstream server error")

// Client はDeEvent APIのクライアント。並行利用できる。
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*response]
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New はClientを生成する。
func New(cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	bc := cfg.Breaker
	settings := gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			collector.RecordBreakerState(name, breakerStateValue(to))
		},
	}
	collector.RecordBreakerState(bc.Name, 0)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[*response](settings),
		metrics: collector,
		logger:  logger,
		tracer:  otel.Tracer("github.com/hitoshi/deevent/internal/apiclient"),
	}
}

func breakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState はサーキットブレーカーの現在の状態を返す。
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// do はリクエストを送信し、成功時はoutにJSONをデコードする。
// 4xx/5xxやネットワーク障害は*Errorとして返す。
func (c *Client) do(ctx context.Context, endpoint, method, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "deevent-api "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := AccessTokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		r := &response{status: httpResp.StatusCode, body: data}
		if r.status >= http.StatusInternalServerError {
			return r, errServerStatus
		}
		return r, nil
	})
	duration := time.Since(start)

	if err != nil && !errors.Is(err, errServerStatus) {
		c.metrics.RecordUpstreamCall(endpoint, 0, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.WarnContext(ctx, "upstream request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return &Error{Kind: KindTransport, Err: err}
	}

	c.metrics.RecordUpstreamCall(endpoint, resp.status, duration)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))

	if resp.status >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.status))
		return newStatusError(resp.status, resp.body)
	}

	if out != nil && len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}
