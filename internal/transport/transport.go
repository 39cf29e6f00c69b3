package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/formulabar/internal/ctxkeys"
	"github.com/BaSui01/formulabar/types"
)

const tracerName = "github.com/BaSui01/formulabar/internal/transport"

// Operation 标识一次往返的业务类型，用于日志、span 与指标标签。
type Operation string

const (
	// OperationLSP 携带 JSON-RPC 信封的语言服务往返
	OperationLSP Operation = "lsp"
	// OperationEval 公式求值往返
	OperationEval Operation = "eval"
)

// Sender 发送不透明的请求体并返回响应体。
type Sender interface {
	Send(ctx context.Context, endpoint string, op Operation, payload string) ([]byte, error)
}

// SenderFunc 让普通函数实现 Sender。
type SenderFunc func(ctx context.Context, endpoint string, op Operation, payload string) ([]byte, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, endpoint string, op Operation, payload string) ([]byte, error) {
	return f(ctx, endpoint, op, payload)
}

// RoundTripObserver 接收每次往返的结果。
type RoundTripObserver interface {
	ObserveRoundTrip(op, status string, duration time.Duration)
}

// Config 传输配置
type Config struct {
	// Timeout 单次往返超时
	Timeout time.Duration
	// MaxRequestsPerSecond 客户端限流，0 表示不限
	MaxRequestsPerSecond float64
	// MaxResponseBytes 响应体上限
	MaxResponseBytes int64
	// Headers 附加请求头
	Headers map[string]string
}

// DefaultConfig 返回默认传输配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:          30 * time.Second,
		MaxResponseBytes: 8 << 20,
		Headers:          make(map[string]string),
	}
}

// Option 配置 HTTPTransport
type Option func(*HTTPTransport)

// WithHTTPClient 替换底层 http.Client（测试中常用 httptest 客户端）
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithObserver 注册往返观察者
func WithObserver(o RoundTripObserver) Option {
	return func(t *HTTPTransport) {
		t.observer = o
	}
}

// HTTPTransport 是基于 HTTP POST 的 Sender 实现。
type HTTPTransport struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	observer   RoundTripObserver
	logger     *zap.Logger
}

// New 创建 HTTPTransport
func New(config *Config, logger *zap.Logger, opts ...Option) *HTTPTransport {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = 8 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &HTTPTransport{
		config:     config,
		httpClient: newHTTPClient(config.Timeout),
		tracer:     otel.Tracer(tracerName),
		logger:     logger.With(zap.String("component", "transport")),
	}

	// 全局 MeterProvider 由 telemetry.Init 安装，未启用时为 noop
	hist, err := otel.Meter(tracerName).Float64Histogram("formulabar.transport.round_trip.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Round trip duration to the formula service"),
	)
	if err != nil {
		t.logger.Warn("round trip histogram unavailable", zap.Error(err))
	} else {
		t.duration = hist
	}

	if config.MaxRequestsPerSecond > 0 {
		burst := int(config.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(config.MaxRequestsPerSecond), burst)
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Send 执行一次 POST 往返。
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, op Operation, payload string) ([]byte, error) {
	ctx, span := t.tracer.Start(ctx, "formulabar.transport/"+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("formulabar.operation", string(op)),
			attribute.Int("http.request.body.size", len(payload)),
		),
	)
	defer span.End()

	attrs, fields := contextFields(ctx)
	span.SetAttributes(attrs...)

	start := time.Now()
	body, status, err := t.roundTrip(ctx, endpoint, op, payload)
	duration := time.Since(start)

	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.observe(ctx, op, "error", duration)
		t.logger.Debug("round trip failed", append(fields,
			zap.String("operation", string(op)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)...)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.body.size", len(body)))
	t.observe(ctx, op, "ok", duration)
	return body, nil
}

func (t *HTTPTransport) roundTrip(ctx context.Context, endpoint string, op Operation, payload string) ([]byte, int, error) {
	if endpoint == "" {
		return nil, 0, transportError(op, "empty endpoint", nil)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, 0, transportError(op, "rate limiter wait failed", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, 0, transportError(op, "failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportError(op, "request failed", err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, transportError(op, "failed to read response", err).WithHTTPStatus(resp.StatusCode)
	}
	if int64(len(body)) > t.config.MaxResponseBytes {
		return nil, resp.StatusCode, transportError(op,
			fmt.Sprintf("response exceeds %d bytes", t.config.MaxResponseBytes), nil).
			WithHTTPStatus(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, resp.StatusCode, transportError(op,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, snippet(body)), nil).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(retryable)
	}

	return body, resp.StatusCode, nil
}

// contextFields 把会话放入 ctx 的 LSP 标识转成 span 属性和日志字段
func contextFields(ctx context.Context) ([]attribute.KeyValue, []zap.Field) {
	var attrs []attribute.KeyValue
	var fields []zap.Field
	if m, ok := ctxkeys.Method(ctx); ok {
		attrs = append(attrs, attribute.String("rpc.method", m))
		fields = append(fields, zap.String("method", m))
	}
	if id, ok := ctxkeys.RequestID(ctx); ok {
		attrs = append(attrs, attribute.String("rpc.jsonrpc.request_id", id))
		fields = append(fields, zap.String("request_id", id))
	}
	if uri, ok := ctxkeys.DocumentURI(ctx); ok {
		attrs = append(attrs, attribute.String("formulabar.document.uri", uri))
	}
	return attrs, fields
}

func (t *HTTPTransport) observe(ctx context.Context, op Operation, status string, d time.Duration) {
	if t.duration != nil {
		t.duration.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("formulabar.operation", string(op)),
			attribute.String("status", status),
		))
	}
	if t.observer != nil {
		t.observer.ObserveRoundTrip(string(op), status, d)
	}
}

func transportError(op Operation, msg string, cause error) *types.Error {
	e := types.NewError(types.ErrTransport, msg).WithOperation(string(op))
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// snippet 截断响应体，避免把大段 HTML 错误页写进错误信息
func snippet(body []byte) string {
	const max = 256
	body = bytes.TrimSpace(body)
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
