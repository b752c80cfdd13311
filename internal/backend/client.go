// Package backend is the typed REST client for the remote commerce backend,
// the authority for orders, coupons, payments, products and users.
package backend

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-gateway/internal/apperr"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	// Transport is the base transport, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client calls the backend REST API. All methods honour context
// cancellation and the configured timeout.
type Client struct {
	base   *url.URL
	http   *http.Client
	tracer trace.Tracer
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse backend URL")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	return &Client{
		base: base,
		http: &http.Client{
			Transport: otelhttp.NewTransport(&loggingTransport{
				next: opts.Transport,
				lg:   opts.Logger.Named("backend"),
			}, otelOpts...),
			Timeout: opts.Timeout,
		},
		tracer: tp.Tracer("storefront/backend"),
	}, nil
}

type tokenKey struct{}

// WithToken returns a context whose backend calls carry token as bearer.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// call performs one JSON request. in is encoded as the body when non-nil;
// a 2xx body is decoded into out when non-nil.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) (rerr error) {
	ctx, span := c.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("backend.path", path),
		))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := tokenFrom(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), op)
		}
		return apperr.Network(errors.Wrap(err, op))
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Network(errors.Wrapf(err, "decode %s response", op))
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy.
func classify(status int, body []byte) error {
	msg := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Auth(cmp.Or(msg, "Not authorized"))
	case status == http.StatusNotFound:
		return apperr.NotFound(cmp.Or(msg, "Not found"))
	case status >= 500:
		return apperr.Upstream(status, errors.Errorf("backend status %d: %s", status, cmp.Or(msg, http.StatusText(status))))
	default:
		return apperr.Validation(cmp.Or(msg, http.StatusText(status)))
	}
}

// errorMessage extracts the "message" field of a JSON error body.
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var msg string
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return ""
	}
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key == "message" && d.Next() == jx.String {
			v, err := d.Str()
			msg = v
			return err
		}
		return d.Skip()
	})
	return msg
}

// loggingTransport logs every backend round trip.
type loggingTransport struct {
	next http.RoundTripper
	lg   *zap.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.lg.Warn("Backend request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}
	t.lg.Debug("Backend request completed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	return resp, nil
}
