// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/metrics"
	"github.com/JakeFAU/searchcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/searchcrawler/internal/proxy"
)

// DefaultMaxConcurrent bounds in-flight fetches when Config leaves it unset.
const DefaultMaxConcurrent = 5

// DefaultMaxBodyBytes is the body cap used when Config leaves it unset.
const DefaultMaxBodyBytes = 10 << 20

// ErrBodyTooLarge is recorded when a response body reaches the configured cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Config controls collector behavior.
type Config struct {
	UserAgent          string
	RespectRobots      bool
	Timeout            time.Duration
	MaxConcurrent      int
	Proxy              string
	InsecureSkipVerify bool
	// MaxBodyBytes caps a response body. A body that reaches the cap is
	// treated as a failed fetch rather than handed on truncated.
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every fetch
// holds one slot of a shared semaphore for the duration of its network I/O.
type Fetcher struct {
	cfg           Config
	transport     *http.Transport
	tracer        trace.Tracer
	baseCollector *colly.Collector
	slots         *semaphore.Weighted
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	proxyURL, err := proxy.Parse(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	transport := newHTTPTransport(cfg.InsecureSkipVerify)
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.AllowURLRevisit = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	logger.Debug("fetcher configured",
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.Bool("proxy", proxyURL != nil),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		tracer:        otel.Tracer("github.com/JakeFAU/searchcrawler/internal/fetcher/colly"),
		baseCollector: c,
		slots:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// Fetch executes a single HTTP GET. It never fails: transport and protocol
// errors are logged and folded into a response with nil Raw and Body whose
// URL is the request URL.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) crawler.FetchedResponse {
	ctx, span := f.tracer.Start(ctx, "fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("url.full", request.URL),
			attribute.String("crawler.stage", string(request.Stage)),
		),
	)
	defer span.End()

	resp := f.fetch(ctx, request)
	if resp.Failed() {
		span.SetStatus(codes.Error, "fetch failed")
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Raw.StatusCode))
	}
	return resp
}

func (f *Fetcher) fetch(ctx context.Context, request crawler.FetchRequest) crawler.FetchedResponse {
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return f.degrade(request, fmt.Errorf("acquire fetch slot: %w", err))
	}
	defer f.slots.Release(1)

	if err := f.limiter.Wait(ctx, request.URL); err != nil {
		return f.degrade(request, err)
	}

	target, err := crawler.WithQuery(request.URL, crawler.QueryParams(request.Meta))
	if err != nil {
		return f.degrade(request, fmt.Errorf("build target url: %w", err))
	}

	var (
		result   crawler.FetchedResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return f.degrade(request, err)
	}
	if result.Body == nil {
		return f.degrade(request, errors.New("no response received"))
	}
	metrics.ObserveFetch(request.URL, time.Since(start))
	f.logger.Debug("fetch succeeded",
		zap.String("url", result.URL),
		zap.Int("status", result.Raw.StatusCode),
	)
	return result
}

// Close releases pooled connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchedResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		if f.cfg.MaxBodyBytes > 0 && len(r.Body) >= f.cfg.MaxBodyBytes {
			*fetchErr = fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes)
			return
		}
		body := string(r.Body)
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchedResponse{
			URL: r.Request.URL.String(),
			Raw: &crawler.RawResponse{
				StatusCode: r.StatusCode,
				Headers:    headers,
				Duration:   time.Since(start),
			},
			Body:    &body,
			Request: request,
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The collector shares ctx, so Visit aborts promptly. Waiting keeps the
		// slot held until the callbacks can no longer write.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) degrade(request crawler.FetchRequest, err error) crawler.FetchedResponse {
	f.logger.Warn("fetch failed", zap.String("url", request.URL), zap.Error(err))
	metrics.ObserveFetchFailure(request.URL)
	return crawler.FetchedResponse{
		URL:     request.URL,
		Request: request,
	}
}

func newHTTPTransport(insecure bool) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // opt-in via http.insecure_skip_verify
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
