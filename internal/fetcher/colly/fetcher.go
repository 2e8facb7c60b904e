// Package collyfetcher implements the results API client using gocolly.
package collyfetcher

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

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
)

// Config controls collector behavior and request headers.
type Config struct {
	UserAgent string
	Referer   string
	Origin    string
	// Cookie is sent verbatim when set.
	Cookie          string
	Timeout         time.Duration
	AssetTimeout    time.Duration
	MaxConnsPerHost int
	// MaxBodyBytes caps response bodies; zero means unlimited.
	MaxBodyBytes int
	Data         RetryPolicy
	Navigation   RetryPolicy
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher issues data, navigation, and asset requests against the results API.
// It is safe for concurrent use; all workers share one transport so the
// per-host connection cap holds across the pool.
type Fetcher struct {
	cfg     Config
	headers http.Header
	api     *colly.Collector
	assets  *colly.Collector
	limiter Waiter
	logger  *zap.Logger
}

var _ crawler.DataFetcher = (*Fetcher)(nil)
var _ crawler.NavigationFetcher = (*Fetcher)(nil)
var _ crawler.Getter = (*Fetcher)(nil)

type response struct {
	status int
	body   []byte
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.AssetTimeout <= 0 {
		cfg.AssetTimeout = 20 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 4
	}

	transport := newHTTPTransport(cfg.MaxConnsPerHost)

	api, err := newCollector(cfg, transport, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	assets, err := newCollector(cfg, transport, cfg.AssetTimeout)
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		cfg:     cfg,
		headers: apiHeaders(cfg),
		api:     api,
		assets:  assets,
		limiter: limiter,
		logger:  logger,
	}, nil
}

func newCollector(cfg Config, transport http.RoundTripper, timeout time.Duration) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(timeout)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: cfg.MaxConnsPerHost}); err != nil {
		return nil, fmt.Errorf("colly limit rule: %w", err)
	}
	return c, nil
}

func apiHeaders(cfg Config) http.Header {
	h := http.Header{}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Content-Type", "application/json")
	if cfg.Referer != "" {
		h.Set("Referer", cfg.Referer)
	}
	if cfg.Origin != "" {
		h.Set("Origin", cfg.Origin)
	}
	if cfg.Cookie != "" {
		h.Set("Cookie", cfg.Cookie)
	}
	return h
}

// Fetch performs a data call under the data retry policy. ok is false when the
// server answered 204/404, when every attempt failed, or when ctx ended.
func (f *Fetcher) Fetch(ctx context.Context, method, url string, body any) (json.RawMessage, bool) {
	return f.fetch(ctx, metrics.KindData, f.cfg.Data, method, url, body)
}

// FetchNavigation lists child nodes with the navigation retry policy layered
// over single-attempt data calls. It returns an empty slice when the branch
// cannot be fetched.
func (f *Fetcher) FetchNavigation(ctx context.Context, url, level, label string) []json.RawMessage {
	single := f.cfg.Data
	single.MaxAttempts = 1
	policy := f.cfg.Navigation

	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		payload, ok := f.fetch(ctx, metrics.KindNavigation, single, http.MethodGet, url, nil)
		if ctx.Err() != nil {
			return []json.RawMessage{}
		}
		if ok {
			var nodes []json.RawMessage
			if !bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
				if err := json.Unmarshal(payload, &nodes); err == nil {
					if nodes == nil {
						nodes = []json.RawMessage{}
					}
					return nodes
				}
			}
			f.logger.Warn("Navigation payload is not a list",
				zap.String("level", level),
				zap.String("branch", label),
				zap.Int("attempt", attempt),
			)
		} else {
			f.logger.Warn("Empty navigation, retrying",
				zap.String("level", level),
				zap.String("branch", label),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.attempts()),
			)
		}
		if attempt < policy.attempts() {
			if err := crawler.Pause(ctx, policy.backoff(attempt)); err != nil {
				return []json.RawMessage{}
			}
		}
	}

	f.logger.Error("Final failure, skipping branch",
		zap.String("level", level),
		zap.String("branch", label),
		zap.String("url", url),
		zap.Bool("branch_lost", true),
	)
	metrics.ObserveBranchLost(level)
	return []json.RawMessage{}
}

// Get downloads url in a single attempt with the asset timeout.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	if err := f.wait(ctx, url); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := f.do(ctx, f.assets, http.MethodGet, url, nil, nil)
	if err != nil {
		metrics.ObserveFetch(metrics.KindAsset, metrics.OutcomeError, url, 0, time.Since(start))
		return nil, err
	}
	if resp.status != http.StatusOK {
		metrics.ObserveFetch(metrics.KindAsset, metrics.OutcomeStatus, url, 0, time.Since(start))
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.status)
	}
	metrics.ObserveFetch(metrics.KindAsset, metrics.OutcomeOK, url, len(resp.body), time.Since(start))
	return resp.body, nil
}

func (f *Fetcher) fetch(ctx context.Context, kind string, policy RetryPolicy, method, url string, body any) (json.RawMessage, bool) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			f.logger.Error("Failed to encode request body", zap.String("url", url), zap.Error(err))
			return nil, false
		}
	}

	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if err := crawler.Pause(ctx, policy.jitter()); err != nil {
			return nil, false
		}
		if err := f.wait(ctx, url); err != nil {
			return nil, false
		}

		start := time.Now()
		resp, err := f.do(ctx, f.api, method, url, encoded, f.headers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			metrics.ObserveFetch(kind, metrics.OutcomeError, url, 0, time.Since(start))
			f.logger.Error("Request failed",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < policy.attempts() {
				if err := crawler.Pause(ctx, policy.backoff(attempt)); err != nil {
					return nil, false
				}
			}
			continue
		}

		switch resp.status {
		case http.StatusOK:
			if !json.Valid(resp.body) {
				metrics.ObserveFetch(kind, metrics.OutcomeInvalid, url, len(resp.body), time.Since(start))
				f.logger.Error("Response is not valid JSON",
					zap.String("url", url),
					zap.Int("attempt", attempt),
					zap.Int("bytes", len(resp.body)),
				)
				if attempt < policy.attempts() {
					if err := crawler.Pause(ctx, policy.backoff(attempt)); err != nil {
						return nil, false
					}
				}
				continue
			}
			metrics.ObserveFetch(kind, metrics.OutcomeOK, url, len(resp.body), time.Since(start))
			return json.RawMessage(resp.body), true
		case http.StatusNotFound, http.StatusNoContent:
			metrics.ObserveFetch(kind, metrics.OutcomeAbsent, url, 0, time.Since(start))
			return nil, false
		default:
			metrics.ObserveFetch(kind, metrics.OutcomeStatus, url, 0, time.Since(start))
			f.logger.Warn("Unexpected status",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("status", resp.status),
				zap.Int("attempt", attempt),
			)
		}
	}
	return nil, false
}

func (f *Fetcher) wait(ctx context.Context, url string) error {
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("pace request: %w", err)
	}
	return nil
}

// do runs one request on a clone of base. Clones share the backend, so the
// limit rule and transport apply across concurrent calls.
//
// colly's Request takes no context: cancellation abandons the call and
// returns at once, but the request goroutine keeps its connection until the
// collector timeout fires.
func (f *Fetcher) do(ctx context.Context, base *colly.Collector, method, url string, body []byte, hdr http.Header) (response, error) {
	collector := base.Clone()

	var (
		result   response
		received bool
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
		received = true
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	var headers http.Header
	if hdr != nil {
		headers = hdr.Clone()
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, url, reader, nil, headers)
	}()

	select {
	case <-ctx.Done():
		return response{}, fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return response{}, fmt.Errorf("colly request failed: %w", err)
		}
		if fetchErr != nil {
			return response{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if !received {
			return response{}, errors.New("colly request produced no response")
		}
		return result, nil
	}
}

func newHTTPTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxConnsPerHost:       maxConnsPerHost,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
