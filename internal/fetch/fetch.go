// Package fetch retrieves upstream status documents, optionally through a
// rotating set of relay proxies.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultUserAgent is sent unless overridden in Config.Headers.
const DefaultUserAgent = "Mozilla/5.0 (compatible; healthwatch/1.0)"

// maxBodyBytes bounds how much of an upstream body is read.
const maxBodyBytes = 8 << 20

// Fetcher returns the body of a URL.
type Fetcher interface {
	Get(ctx context.Context, target string) ([]byte, error)
}

// Prober checks whether an endpoint answers without server errors.
type Prober interface {
	Probe(ctx context.Context, target string) error
}

// Config configures the HTTP fetcher.
type Config struct {
	Timeout   time.Duration
	Proxies   []string
	UserAgent string
	Headers   map[string]string
}

// HTTPFetcher fetches over HTTP. When proxies are configured each request
// goes through the next proxy in turn, with the target query-escaped onto
// the proxy prefix.
type HTTPFetcher struct {
	client    *http.Client
	proxies   []string
	headers   map[string]string
	userAgent string
	next      atomic.Uint64
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(cfg Config) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	var proxies []string
	for _, p := range cfg.Proxies {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		proxies:   proxies,
		headers:   headers,
		userAgent: ua,
	}
}

// Get returns the response body. Non-2xx responses are errors.
func (f *HTTPFetcher) Get(ctx context.Context, target string) ([]byte, error) {
	resp, err := f.do(ctx, f.route(target))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: unexpected status %s", target, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", target, err)
	}
	return body, nil
}

// Probe issues a direct GET and treats any status below 500 as reachable.
// Probes never go through a relay, since a relay answer says nothing about
// the target.
func (f *HTTPFetcher) Probe(ctx context.Context, target string) error {
	resp, err := f.do(ctx, target)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: server error %s", target, resp.Status)
	}
	return nil
}

func (f *HTTPFetcher) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	return resp, nil
}

func (f *HTTPFetcher) route(target string) string {
	if len(f.proxies) == 0 {
		return target
	}
	idx := f.next.Add(1) - 1
	proxy := f.proxies[idx%uint64(len(f.proxies))]
	return proxy + url.QueryEscape(target)
}
