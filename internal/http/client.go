// Package http provides the pooled HTTP client used to talk to MCP servers.
package http

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultUserAgent identifies the crawler to MCP servers.
const DefaultUserAgent = "mcp-catalog/1.0"

// Client is a pooled HTTP client shared by every probe. It sets no overall
// timeout of its own; callers bound every request with a context deadline.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	maxBody   int64
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// MaxConnsPerHost caps connections per host, 0 means unlimited. An SSE
	// probe holds one connection for its stream and needs another for its
	// POSTs, so a cap below twice the probe concurrency can starve probes
	// that share a host.
	MaxConnsPerHost int
	DialTimeout     time.Duration
	UserAgent       string
	Headers         map[string]string
	SkipTLSVerify   bool
	MaxBodySize     int64
}

// DefaultClientConfig returns defaults sized for a few dozen concurrent probes.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     0,
		DialTimeout:         10 * time.Second,
		UserAgent:           DefaultUserAgent,
		MaxBodySize:         10 * 1024 * 1024,
	}
}

// NewClient creates a new HTTP client.
func NewClient(config ClientConfig) *Client {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 10 * 1024 * 1024
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   config.DialTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	c := &Client{
		userAgent: config.UserAgent,
		headers:   config.Headers,
		maxBody:   config.MaxBodySize,
	}
	c.client = &http.Client{
		Transport: &headerTransport{base: base, owner: c},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return c
}

// HTTPClient exposes the underlying client so the MCP transports share the
// same connection pool, user agent, shared headers and body limit.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// SetHeaders sets headers sent with every request. Headers a request
// already carries win.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	c.headers = headers
	c.mu.Unlock()
}

// Close closes idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// headerTransport fills in the user agent and shared headers and bounds
// every response body.
type headerTransport struct {
	base  *http.Transport
	owner *Client
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.owner.userAgent)
	}
	t.owner.mu.RLock()
	for k, v := range t.owner.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	t.owner.mu.RUnlock()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: t.owner.maxBody, limit: t.owner.maxBody}
	return resp, nil
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the pool.
func (t *headerTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

// limitedBody fails reads past limit bytes instead of truncating silently.
type limitedBody struct {
	io.ReadCloser
	remaining int64
	limit     int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		var one [1]byte
		n, err := b.ReadCloser.Read(one[:])
		if n == 0 {
			return 0, err
		}
		return 0, fmt.Errorf("response body exceeds %d bytes", b.limit)
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	return n, err
}
