// Package httpx provides the one outbound HTTP client shared by the token
// refresher and every quota fetcher. A process-wide proxy URL applies to all
// requests; an optional Chrome TLS fingerprint can be enabled for providers
// that gate on it.
package httpx

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Options configures the shared client.
type Options struct {
	// ProxyURL routes all outbound requests; empty means direct.
	ProxyURL string
	// Timeout is the default per-request deadline. Fetchers with
	// provider-specific deadlines pass their own request contexts.
	Timeout time.Duration
}

// Client wraps http.Client with the daemon's transport policy.
type Client struct {
	inner *http.Client
}

// New builds the shared client. The QUOTIO_UTLS=1 environment switch turns
// on the Chrome TLS fingerprint.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	useUTLS := strings.TrimSpace(os.Getenv("QUOTIO_UTLS")) == "1"
	return &Client{
		inner: &http.Client{
			Timeout:   opts.Timeout,
			Transport: newTransport(opts.ProxyURL, useUTLS),
		},
	}
}

// Do executes the request through the shared transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.inner.Do(req)
}

// HTTPClient exposes the underlying *http.Client for libraries (oauth2)
// that want one injected.
func (c *Client) HTTPClient() *http.Client {
	return c.inner
}

func newTransport(proxyURL string, useUTLS bool) http.RoundTripper {
	proxy := http.ProxyFromEnvironment
	if strings.TrimSpace(proxyURL) != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			proxy = http.ProxyURL(parsed)
		}
	}

	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
	if !useUTLS {
		return transport
	}

	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 10 * time.Second}
		rawConn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host := addr
		if strings.Contains(addr, ":") {
			host, _, _ = net.SplitHostPort(addr)
		}
		config := &utls.Config{
			ServerName: host,
			NextProtos: []string{"h2", "http/1.1"},
		}
		uconn := utls.UClient(rawConn, config, utls.HelloChrome_120)
		if err := uconn.Handshake(); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return uconn, nil
	}
	return transport
}
