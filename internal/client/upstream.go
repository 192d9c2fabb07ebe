// Package client provides the outbound HTTP client used to reach forward targets.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quic-go/quic-go/http3"

	"edge-forwarder/internal/config"
	"edge-forwarder/internal/metrics"
	"edge-forwarder/internal/model"
)

// UpstreamClient dispatches outbound requests to forward targets.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient for the configured protocol.
// Redirects are never followed: a 3xx from the target is returned as-is.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*UpstreamClient, error) {
	transport, err := newTransport(&cfg.Upstream)
	if err != nil {
		return nil, err
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}, nil
}

func newTransport(cfg *config.UpstreamConfig) (http.RoundTripper, error) {
	if cfg.Protocol == config.ProtocolHTTP3 {
		// QUIC runs over UDP, so no outbound proxy applies here.
		return &http3.RoundTripper{DisableCompression: true}, nil
	}

	var proxy func(*http.Request) (*url.URL, error)
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream proxy_url: %w", err)
		}
		proxy = http.ProxyURL(u)
	}

	t := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          cfg.IdleConnections,
		MaxIdleConnsPerHost:   cfg.IdleConnections,
		// Bodies are relayed byte for byte; never negotiate or decode gzip.
		DisableCompression: true,
	}

	switch cfg.Protocol {
	case config.ProtocolHTTP2:
		t.ForceAttemptHTTP2 = true
	default:
		// A non-nil empty map disables the automatic HTTP/2 upgrade.
		t.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	return t, nil
}

// Do sends the outbound request and returns the target response unmodified.
// The caller is responsible for closing the response body. The provided
// context controls the lifetime of the request: when the inbound client
// disconnects, the outbound request is canceled too.
func (c *UpstreamClient) Do(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, out.Method, out.Target.String(), out.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header
	if out.Body != nil {
		req.ContentLength = out.ContentLength
	}
	// net/http sends req.Host and ignores a Host entry in the header map.
	if host := out.Header.Get("Host"); host != "" {
		req.Host = host
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", out.Target.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Close releases idle upstream connections.
func (c *UpstreamClient) Close() {
	c.httpClient.CloseIdleConnections()
}
