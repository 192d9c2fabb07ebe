package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/quic-go/quic-go/http3"

	"edge-forwarder/internal/config"
	"edge-forwarder/internal/metrics"
	"edge-forwarder/internal/model"
)

func newTestClient(t *testing.T, m *metrics.Metrics) *UpstreamClient {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			Protocol:        config.ProtocolHTTP1,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewUpstreamClient(cfg, logger, m)
	if err != nil {
		t.Fatalf("NewUpstreamClient() error = %v", err)
	}
	return c
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "127.0.0.1" {
			t.Errorf("Host = %q, want %q", r.Host, "127.0.0.1")
		}
		if r.Header.Get("X-Custom") != "1" {
			t.Errorf("X-Custom = %q, want %q", r.Header.Get("X-Custom"), "1")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, metrics.New())

	out := &model.OutboundRequest{
		Method: http.MethodGet,
		Target: mustParse(t, srv.URL+"/test"),
		Header: http.Header{"Host": {"127.0.0.1"}, "X-Custom": {"1"}},
	}
	resp, err := c.Do(context.Background(), out)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Status != "200 OK" {
		t.Errorf("Status = %q, want %q", resp.Status, "200 OK")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_Do_ForwardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("body = %q, want %q", string(body), "payload")
		}
		if r.ContentLength != int64(len("payload")) {
			t.Errorf("ContentLength = %d, want %d", r.ContentLength, len("payload"))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)

	out := &model.OutboundRequest{
		Method:        http.MethodPost,
		Target:        mustParse(t, srv.URL),
		Header:        http.Header{},
		Body:          strings.NewReader("payload"),
		ContentLength: int64(len("payload")),
	}
	resp, err := c.Do(context.Background(), out)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
}

func TestUpstreamClient_Do_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			t.Error("redirect was followed")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Location", "/final")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)

	resp, err := c.Do(context.Background(), &model.OutboundRequest{
		Method: http.MethodGet,
		Target: mustParse(t, srv.URL+"/start"),
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusMovedPermanently)
	}
	if loc := resp.Header.Get("Location"); loc != "/final" {
		t.Errorf("Location = %q, want %q", loc, "/final")
	}
}

func TestUpstreamClient_Do_KeepsContentEncoding(t *testing.T) {
	raw := []byte{0x1f, 0x8b, 0x08, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			t.Errorf("Accept-Encoding = %q, want none added by the client", ae)
		}
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)

	resp, err := c.Do(context.Background(), &model.OutboundRequest{
		Method: http.MethodGet,
		Target: mustParse(t, srv.URL),
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", resp.Header.Get("Content-Encoding"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(raw) {
		t.Errorf("body = %v, want raw bytes %v", body, raw)
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	m := metrics.New()
	c := newTestClient(t, m)

	_, err := c.Do(context.Background(), &model.OutboundRequest{
		Method: http.MethodGet,
		Target: mustParse(t, "http://127.0.0.1:1/nonexistent"),
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, &model.OutboundRequest{
		Method: http.MethodGet,
		Target: mustParse(t, srv.URL+"/slow"),
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
}

func TestNewTransport(t *testing.T) {
	t.Run("http1 disables h2 upgrade", func(t *testing.T) {
		rt, err := newTransport(&config.UpstreamConfig{Protocol: config.ProtocolHTTP1, IdleConnections: 5})
		if err != nil {
			t.Fatalf("newTransport() error = %v", err)
		}
		tr, ok := rt.(*http.Transport)
		if !ok {
			t.Fatalf("transport = %T, want *http.Transport", rt)
		}
		if tr.TLSNextProto == nil || tr.ForceAttemptHTTP2 {
			t.Error("expected HTTP/2 to be disabled")
		}
		if !tr.DisableCompression {
			t.Error("expected DisableCompression")
		}
		if tr.Proxy != nil {
			t.Error("expected no proxy when proxy_url is empty")
		}
	})

	t.Run("http2 forces h2", func(t *testing.T) {
		rt, err := newTransport(&config.UpstreamConfig{Protocol: config.ProtocolHTTP2})
		if err != nil {
			t.Fatalf("newTransport() error = %v", err)
		}
		tr := rt.(*http.Transport)
		if !tr.ForceAttemptHTTP2 {
			t.Error("expected ForceAttemptHTTP2")
		}
	})

	t.Run("http3 uses quic", func(t *testing.T) {
		rt, err := newTransport(&config.UpstreamConfig{Protocol: config.ProtocolHTTP3})
		if err != nil {
			t.Fatalf("newTransport() error = %v", err)
		}
		if _, ok := rt.(*http3.RoundTripper); !ok {
			t.Errorf("transport = %T, want *http3.RoundTripper", rt)
		}
	})

	t.Run("proxy url applied", func(t *testing.T) {
		rt, err := newTransport(&config.UpstreamConfig{ProxyURL: "socks5://127.0.0.1:9050"})
		if err != nil {
			t.Fatalf("newTransport() error = %v", err)
		}
		tr := rt.(*http.Transport)
		if tr.Proxy == nil {
			t.Fatal("expected proxy func")
		}
		req := httptest.NewRequest(http.MethodGet, "https://example.com/", http.NoBody)
		u, err := tr.Proxy(req)
		if err != nil {
			t.Fatalf("Proxy() error = %v", err)
		}
		if u.String() != "socks5://127.0.0.1:9050" {
			t.Errorf("proxy = %q, want %q", u, "socks5://127.0.0.1:9050")
		}
	})
}
