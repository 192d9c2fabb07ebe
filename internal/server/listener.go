// Package server opens the forwarder's inbound listener.
package server

import (
	"fmt"
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"

	"edge-forwarder/internal/config"
)

// proxyHeaderTimeout bounds how long an accepted connection may take to send
// its PROXY protocol header.
const proxyHeaderTimeout = 10 * time.Second

// Listen binds the configured address. With server.proxy_protocol enabled the
// listener decodes PROXY v1/v2 headers, so RemoteAddr reports the client behind
// the load balancer. Connections without a header are accepted unchanged.
func Listen(cfg *config.ServerConfig) (net.Listener, error) {
	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if !cfg.ProxyProtocol {
		return ln, nil
	}
	return &proxyproto.Listener{
		Listener:          ln,
		ReadHeaderTimeout: proxyHeaderTimeout,
	}, nil
}
