// Package model defines shared types for the forwarder.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents an inbound client request carrying a forward target.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	URL           *url.URL
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// OutboundRequest describes the request dispatched to the target.
// Body is nil when the request must not carry one. Redirects returned by the
// target are never followed; the dispatching client enforces that.
type OutboundRequest struct {
	Method        string
	Target        *url.URL
	Header        http.Header
	Body          io.Reader
	ContentLength int64
}

// ProxyResponse represents the target response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}
