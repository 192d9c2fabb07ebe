package service

import (
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"edge-forwarder/internal/model"
)

// Names of the inputs that carry the forward target.
const (
	HeaderTargetURL = "X-Target-URL"
	QueryTargetURL  = "url"
)

// forbiddenHeaders are never forwarded to the target. Keys are lowercase.
var forbiddenHeaders = map[string]struct{}{
	"host":             {},
	"cf-connecting-ip": {},
	"cf-ipcountry":     {},
	"cf-ray":           {},
	"cf-visitor":       {},
	"x-target-url":     {},
}

// IsForbiddenHeader reports whether name must be stripped before forwarding.
// Matching ignores case and surrounding whitespace.
func IsForbiddenHeader(name string) bool {
	_, ok := forbiddenHeaders[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// ExtractTarget returns the forward target named by the X-Target-URL header or,
// failing that, the url query parameter of the inbound URL. The target must be
// an absolute URL with a host.
func ExtractTarget(header http.Header, inbound *url.URL) (*url.URL, error) {
	candidate := strings.TrimSpace(header.Get(HeaderTargetURL))
	if candidate == "" && inbound != nil {
		candidate = strings.TrimSpace(inbound.Query().Get(QueryTargetURL))
	}
	if candidate == "" {
		return nil, ErrMissingTarget
	}

	// The parse error embeds the raw input, which may carry credentials.
	target, err := url.Parse(candidate)
	if err != nil || !target.IsAbs() || target.Hostname() == "" {
		return nil, ErrInvalidTarget
	}
	return target, nil
}

// SanitizeHeaders copies in without the forbidden headers and sets Host to
// hostname. Header names keep the casing they arrived with; in is not modified.
func SanitizeHeaders(in http.Header, hostname string) http.Header {
	out := make(http.Header, len(in)+1)
	for name, values := range in {
		if IsForbiddenHeader(name) {
			continue
		}
		out[name] = slices.Clone(values)
	}
	out.Set("Host", hostname)
	return out
}

// BuildOutbound assembles the request sent to the target. GET and HEAD never
// carry a body; for other methods the inbound stream is passed through unread.
func BuildOutbound(method string, target *url.URL, header http.Header, body io.Reader, contentLength int64) *model.OutboundRequest {
	out := &model.OutboundRequest{
		Method: method,
		Target: target,
		Header: header,
	}
	if method != http.MethodGet && method != http.MethodHead {
		out.Body = body
		out.ContentLength = contentLength
	}
	return out
}

// RelayHeaders copies the target's response headers and opens them to
// cross-origin callers, overwriting any CORS values the target sent.
func RelayHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header, 2)
	}
	dst.Set("Access-Control-Allow-Origin", "*")
	dst.Set("Access-Control-Expose-Headers", "*")
	return dst
}
