package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/http/httpguts"

	"edge-forwarder/internal/metrics"
	"edge-forwarder/internal/model"
	"edge-forwarder/internal/service"
)

// HeaderProxyError carries the transport failure message on 502 responses.
const HeaderProxyError = "X-Proxy-Error"

// urlQueryPattern matches the query string of URLs embedded in error messages.
var urlQueryPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^\s"?]*)\?[^\s"]*`)

// ForwardHandler forwards requests to the target they name and streams the response back.
type ForwardHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(svc *service.ForwardService, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		service: svc,
		logger:  logger.With("component", "forward_handler"),
	}
}

// Handle forwards the request and relays the target's status, headers and body.
func (h *ForwardHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		URL:           req.URL,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		c.Set(metrics.OutcomeKey, service.RejectionReason(err))
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.Set(metrics.OutcomeKey, metrics.OutcomeRelayed)

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a mid-stream failure can only truncate the body;
	// the client sees the original status. Log it and move on.
	if _, err := copyBody(c.Response(), resp); err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"status", resp.StatusCode,
		)
	}

	return nil
}

// copyBody streams the target body to w. Bodies of unknown length (chunked
// or event streams) are flushed after every read so they reach the caller as
// they arrive.
func copyBody(w *echo.Response, resp *model.ProxyResponse) (int64, error) {
	if resp.Header.Get("Content-Length") != "" {
		return io.Copy(w, resp.Body)
	}

	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingTarget), errors.Is(err, service.ErrInvalidTarget):
		// The raw target is never echoed back.
		h.logger.Debug("rejected request", "reason", err.Error())
		return c.NoContent(http.StatusBadRequest)

	case errors.Is(err, service.ErrTargetDenied):
		h.logger.Info("target denied", "err", err)
		return c.NoContent(http.StatusForbidden)
	}

	msg := proxyErrorMessage(err)
	h.logger.Warn("forward failed",
		"err", msg,
		"method", c.Request().Method,
	)
	c.Response().Header().Set(HeaderProxyError, msg)
	return c.NoContent(http.StatusBadGateway)
}

// proxyErrorMessage returns the transport's own description of a dispatch
// failure, e.g. "dial tcp 10.0.0.1:443: connect: connection refused". The
// request URL is dropped and query strings of any other URLs are redacted.
func proxyErrorMessage(err error) string {
	var de *service.DispatchError
	if errors.As(err, &de) {
		err = de.Err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}

	msg := urlQueryPattern.ReplaceAllString(err.Error(), "${1}?[REDACTED]")
	msg = strings.TrimSpace(strings.Map(headerSafe, msg))
	if msg == "" {
		msg = "upstream request failed"
	}
	return msg
}

// headerSafe maps runes that may not appear in a header value, CR and LF
// among them, to a space.
func headerSafe(r rune) rune {
	if r >= 0x80 || !httpguts.ValidHeaderFieldValue(string(r)) {
		return ' '
	}
	return r
}
