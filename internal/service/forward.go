// Package service implements the forwarding policy and response relay.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"edge-forwarder/internal/metrics"
	"edge-forwarder/internal/model"
)

var (
	// ErrMissingTarget is returned when neither X-Target-URL nor the url query parameter is set.
	ErrMissingTarget = errors.New("no target URL supplied")
	// ErrInvalidTarget is returned when the target is not an absolute URL with a host.
	ErrInvalidTarget = errors.New("target is not an absolute URL")
	// ErrTargetDenied is returned when the target host is excluded by the target policy.
	ErrTargetDenied = errors.New("target host is not permitted")
)

// DispatchError reports a failure to reach the target or to receive its response.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return "dispatch to target: " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher sends an outbound request to its target.
type Dispatcher interface {
	Do(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error)
}

// ForwardService runs one inbound request through extraction, sanitization,
// dispatch and relay. It holds no per-request state.
type ForwardService struct {
	dispatcher Dispatcher
	policy     *TargetPolicy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewForwardService creates a ForwardService. policy and m may be nil.
func NewForwardService(d Dispatcher, policy *TargetPolicy, logger *slog.Logger, m *metrics.Metrics) *ForwardService {
	return &ForwardService{
		dispatcher: d,
		policy:     policy,
		logger:     logger.With("component", "forward_service"),
		metrics:    m,
	}
}

// Forward sends pr to the target it names and returns the relayed response.
// The caller is responsible for closing the response body.
//
// Errors are ErrMissingTarget or ErrInvalidTarget before dispatch,
// ErrTargetDenied when the policy excludes the host, and *DispatchError when
// the target could not be reached. There is exactly one dispatch attempt.
func (s *ForwardService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := ExtractTarget(pr.Header, pr.URL)
	if err != nil {
		s.reject(RejectionReason(err))
		return nil, err
	}

	hostname := target.Hostname()
	if !s.policy.Permits(hostname) {
		s.reject(metrics.ReasonTargetDenied)
		return nil, fmt.Errorf("%w: %s", ErrTargetDenied, hostname)
	}

	header := SanitizeHeaders(pr.Header, hostname)
	out := BuildOutbound(pr.Method, target, header, pr.Body, pr.ContentLength)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target_host", target.Host,
	)

	resp, err := s.dispatcher.Do(pr.Ctx, out)
	if err != nil {
		s.reject(metrics.ReasonDispatchFailed)
		return nil, &DispatchError{Err: err}
	}

	resp.Header = RelayHeaders(resp.Header)
	return resp, nil
}

// RejectionReason returns the metrics reason label for an error from Forward.
// Anything other than the sentinel errors is a dispatch failure.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingTarget):
		return metrics.ReasonMissingTarget
	case errors.Is(err, ErrInvalidTarget):
		return metrics.ReasonInvalidTarget
	case errors.Is(err, ErrTargetDenied):
		return metrics.ReasonTargetDenied
	}
	return metrics.ReasonDispatchFailed
}

func (s *ForwardService) reject(reason string) {
	if s.metrics != nil {
		s.metrics.ForwardRejections.WithLabelValues(reason).Inc()
	}
}
