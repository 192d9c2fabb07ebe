// Package handler serves the forwarding endpoint and the forwarder's own routes.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"edge-forwarder/internal/config"
	"edge-forwarder/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	policy  *service.TargetPolicy
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, policy *service.TargetPolicy, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, policy: policy, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns forwarder status information. Proxy credentials are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            string(h.version),
		"upstream_protocol":  h.cfg.Upstream.Protocol,
		"upstream_proxy":     h.cfg.Upstream.ProxyURL != "",
		"targets_restricted": h.policy.Restricted(),
	})
}
