package service

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"
	"golang.org/x/net/idna"

	"edge-forwarder/internal/config"
)

// TargetPolicy decides which target hosts may be forwarded to.
// Patterns are compiled once; a nil policy permits every host. Hosts and
// patterns are compared in lowercase punycode, so "münchen.de" and
// "xn--mnchen-3ya.de" name the same host.
type TargetPolicy struct {
	allow []glob.Glob
	deny  []glob.Glob
}

// NewTargetPolicy compiles the allow and deny patterns from cfg.
func NewTargetPolicy(cfg *config.Config) (*TargetPolicy, error) {
	allow, err := compileHostGlobs(cfg.Targets.Allow)
	if err != nil {
		return nil, fmt.Errorf("targets.allow: %w", err)
	}
	deny, err := compileHostGlobs(cfg.Targets.Deny)
	if err != nil {
		return nil, fmt.Errorf("targets.deny: %w", err)
	}
	return &TargetPolicy{allow: allow, deny: deny}, nil
}

// compileHostGlobs compiles every pattern and reports all invalid ones at once.
func compileHostGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	var errs error
	for _, p := range patterns {
		g, err := glob.Compile(normalizeHost(p), '.')
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compile %q: %w", p, err))
			continue
		}
		globs = append(globs, g)
	}
	if errs != nil {
		return nil, errs
	}
	return globs, nil
}

// normalizeHost lowercases name and converts internationalized labels to
// punycode. Names idna rejects are matched in their lowercase form.
func normalizeHost(name string) string {
	lower := strings.ToLower(name)
	if ascii, err := idna.ToASCII(lower); err == nil {
		return ascii
	}
	return lower
}

// Permits reports whether hostname may be forwarded to. Deny patterns win;
// an empty allow list admits every host not denied.
func (p *TargetPolicy) Permits(hostname string) bool {
	if p == nil {
		return true
	}
	host := normalizeHost(hostname)
	for _, g := range p.deny {
		if g.Match(host) {
			return false
		}
	}
	if len(p.allow) == 0 {
		return true
	}
	for _, g := range p.allow {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// Restricted reports whether any pattern is configured.
func (p *TargetPolicy) Restricted() bool {
	return p != nil && (len(p.allow) > 0 || len(p.deny) > 0)
}
