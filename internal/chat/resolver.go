package chat

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/hapra/internal/auth"
)

// Prober reports whether a base URL answers.
type Prober func(ctx context.Context, baseURL string) bool

// ResolverConfig configures endpoint resolution.
type ResolverConfig struct {
	// Rewrites derive the chat host from the token's url claim.
	Rewrites []auth.Rewrite

	// ContainerAliasPrefix marks candidates that should fall back to
	// LoopbackFallback when unreachable.
	ContainerAliasPrefix string

	// LoopbackFallback is probed when the primary candidate matches
	// ContainerAliasPrefix and does not answer.
	LoopbackFallback string

	// ProbeTimeout bounds each default probe.
	ProbeTimeout time.Duration
}

// DefaultResolverConfig returns the rewrites and fallback used by the HAP
// docker deployment.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Rewrites: []auth.Rewrite{
			{From: "happi", To: "chat"},
			{From: "8080", To: "8008"},
		},
		ContainerAliasPrefix: "http://host.docker.internal",
		LoopbackFallback:     "http://localhost:8008",
		ProbeTimeout:         5 * time.Second,
	}
}

// EndpointResolver finds the chat server for a bearer token and caches the
// first base URL that answers for the life of the process.
type EndpointResolver struct {
	config ResolverConfig
	probe  Prober
	logger *slog.Logger

	mu     sync.Mutex
	cached string
}

// NewEndpointResolver creates a resolver. A nil prober uses HTTP GET.
func NewEndpointResolver(cfg ResolverConfig, probe Prober, logger *slog.Logger) *EndpointResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if probe == nil {
		probe = HTTPProber(&http.Client{Timeout: cfg.ProbeTimeout})
	}
	return &EndpointResolver{
		config: cfg,
		probe:  probe,
		logger: logger.With("component", "chat_resolver"),
	}
}

// HTTPProber returns a Prober that treats any HTTP response as reachable.
func HTTPProber(client *http.Client) Prober {
	return func(ctx context.Context, baseURL string) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Resolve returns the chat base URL for token. A cached URL is returned
// without probing. Concurrent first calls may both probe; the outcome is
// the same.
func (r *EndpointResolver) Resolve(ctx context.Context, token string) (string, error) {
	if cached := r.Cached(); cached != "" {
		return cached, nil
	}

	primary, err := auth.BaseURL(token, r.config.Rewrites)
	if err != nil {
		return "", NewError(ErrCodeToken, "cannot derive chat endpoint", err)
	}

	candidates := []string{primary}
	if r.config.ContainerAliasPrefix != "" && r.config.LoopbackFallback != "" &&
		strings.HasPrefix(primary, r.config.ContainerAliasPrefix) {
		candidates = append(candidates, strings.TrimRight(r.config.LoopbackFallback, "/"))
	}

	for _, candidate := range candidates {
		if r.probe(ctx, candidate) {
			r.mu.Lock()
			if r.cached == "" {
				r.cached = candidate
			}
			resolved := r.cached
			r.mu.Unlock()
			r.logger.Info("resolved chat endpoint", "url", resolved)
			return resolved, nil
		}
		r.logger.Warn("chat endpoint probe failed", "url", candidate)
	}

	return "", NewError(ErrCodeUnreachable, "no reachable chat endpoint", nil).
		WithContext("candidates", candidates)
}

// Cached returns the cached base URL or "".
func (r *EndpointResolver) Cached() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached
}

// Reset drops the cached URL.
func (r *EndpointResolver) Reset() {
	r.mu.Lock()
	r.cached = ""
	r.mu.Unlock()
}
