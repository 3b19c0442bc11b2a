// Package canary deterministically splits traffic between the structured SLM
// pipeline and the legacy single-shot path. Routing hashes the conversation
// id so one conversation always takes the same branch for a given config,
// keeping A/B measurements free of within-conversation contamination.
package canary

import (
	"hash/fnv"
	"sync/atomic"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
)

// Config holds the two routing knobs. Percent is clamped to [0, 100].
type Config struct {
	Enabled bool
	Percent int
}

// Router resolves a route per conversation. The active config is swapped
// atomically on operator updates; reads never lock.
type Router struct {
	config atomic.Pointer[Config]
}

// New creates a router with the given initial config.
func New(cfg Config) *Router {
	r := &Router{}
	r.Update(cfg)
	return r
}

// Update swaps the active config.
func (r *Router) Update(cfg Config) {
	if cfg.Percent < 0 {
		cfg.Percent = 0
	}
	if cfg.Percent > 100 {
		cfg.Percent = 100
	}
	r.config.Store(&cfg)
}

// Config returns the active config.
func (r *Router) Config() Config {
	return *r.config.Load()
}

// Route picks the branch for a conversation. The split is a pure function of
// (conversation id, config): FNV-1a 64 over the UTF-8 bytes, mod 100,
// compared against the configured percent. The hash is stable across process
// restarts and implementations.
func (r *Router) Route(conversationID string) dialog.Route {
	return RouteWith(conversationID, r.Config())
}

// RouteWith applies the routing function with an explicit config.
func RouteWith(conversationID string, cfg Config) dialog.Route {
	if !cfg.Enabled || cfg.Percent <= 0 {
		return dialog.RouteLegacy
	}
	if cfg.Percent >= 100 {
		return dialog.RouteSLMPipeline
	}
	if Bucket(conversationID) < uint64(cfg.Percent) {
		return dialog.RouteSLMPipeline
	}
	return dialog.RouteLegacy
}

// Bucket maps a conversation id onto [0, 100).
func Bucket(conversationID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(conversationID))
	return h.Sum64() % 100
}
