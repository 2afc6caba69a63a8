// Package replication applies replicated events to local replicas and decides
// what happens to each delivery: ack, delayed retry, or drop.
package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
)

type Handler func(ctx context.Context, env events.Envelope) error

var ErrNoHandler = errors.New("no handler registered")

// Registry maps subscription patterns to handlers. Lookup prefers an exact
// event type and falls back to topic patterns in registration order.
type Registry struct {
	exact    map[string]Handler
	patterns []patternHandler
}

type patternHandler struct {
	pattern string
	h       Handler
}

func NewRegistry() *Registry {
	return &Registry{exact: map[string]Handler{}}
}

func (r *Registry) Handle(pattern string, h Handler) *Registry {
	if strings.ContainsAny(pattern, "*#") {
		for i, p := range r.patterns {
			if p.pattern == pattern {
				r.patterns[i].h = h
				return r
			}
		}
		r.patterns = append(r.patterns, patternHandler{pattern: pattern, h: h})
		return r
	}
	r.exact[pattern] = h
	return r
}

func (r *Registry) HandleAll(handlers map[events.EventType]Handler) *Registry {
	for t, h := range handlers {
		r.Handle(string(t), h)
	}
	return r
}

func (r *Registry) Lookup(t events.EventType) (Handler, bool) {
	if h, ok := r.exact[string(t)]; ok {
		return h, true
	}
	for _, p := range r.patterns {
		if topology.Match(p.pattern, string(t)) {
			return p.h, true
		}
	}
	return nil, false
}

// Check fails when a subscription in plan could receive messages nothing handles.
func (r *Registry) Check(plan topology.Plan) error {
	var missing []string
	for _, sub := range plan.Subscriptions {
		if !r.covers(sub.Pattern) {
			missing = append(missing, sub.Pattern)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for %s: %s", ErrNoHandler, plan.Service, strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) covers(pattern string) bool {
	if !strings.ContainsAny(pattern, "*#") {
		_, ok := r.Lookup(events.EventType(pattern))
		return ok
	}
	for _, p := range r.patterns {
		if p.pattern == pattern || p.pattern == "#" {
			return true
		}
	}
	return false
}
