package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-outbound/core"
)

// Router dispatches a job to the handler registered for its exact name, or
// else to the handler with the longest registered prefix of it.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]core.JobHandler
	prefixes []prefixRoute
}

type prefixRoute struct {
	prefix  string
	handler core.JobHandler
}

func NewRouter() *Router {
	return &Router{exact: map[string]core.JobHandler{}}
}

func (r *Router) Register(name string, handler core.JobHandler) {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[name] = handler
}

func (r *Router) RegisterPrefix(prefix string, handler core.JobHandler) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, route := range r.prefixes {
		if route.prefix == prefix {
			r.prefixes[i].handler = handler
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, handler: handler})
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

func (r *Router) Lookup(name string) (core.JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handler, ok := r.exact[name]; ok {
		return handler, true
	}
	for _, route := range r.prefixes {
		if strings.HasPrefix(name, route.prefix) {
			return route.handler, true
		}
	}
	return nil, false
}

func (r *Router) Handle(ctx context.Context, job core.Job) error {
	handler, ok := r.Lookup(job.Name)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrHandlerNotFound, job.Name)
	}
	return handler.Handle(ctx, job)
}
