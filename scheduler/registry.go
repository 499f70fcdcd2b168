package scheduler

import (
	"context"
	"encoding/json"
	"sync"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/store"
)

// HandlerFunc runs one ScheduledJob to completion. It must respect ctx
// cancellation (the scheduler cancels when a job's lease is revoked or the
// process is shutting down) and may return a StatsJSON payload recorded
// alongside the JobRun.
type HandlerFunc func(ctx context.Context, job *store.ScheduledJob) (statsJSON json.RawMessage, err error)

// HandlerRegistry maps a ScheduledJob's handler_name to the function that
// executes it, mirroring the teacher's xreg named-registration idiom but
// for job handlers instead of xaction constructors.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register installs h under name, overwriting any prior registration.
func (r *HandlerRegistry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get looks up the handler for name.
func (r *HandlerRegistry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists every registered handler name.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// requireHandler is a small convenience used at job-creation time to
// reject a job whose handler_name has no registered implementation.
func (r *HandlerRegistry) requireHandler(name string) error {
	if _, ok := r.Get(name); !ok {
		return ferrors.ValidationError("no handler registered for %q", name)
	}
	return nil
}

// Well-known handler names (§4.4 / §4.5 built-in jobs).
const (
	HandlerStorageUsageRefresh = "storage_usage_refresh"
	HandlerFSIndexRebuild      = "fs_index_rebuild"
	HandlerFSIndexApplyDirty   = "fs_index_apply_dirty"
	HandlerCopy                = "copy"
)
