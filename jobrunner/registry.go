package jobrunner

import (
	"context"
	"encoding/json"
	"sync"

	ferrors "github.com/filehaven/engine/cmn/errors"
)

// ProgressFunc reports bytes transferred so far for one item; the runner
// turns this into a progress fraction once the item's FileSize is known.
type ProgressFunc func(bytesTransferred int64)

// ItemWorker does the actual work for one task item.
type ItemWorker func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error

// TypeSpec is one task_type's registration: its worker and whether it
// opts out of the default one-job-per-(userId,taskType) serialization.
type TypeSpec struct {
	Worker   ItemWorker
	Parallel bool
}

// Registry maps task_type to its TypeSpec, mirroring scheduler's
// HandlerRegistry but for job-runner item workers.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeSpec
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TypeSpec)}
}

func (r *Registry) Register(taskType string, spec TypeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[taskType] = spec
}

func (r *Registry) Get(taskType string) (TypeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.types[taskType]
	return spec, ok
}

func (r *Registry) require(taskType string) (TypeSpec, error) {
	spec, ok := r.Get(taskType)
	if !ok {
		return TypeSpec{}, ferrors.ValidationError("no job-runner worker registered for task type %q", taskType)
	}
	return spec, nil
}
