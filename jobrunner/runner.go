package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"

	"github.com/filehaven/engine/cmn"
	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/metrics"
	"github.com/filehaven/engine/store"
)

// ItemSpec is one unit of work submitted as part of a job.
type ItemSpec struct {
	ItemID   string
	Payload  json.RawMessage
	FileSize int64
}

// JobSpec is the input to Submit: §4.6's {taskType,userId,triggerType,
// payload,allowedActions} plus the item list the job fans out over.
type JobSpec struct {
	TaskType       string
	UserID         string
	Trigger        store.TriggerType
	PayloadJSON    json.RawMessage
	AllowedActions []string
	Items          []ItemSpec
}

// Runner is the generic bounded-parallelism job executor (§4.6), shared
// across every task type the process registers.
type Runner struct {
	store *store.Store
	types *Registry
	sem   *semaphore.Weighted

	mu          sync.Mutex
	activeByKey map[string]bool
	cancels     map[string]context.CancelFunc
	taskLocks   map[string]*sync.Mutex

	metrics *metrics.Registry
}

// New builds a Runner bounded to maxParallelItems concurrent item workers
// across all in-flight jobs.
func New(s *store.Store, types *Registry, maxParallelItems int64) *Runner {
	return &Runner{
		store:       s,
		types:       types,
		sem:         semaphore.NewWeighted(maxParallelItems),
		activeByKey: make(map[string]bool),
		cancels:     make(map[string]context.CancelFunc),
		taskLocks:   make(map[string]*sync.Mutex),
	}
}

// WithMetrics attaches a metrics registry; item outcomes, bytes moved and
// active worker count recorded after this call show up under the
// filehaven_jobrunner_* collectors. A nil registry (the default) makes
// every recording call a no-op.
func (r *Runner) WithMetrics(reg *metrics.Registry) *Runner {
	r.metrics = reg
	return r
}

func (r *Runner) lockFor(jobID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.taskLocks[jobID]
	if !ok {
		m = &sync.Mutex{}
		r.taskLocks[jobID] = m
	}
	return m
}

func concurrencyKey(userID, taskType string) string { return userID + "|" + taskType }

// Submit creates a Task row and starts its items running in the
// background, enforcing the §4.6 concurrency policy: one job per
// (userId,taskType) unless the registered type opts into parallel runs.
func (r *Runner) Submit(spec JobSpec) (*store.Task, error) {
	ts, err := r.types.require(spec.TaskType)
	if err != nil {
		return nil, err
	}

	key := concurrencyKey(spec.UserID, spec.TaskType)
	if !ts.Parallel {
		r.mu.Lock()
		if r.activeByKey[key] {
			r.mu.Unlock()
			return nil, ferrors.BusyError("a %q job is already running for this user", spec.TaskType)
		}
		r.activeByKey[key] = true
		r.mu.Unlock()
	}

	jobID := cmn.GenID()
	now := time.Now().UnixMilli()
	items := make([]store.ItemResult, len(spec.Items))
	for i, it := range spec.Items {
		items[i] = store.ItemResult{ItemID: it.ItemID, PayloadJSON: it.Payload, Status: store.ItemPending, FileSize: it.FileSize}
	}
	task := &store.Task{
		JobID: jobID, TaskType: spec.TaskType, UserID: spec.UserID, TriggerType: spec.Trigger,
		PayloadJSON: spec.PayloadJSON, AllowedActions: spec.AllowedActions,
		Status: store.TaskRunning, ItemResults: items, CreatedAt: now, UpdatedAt: now,
	}
	if err := r.store.PutTask(task); err != nil {
		if !ts.Parallel {
			r.mu.Lock()
			delete(r.activeByKey, key)
			r.mu.Unlock()
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	itemIDs := make([]string, len(spec.Items))
	for i, it := range spec.Items {
		itemIDs[i] = it.ItemID
	}
	go r.run(runCtx, jobID, key, spec.TaskType, ts, itemIDs, 0)

	return task, nil
}

// Cancel requests cancellation of jobID's in-flight item workers.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// RetryFile re-runs exactly one item of jobID, whatever its current
// status, preserving its retry_count and identity.
func (r *Runner) RetryFile(jobID, itemID string) error {
	return r.retry(jobID, func(it store.ItemResult) bool { return it.ItemID == itemID })
}

// RetryAllFailed re-runs every item of jobID currently in the "failed"
// state.
func (r *Runner) RetryAllFailed(jobID string) error {
	return r.retry(jobID, func(it store.ItemResult) bool { return it.Status == store.ItemFailed })
}

func (r *Runner) retry(jobID string, selected func(store.ItemResult) bool) error {
	task, err := r.store.GetTask(jobID)
	if err != nil {
		return err
	}
	ts, err := r.types.require(task.TaskType)
	if err != nil {
		return err
	}

	key := concurrencyKey(task.UserID, task.TaskType)
	if !ts.Parallel {
		r.mu.Lock()
		if r.activeByKey[key] {
			r.mu.Unlock()
			return ferrors.BusyError("a %q job is already running for this user", task.TaskType)
		}
		r.activeByKey[key] = true
		r.mu.Unlock()
	}

	var itemIDs []string
	mu := r.lockFor(jobID)
	mu.Lock()
	for i := range task.ItemResults {
		if selected(task.ItemResults[i]) {
			task.ItemResults[i].Status = store.ItemRetrying
			itemIDs = append(itemIDs, task.ItemResults[i].ItemID)
		}
	}
	task.Status = store.TaskRunning
	task.UpdatedAt = time.Now().UnixMilli()
	task.FinishedAt = 0
	putErr := r.store.PutTask(task)
	mu.Unlock()
	if putErr != nil {
		if !ts.Parallel {
			r.mu.Lock()
			delete(r.activeByKey, key)
			r.mu.Unlock()
		}
		return putErr
	}
	if len(itemIDs) == 0 {
		if !ts.Parallel {
			r.mu.Lock()
			delete(r.activeByKey, key)
			r.mu.Unlock()
		}
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	go r.run(runCtx, jobID, key, task.TaskType, ts, itemIDs, 1)
	return nil
}

func (r *Runner) run(ctx context.Context, jobID, key, taskType string, ts TypeSpec, itemIDs []string, retryBump int) {
	defer func() {
		r.mu.Lock()
		delete(r.cancels, jobID)
		if !ts.Parallel {
			delete(r.activeByKey, key)
		}
		r.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, itemID := range itemIDs {
		itemID := itemID
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.updateItem(jobID, itemID, func(it *store.ItemResult) {
				it.Status = store.ItemFailed
				it.Error = "cancelled before starting: " + err.Error()
			})
			continue
		}
		wg.Add(1)
		r.metrics.JobActiveWorkersInc()
		go func() {
			defer wg.Done()
			defer r.sem.Release(1)
			defer r.metrics.JobActiveWorkersDec()
			r.runItem(ctx, jobID, itemID, taskType, ts.Worker, retryBump)
		}()
	}
	wg.Wait()
	r.finalizeTask(jobID)
}

func (r *Runner) runItem(ctx context.Context, jobID, itemID, taskType string, worker ItemWorker, retryBump int) {
	var payload json.RawMessage
	r.updateItem(jobID, itemID, func(it *store.ItemResult) {
		it.Status = store.ItemProcessing
		it.RetryCount += retryBump
		payload = it.PayloadJSON
	})

	var bytesMoved int64
	err := worker(ctx, itemID, payload, func(bytesTransferred int64) {
		bytesMoved = bytesTransferred
		r.updateItem(jobID, itemID, func(it *store.ItemResult) {
			it.BytesTransferred = bytesTransferred
			if it.FileSize > 0 {
				it.Progress = float64(bytesTransferred) / float64(it.FileSize)
			}
		})
	})

	var status store.ItemStatus
	r.updateItem(jobID, itemID, func(it *store.ItemResult) {
		switch {
		case err == nil:
			it.Status = store.ItemSuccess
			it.Progress = 1
			it.Error = ""
		case errors.Is(err, ErrSkip):
			it.Status = store.ItemSkipped
			it.Error = ""
		default:
			it.Status = store.ItemFailed
			it.Error = err.Error()
			glog.Errorf("jobrunner: job %s item %s failed: %v", jobID, itemID, err)
		}
		status = it.Status
	})
	r.metrics.RecordJobItem(taskType, string(status), bytesMoved)
}

// ErrSkip is the sentinel an ItemWorker returns to mark its item skipped
// (e.g. a copy target that already exists under a skip policy) rather than
// failed, without degrading the overall task to "partial".
var ErrSkip = errors.New("jobrunner: item skipped")

func (r *Runner) updateItem(jobID, itemID string, mutate func(*store.ItemResult)) {
	mu := r.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	task, err := r.store.GetTask(jobID)
	if err != nil {
		glog.Errorf("jobrunner: GetTask(%s) failed: %v", jobID, err)
		return
	}
	for i := range task.ItemResults {
		if task.ItemResults[i].ItemID == itemID {
			mutate(&task.ItemResults[i])
			break
		}
	}
	task.UpdatedAt = time.Now().UnixMilli()
	if err := r.store.PutTask(task); err != nil {
		glog.Errorf("jobrunner: PutTask(%s) failed: %v", jobID, err)
	}
}

func (r *Runner) finalizeTask(jobID string) {
	mu := r.lockFor(jobID)
	mu.Lock()
	defer mu.Unlock()

	task, err := r.store.GetTask(jobID)
	if err != nil {
		glog.Errorf("jobrunner: GetTask(%s) failed: %v", jobID, err)
		return
	}

	var success, failed, skipped, pending int
	for _, it := range task.ItemResults {
		switch it.Status {
		case store.ItemSuccess:
			success++
		case store.ItemFailed:
			failed++
		case store.ItemSkipped:
			skipped++
		default:
			pending++ // still pending/processing/retrying: another retry wave is in flight
		}
	}
	if pending > 0 {
		return
	}

	switch {
	case failed == 0:
		task.Status = store.TaskSuccess
	case success == 0 && skipped == 0:
		task.Status = store.TaskFailed
	default:
		task.Status = store.TaskPartial
	}
	now := time.Now().UnixMilli()
	task.FinishedAt = now
	task.UpdatedAt = now
	if err := r.store.PutTask(task); err != nil {
		glog.Errorf("jobrunner: PutTask(%s) failed: %v", jobID, err)
	}
}
