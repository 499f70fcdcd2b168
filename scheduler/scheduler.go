package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/filehaven/engine/cmn"
	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/metrics"
	"github.com/filehaven/engine/store"
)

// Scheduler drives every persisted ScheduledJob to completion exactly once
// per due firing, across however many process instances are pointed at the
// same store, by leasing jobs via a compare-and-swap on lock_until (§4.4).
type Scheduler struct {
	store    *store.Store
	handlers *HandlerRegistry
	lease    time.Duration
	interval time.Duration
	histCap  int

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	lastTick time.Time
	nextTick time.Time
	running  sync.WaitGroup

	metrics *metrics.Registry
}

// WithMetrics attaches a metrics registry; ticks and job runs recorded
// after this call show up under the filehaven_scheduler_* collectors. A
// nil registry (the default) makes every recording call a no-op.
func (sch *Scheduler) WithMetrics(reg *metrics.Registry) *Scheduler {
	sch.metrics = reg
	return sch
}

// New builds a Scheduler. cfg should already have passed Validate().
func New(s *store.Store, handlers *HandlerRegistry, lease, tickInterval time.Duration, runHistoryCap int) *Scheduler {
	return &Scheduler{
		store:    s,
		handlers: handlers,
		lease:    lease,
		interval: tickInterval,
		histCap:  runHistoryCap,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run ticks on cfg's interval until ctx is cancelled. It is the long-lived
// loop a process's main goroutine hands off to, analogous to the teacher's
// housekeeping runner.
func (sch *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sch.interval)
	defer ticker.Stop()
	sch.mu.Lock()
	sch.nextTick = time.Now().Add(sch.interval)
	sch.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			sch.running.Wait()
			return
		case now := <-ticker.C:
			sch.Tick(ctx, now)
			sch.mu.Lock()
			sch.nextTick = now.Add(sch.interval)
			sch.mu.Unlock()
		}
	}
}

// Status reports the scheduler's own clock bookkeeping for an admin surface.
type Status struct {
	NowMs    int64
	LastTick int64
	NextTick int64
}

func (sch *Scheduler) Status() Status {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return Status{
		NowMs:    time.Now().UnixMilli(),
		LastTick: sch.lastTick.UnixMilli(),
		NextTick: sch.nextTick.UnixMilli(),
	}
}

// Tick scans for due jobs and launches one goroutine per job that wins its
// lease. It is safe to call concurrently with itself (e.g. a manual
// admin-triggered tick racing the ticker loop): losing a lease race is the
// ordinary, expected outcome for every runner but one.
func (sch *Scheduler) Tick(ctx context.Context, now time.Time) {
	sch.mu.Lock()
	sch.lastTick = now
	sch.mu.Unlock()
	defer sch.metrics.RecordTick(time.Since(now))

	due, err := sch.store.DueJobs(now.UnixMilli())
	if err != nil {
		glog.Errorf("scheduler: DueJobs failed: %v", err)
		return
	}
	for _, job := range due {
		job := job
		sch.running.Add(1)
		go func() {
			defer sch.running.Done()
			sch.runJob(ctx, job, now)
		}()
	}
}

// RunNow forces an immediate attempt to lease and run taskID regardless of
// its next_run_after, used by an admin "run now" action.
func (sch *Scheduler) RunNow(ctx context.Context, taskID string) error {
	job, err := sch.store.GetScheduledJob(taskID)
	if err != nil {
		return err
	}
	sch.running.Add(1)
	go func() {
		defer sch.running.Done()
		sch.runJob(ctx, job, time.Now())
	}()
	return nil
}

// Cancel requests cancellation of taskID's in-flight run, if any. It has no
// effect if the job isn't currently running.
func (sch *Scheduler) Cancel(taskID string) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	cancel, ok := sch.cancels[taskID]
	if ok {
		cancel()
	}
	return ok
}

func (sch *Scheduler) runJob(parent context.Context, job *store.ScheduledJob, now time.Time) {
	newLock := now.Add(sch.lease).UnixMilli()
	won, leased, err := sch.store.TryAcquireLease(job.TaskID, job.LockUntil, newLock)
	if err != nil {
		glog.Errorf("scheduler: TryAcquireLease(%s) failed: %v", job.TaskID, err)
		return
	}
	if !won {
		return // another runner already holds or renewed the lease
	}

	handler, ok := sch.handlers.Get(leased.HandlerName)
	if !ok {
		sch.finish(leased, now, now, store.RunStatusFailed, nil,
			ferrors.ValidationError("no handler registered for %q", leased.HandlerName).Error())
		return
	}

	ctx, cancel := context.WithTimeout(parent, sch.lease)
	sch.mu.Lock()
	sch.cancels[job.TaskID] = cancel
	sch.mu.Unlock()
	defer func() {
		sch.mu.Lock()
		delete(sch.cancels, job.TaskID)
		sch.mu.Unlock()
		cancel()
	}()

	runID := cmn.GenID()
	startedAt := time.Now()
	if err := sch.store.PutJobRun(&store.JobRun{
		TaskID: job.TaskID, RunID: runID, StartedAt: startedAt.UnixMilli(), Status: store.RunStatusRunning,
	}); err != nil {
		glog.Errorf("scheduler: PutJobRun(running, %s) failed: %v", job.TaskID, err)
	}

	glog.Infof("scheduler: running %q (handler %q, run %s)", job.TaskID, leased.HandlerName, runID)
	statsJSON, runErr := handler(ctx, leased)
	finishedAt := time.Now()

	status := store.RunStatusSuccess
	errMsg := ""
	switch {
	case runErr == nil:
	case ctx.Err() == context.Canceled || ctx.Err() == context.DeadlineExceeded:
		status = store.RunStatusCancelled
		errMsg = runErr.Error()
	default:
		status = store.RunStatusFailed
		errMsg = runErr.Error()
	}
	if status != store.RunStatusSuccess {
		glog.Errorf("scheduler: %q run %s ended %s: %s", job.TaskID, runID, status, errMsg)
	}

	sch.finishRun(job.TaskID, runID, startedAt, finishedAt, status, statsJSON, errMsg)

	next, err := fire(leased.CronExpr, leased.IntervalSeconds, finishedAt)
	if err != nil {
		glog.Errorf("scheduler: computing next fire time for %q failed: %v", job.TaskID, err)
		next = finishedAt.Add(sch.interval) // degrade to re-trying on the next tick rather than stalling forever
	}
	if err := sch.store.ReleaseLease(job.TaskID, finishedAt.UnixMilli(), next.UnixMilli()); err != nil {
		glog.Errorf("scheduler: ReleaseLease(%s) failed: %v", job.TaskID, err)
	}
}

func (sch *Scheduler) finish(job *store.ScheduledJob, started, finished time.Time, status store.JobRunStatus, stats []byte, errMsg string) {
	runID := cmn.GenID()
	sch.finishRun(job.TaskID, runID, started, finished, status, stats, errMsg)
	next, err := fire(job.CronExpr, job.IntervalSeconds, finished)
	if err != nil {
		next = finished.Add(sch.interval)
	}
	if err := sch.store.ReleaseLease(job.TaskID, finished.UnixMilli(), next.UnixMilli()); err != nil {
		glog.Errorf("scheduler: ReleaseLease(%s) failed: %v", job.TaskID, err)
	}
}

func (sch *Scheduler) finishRun(taskID, runID string, started, finished time.Time, status store.JobRunStatus, stats []byte, errMsg string) {
	sch.metrics.RecordJobRun(status == store.RunStatusFailed)
	if err := sch.store.PutJobRun(&store.JobRun{
		TaskID: taskID, RunID: runID, StartedAt: started.UnixMilli(), FinishedAt: finished.UnixMilli(),
		Status: status, StatsJSON: stats, Error: errMsg,
	}); err != nil {
		glog.Errorf("scheduler: PutJobRun(%s, %s) failed: %v", status, taskID, err)
	}
	if err := sch.store.EvictOldestRuns(taskID, sch.histCap); err != nil {
		glog.Errorf("scheduler: EvictOldestRuns(%s) failed: %v", taskID, err)
	}
}
