package scheduler

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filehaven/engine/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedJob(t *testing.T, s *store.Store, taskID, handler string, nextRunAfter int64) {
	t.Helper()
	if err := s.PutScheduledJob(&store.ScheduledJob{
		TaskID:       taskID,
		HandlerName:  handler,
		IntervalSeconds: 60,
		Enabled:      true,
		NextRunAfter: nextRunAfter,
	}); err != nil {
		t.Fatalf("PutScheduledJob: %v", err)
	}
}

func TestTickRunsDueJobAndReschedules(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "refresh-sc1", HandlerStorageUsageRefresh, time.Now().Add(-time.Minute).UnixMilli())

	var ran int32
	handlers := NewHandlerRegistry()
	handlers.Register(HandlerStorageUsageRefresh, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		atomic.AddInt32(&ran, 1)
		return json.RawMessage(`{"ok":true}`), nil
	})

	sch := New(s, handlers, time.Minute, time.Second, 10)
	sch.Tick(context.Background(), time.Now())
	sch.running.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected handler to run exactly once, ran %d times", ran)
	}

	job, err := s.GetScheduledJob("refresh-sc1")
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}
	if job.LockUntil != 0 {
		t.Fatalf("expected lease to be released after completion, got lock_until=%d", job.LockUntil)
	}
	if job.NextRunAfter <= time.Now().Add(50*time.Second).UnixMilli() {
		t.Fatalf("expected next_run_after to have advanced by ~60s, got %d", job.NextRunAfter)
	}
	if job.RunCount != 1 {
		t.Fatalf("expected run_count=1, got %d", job.RunCount)
	}

	runs, err := s.ListJobRuns("refresh-sc1")
	if err != nil {
		t.Fatalf("ListJobRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunStatusSuccess {
		t.Fatalf("expected one successful run record, got %+v", runs)
	}
}

func TestTickSkipsJobNotYetDue(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "future-job", HandlerFSIndexRebuild, time.Now().Add(time.Hour).UnixMilli())

	handlers := NewHandlerRegistry()
	ran := false
	handlers.Register(HandlerFSIndexRebuild, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		ran = true
		return nil, nil
	})

	sch := New(s, handlers, time.Minute, time.Second, 10)
	sch.Tick(context.Background(), time.Now())
	sch.running.Wait()

	if ran {
		t.Fatalf("job not yet due should not have run")
	}
}

func TestTwoRunnersOnlyOneWinsLease(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "contended", HandlerCopy, time.Now().Add(-time.Second).UnixMilli())

	var ran int32
	block := make(chan struct{})
	handlers := NewHandlerRegistry()
	handlers.Register(HandlerCopy, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		atomic.AddInt32(&ran, 1)
		<-block
		return nil, nil
	})

	schA := New(s, handlers, time.Minute, time.Second, 10)
	schB := New(s, handlers, time.Minute, time.Second, 10)

	now := time.Now()
	job, err := s.GetScheduledJob("contended")
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}

	schA.running.Add(1)
	go func() {
		defer schA.running.Done()
		schA.runJob(context.Background(), job, now)
	}()
	// give schA a head start to win the CAS before schB attempts it
	time.Sleep(20 * time.Millisecond)
	schB.Tick(context.Background(), now)
	schB.running.Wait()

	close(block)
	schA.running.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected exactly one runner to win the lease, ran %d times", ran)
	}
}

func TestCancelStopsInFlightRun(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "cancel-me", HandlerFSIndexApplyDirty, time.Now().Add(-time.Second).UnixMilli())

	started := make(chan struct{})
	handlers := NewHandlerRegistry()
	handlers.Register(HandlerFSIndexApplyDirty, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	sch := New(s, handlers, time.Minute, time.Second, 10)
	sch.Tick(context.Background(), time.Now())

	<-started
	if !sch.Cancel("cancel-me") {
		t.Fatalf("expected Cancel to find an in-flight run")
	}
	sch.running.Wait()

	runs, err := s.ListJobRuns("cancel-me")
	if err != nil {
		t.Fatalf("ListJobRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunStatusCancelled {
		t.Fatalf("expected a cancelled run record, got %+v", runs)
	}
}

func TestRunNowIgnoresNextRunAfter(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "later", HandlerStorageUsageRefresh, time.Now().Add(time.Hour).UnixMilli())

	var ran int32
	handlers := NewHandlerRegistry()
	handlers.Register(HandlerStorageUsageRefresh, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		atomic.AddInt32(&ran, 1)
		return nil, nil
	})

	sch := New(s, handlers, time.Minute, time.Second, 10)
	if err := sch.RunNow(context.Background(), "later"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	sch.running.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected RunNow to execute regardless of next_run_after")
	}
}

func TestUnknownHandlerRecordsFailedRun(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "orphan", "no_such_handler", time.Now().Add(-time.Second).UnixMilli())

	sch := New(s, NewHandlerRegistry(), time.Minute, time.Second, 10)
	sch.Tick(context.Background(), time.Now())
	sch.running.Wait()

	runs, err := s.ListJobRuns("orphan")
	if err != nil {
		t.Fatalf("ListJobRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunStatusFailed {
		t.Fatalf("expected a failed run record for an unregistered handler, got %+v", runs)
	}

	job, err := s.GetScheduledJob("orphan")
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}
	if job.LockUntil != 0 {
		t.Fatalf("expected lease to be released even when the handler is missing")
	}
}
