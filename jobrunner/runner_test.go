package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
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

func waitForTerminal(t *testing.T, s *store.Store, jobID string) *store.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.GetTask(jobID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if task.FinishedAt != 0 {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", jobID)
	return nil
}

func TestSubmitAllSucceed(t *testing.T) {
	s := openTestStore(t)
	reg := NewRegistry()
	reg.Register("copy", TypeSpec{Worker: func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error {
		progress(10)
		return nil
	}})
	r := New(s, reg, 4)

	task, err := r.Submit(JobSpec{
		TaskType: "copy", UserID: "u1", Trigger: store.TriggerManual,
		Items: []ItemSpec{{ItemID: "a", FileSize: 10}, {ItemID: "b", FileSize: 10}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForTerminal(t, s, task.JobID)
	if done.Status != store.TaskSuccess {
		t.Fatalf("expected success, got %s", done.Status)
	}
	for _, it := range done.ItemResults {
		if it.Status != store.ItemSuccess || it.Progress != 1 {
			t.Fatalf("expected item %s to be success/progress=1, got %+v", it.ItemID, it)
		}
	}
}

func TestSubmitPartialFailure(t *testing.T) {
	s := openTestStore(t)
	reg := NewRegistry()
	reg.Register("copy", TypeSpec{Worker: func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error {
		if itemID == "bad" {
			return errors.New("boom")
		}
		return nil
	}})
	r := New(s, reg, 4)

	task, err := r.Submit(JobSpec{
		TaskType: "copy", UserID: "u1", Trigger: store.TriggerManual,
		Items: []ItemSpec{{ItemID: "good"}, {ItemID: "bad"}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForTerminal(t, s, task.JobID)
	if done.Status != store.TaskPartial {
		t.Fatalf("expected partial, got %s", done.Status)
	}
}

func TestSubmitSkippedNotPartial(t *testing.T) {
	s := openTestStore(t)
	reg := NewRegistry()
	reg.Register("copy", TypeSpec{Worker: func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error {
		return ErrSkip
	}})
	r := New(s, reg, 4)

	task, err := r.Submit(JobSpec{TaskType: "copy", UserID: "u1", Items: []ItemSpec{{ItemID: "a"}}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitForTerminal(t, s, task.JobID)
	if done.Status != store.TaskSuccess {
		t.Fatalf("expected an all-skipped task to be success, got %s", done.Status)
	}
	if done.ItemResults[0].Status != store.ItemSkipped {
		t.Fatalf("expected item skipped, got %s", done.ItemResults[0].Status)
	}
}

func TestSecondSubmitRejectedWhileFirstRunning(t *testing.T) {
	s := openTestStore(t)
	reg := NewRegistry()
	block := make(chan struct{})
	reg.Register("copy", TypeSpec{Worker: func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error {
		<-block
		return nil
	}})
	r := New(s, reg, 4)

	_, err := r.Submit(JobSpec{TaskType: "copy", UserID: "u1", Items: []ItemSpec{{ItemID: "a"}}})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err = r.Submit(JobSpec{TaskType: "copy", UserID: "u1", Items: []ItemSpec{{ItemID: "b"}}})
	if err == nil {
		t.Fatalf("expected second submit for same (user,type) to be rejected while the first runs")
	}
	close(block)
}

func TestParallelOptInAllowsConcurrentSubmits(t *testing.T) {
	s := openTestStore(t)
	reg := NewRegistry()
	reg.Register("reindex", TypeSpec{Parallel: true, Worker: func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error {
		return nil
	}})
	r := New(s, reg, 4)

	_, err := r.Submit(JobSpec{TaskType: "reindex", UserID: "u1", Items: []ItemSpec{{ItemID: "a"}}})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err = r.Submit(JobSpec{TaskType: "reindex", UserID: "u1", Items: []ItemSpec{{ItemID: "b"}}})
	if err != nil {
		t.Fatalf("expected parallel-opt-in type to allow a concurrent submit, got %v", err)
	}
}

func TestRetryFilePreservesIdentityAndBumpsRetryCount(t *testing.T) {
	s := openTestStore(t)
	reg := NewRegistry()
	attempt := 0
	reg.Register("copy", TypeSpec{Worker: func(ctx context.Context, itemID string, payload json.RawMessage, progress ProgressFunc) error {
		attempt++
		if attempt == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	}})
	r := New(s, reg, 4)

	task, err := r.Submit(JobSpec{TaskType: "copy", UserID: "u1", Items: []ItemSpec{{ItemID: "a"}}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForTerminal(t, s, task.JobID)

	if err := r.RetryFile(task.JobID, "a"); err != nil {
		t.Fatalf("RetryFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var final *store.Task
	for time.Now().Before(deadline) {
		got, err := s.GetTask(task.JobID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.Status == store.TaskSuccess {
			final = got
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if final == nil {
		t.Fatalf("expected retry to eventually succeed")
	}
	if final.ItemResults[0].RetryCount != 1 {
		t.Fatalf("expected retry_count=1 after one retry, got %d", final.ItemResults[0].RetryCount)
	}
	if final.ItemResults[0].ItemID != "a" {
		t.Fatalf("expected item identity preserved across retry")
	}
}
