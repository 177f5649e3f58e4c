package storage

import (
	"context"
	"testing"
	"time"
)

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{
		ID:          "j-claim-1",
		Type:        "reindex_candidate",
		PayloadJSON: `{"candidate_id":"c1"}`,
	}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"reindex_candidate"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.Type != "reindex_candidate" {
		t.Errorf("Type = %q, want %q", got.Type, "reindex_candidate")
	}
	if got.PayloadJSON != `{"candidate_id":"c1"}` {
		t.Errorf("PayloadJSON = %q, want %q", got.PayloadJSON, `{"candidate_id":"c1"}`)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.ClaimNextJob(ctx, []string{"reindex_candidate"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := Job{
		ID:          "j-future",
		Type:        "reindex_candidate",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"reindex_candidate"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(ctx, Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.Type != "a" {
		t.Errorf("Type = %q, want %q", got.Type, "a")
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-first", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob first: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob first: %v", err)
	}

	if err := s.EnqueueJob(ctx, Job{ID: "j-second", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob second: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-second" {
		t.Errorf("ID = %q, want %q", got.ID, "j-second")
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-complete'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want %q", status, "completed")
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-fail-inc", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob(ctx, "j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j-fail-inc'`).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if lastError != "something broke" {
		t.Errorf("last_error = %q, want %q", lastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob(ctx, "j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail-max'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want %q", status, "failed")
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob(ctx, "j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var runAfterStr string
	if err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE id = 'j-backoff'`).Scan(&runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	runAfter, err := parseTime(runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}
}


func TestEnqueueUniqueJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, err := s.EnqueueUniqueJob(ctx, Job{ID: "u1", Type: "reindex_candidate", PayloadJSON: `{"candidate_id":"c1"}`})
	if err != nil || !added {
		t.Fatalf("first EnqueueUniqueJob: added=%v err=%v", added, err)
	}
	added, err = s.EnqueueUniqueJob(ctx, Job{ID: "u2", Type: "reindex_candidate", PayloadJSON: `{"candidate_id":"c1"}`})
	if err != nil {
		t.Fatalf("second EnqueueUniqueJob: %v", err)
	}
	if added {
		t.Error("duplicate pending job should not be added")
	}

	added, err = s.EnqueueUniqueJob(ctx, Job{ID: "u3", Type: "reindex_candidate", PayloadJSON: `{"candidate_id":"c2"}`})
	if err != nil || !added {
		t.Fatalf("other candidate: added=%v err=%v", added, err)
	}

	// Once the first job is running a new one may be queued again.
	if _, err := s.ClaimNextJob(ctx, []string{"reindex_candidate"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	n, err := s.CountJobs(ctx, "pending")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}
