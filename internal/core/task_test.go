package core

import (
	"testing"
	"time"
)

func TestTaskRecord_Transitions(t *testing.T) {
	rec := &TaskRecord{Name: "t1", Content: "do it", Status: TaskPending, CreatedAt: time.Now()}

	if err := rec.MarkCompleted(); err == nil {
		t.Fatalf("expected error completing pending task")
	}

	if err := rec.MarkRunning(); err != nil {
		t.Fatalf("unexpected error starting task: %v", err)
	}
	if rec.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}

	if err := rec.MarkRunning(); err == nil {
		t.Fatalf("expected error starting running task")
	}

	if err := rec.MarkCompleted(); err != nil {
		t.Fatalf("unexpected error completing task: %v", err)
	}
	if rec.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
}

func TestTaskRecord_ReExecution(t *testing.T) {
	rec := &TaskRecord{Name: "t1", Content: "do it", Status: TaskPending, CreatedAt: time.Now()}
	_ = rec.MarkRunning()
	_ = rec.MarkFailed()

	if err := rec.MarkReExecution(); err != nil {
		t.Fatalf("unexpected error re-executing failed task: %v", err)
	}
	if rec.Status != TaskRunning {
		t.Fatalf("expected running status, got %s", rec.Status)
	}
	if rec.CompletedAt != nil {
		t.Fatalf("expected completed_at cleared on re-execution")
	}

	// Pending tasks cannot be re-executed; they go through the claim path.
	fresh := &TaskRecord{Name: "t2", Content: "x", Status: TaskPending}
	if err := fresh.MarkReExecution(); err == nil {
		t.Fatalf("expected error re-executing pending task")
	}
}

func TestTaskRecord_Requeue(t *testing.T) {
	rec := &TaskRecord{Name: "t1", Content: "do it", Status: TaskPending}
	if err := rec.Requeue(); err == nil {
		t.Fatalf("expected error requeuing pending task")
	}
	_ = rec.MarkRunning()
	if err := rec.Requeue(); err != nil {
		t.Fatalf("unexpected error requeuing running task: %v", err)
	}
	if rec.StartedAt != nil || rec.CompletedAt != nil {
		t.Fatalf("expected timestamps cleared on requeue")
	}
}

func TestTaskRecord_Validate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		rec     TaskRecord
		wantErr bool
	}{
		{"valid pending", TaskRecord{Name: "a", Content: "x", Status: TaskPending}, false},
		{"missing name", TaskRecord{Content: "x", Status: TaskPending}, true},
		{"missing content", TaskRecord{Name: "a", Status: TaskPending}, true},
		{"order file only", TaskRecord{Name: "a", OrderPath: "orders/a.md", Status: TaskPending}, false},
		{"unknown status", TaskRecord{Name: "a", Content: "x", Status: "paused"}, true},
		{"pending with started_at", TaskRecord{Name: "a", Content: "x", Status: TaskPending, StartedAt: &now}, true},
		{"terminal without completed_at", TaskRecord{Name: "a", Content: "x", Status: TaskFailed, StartedAt: &now}, true},
	}
	for _, tc := range cases {
		err := tc.rec.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}
