package core

import (
	"errors"
	"testing"
)

func TestExecutionState_BeginMovement(t *testing.T) {
	st := NewExecutionState("plan")
	if err := st.BeginMovement("plan", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Iteration != 1 || st.MovementIteration("plan") != 1 {
		t.Fatalf("unexpected counters: iteration=%d movement=%d", st.Iteration, st.MovementIteration("plan"))
	}
	if err := st.BeginMovement("plan", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := st.BeginMovement("plan", 2)
	if err == nil {
		t.Fatalf("expected max movements error")
	}
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Code != CodeMaxMovements {
		t.Fatalf("expected %s, got %v", CodeMaxMovements, err)
	}
}

func TestExecutionState_RecordTracksPreviousOutput(t *testing.T) {
	st := NewExecutionState("plan")
	work := &Response{Content: "did work", Status: ResponseDone}
	judge := &Response{Content: "[plan:1]", Status: ResponseDone}

	st.Record("plan", PhaseWork, work)
	st.Record("plan", PhaseJudgment, judge)

	if st.PreviousOutput != work {
		t.Fatalf("expected previous output to track the work phase only")
	}
	if got := st.LastWorkResponse(); got != work {
		t.Fatalf("expected last work response, got %+v", got)
	}
	if len(st.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(st.History))
	}
}

func TestExecutionState_Terminals(t *testing.T) {
	st := NewExecutionState("plan")
	if st.IsTerminal() {
		t.Fatalf("fresh state must be running")
	}
	st.Fail(ReasonMaxMovements)
	if st.Status != ExecutionFailed || st.Reason != ReasonMaxMovements {
		t.Fatalf("unexpected failure state: %s %s", st.Status, st.Reason)
	}

	st2 := NewExecutionState("plan")
	st2.Abort()
	if st2.Status != ExecutionAborted {
		t.Fatalf("expected aborted, got %s", st2.Status)
	}
}

func TestPermissionMode_Ordering(t *testing.T) {
	if !PermissionFull.AtLeast(PermissionEdit) {
		t.Fatalf("full must satisfy an edit floor")
	}
	if PermissionReadonly.AtLeast(PermissionEdit) {
		t.Fatalf("readonly must not satisfy an edit floor")
	}
	if PermissionMode("bogus").AtLeast(PermissionReadonly) {
		t.Fatalf("unknown mode must not satisfy any floor")
	}
}

func TestMatchMethod_External(t *testing.T) {
	if MatchTagPhase1.External() != "tag_fallback" || MatchTagPhase3.External() != "tag_fallback" {
		t.Fatalf("tag variants must fold to tag_fallback")
	}
	if MatchAutoSelect.External() != "auto_select" {
		t.Fatalf("non-tag methods must pass through")
	}
}

func TestMovement_Kind(t *testing.T) {
	single := &Movement{Name: "a"}
	if single.Kind() != MovementSingle {
		t.Fatalf("expected single kind")
	}
	par := &Movement{Name: "b", Parallel: &ParallelSpec{}}
	if par.Kind() != MovementParallel {
		t.Fatalf("expected parallel kind")
	}
	tl := &Movement{Name: "c", TeamLeader: &TeamLeaderSpec{MaxParts: 2}}
	if tl.Kind() != MovementTeamLeader {
		t.Fatalf("expected team leader kind")
	}
	arp := &Movement{Name: "d", Arpeggio: &ArpeggioSpec{SourcePath: "data.csv"}}
	if arp.Kind() != MovementArpeggio {
		t.Fatalf("expected arpeggio kind")
	}
}

func TestResponse_StructuredStep(t *testing.T) {
	r := &Response{StructuredOutput: map[string]interface{}{"step": float64(2)}}
	n, ok := r.StructuredStep()
	if !ok || n != 2 {
		t.Fatalf("expected step 2, got %d ok=%v", n, ok)
	}
	r2 := &Response{StructuredOutput: map[string]interface{}{"step": "two"}}
	if _, ok := r2.StructuredStep(); ok {
		t.Fatalf("non-numeric step must not match")
	}
	var r3 *Response
	if _, ok := r3.StructuredStep(); ok {
		t.Fatalf("nil response must not match")
	}
}
