package core

import "fmt"

// ExecutionStatus is the state of one piece run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// Phase identifies one of the three stages of a movement execution.
type Phase string

const (
	PhaseWork     Phase = "work"
	PhaseReport   Phase = "report"
	PhaseJudgment Phase = "judgment"
)

// Failure reasons recorded on ExecutionState.Reason.
const (
	ReasonMaxMovements = "max_movements_reached"
	ReasonRuleAbort    = "rule_abort"
	ReasonCycle        = "cycle_detected"
	ReasonProvider     = "provider_error"
)

// HistoryEntry records one phase execution.
type HistoryEntry struct {
	Movement string
	Phase    Phase
	Response *Response
}

// ExecutionState is the mutable state of one piece run, exclusively owned by
// a single engine instance for the duration of the run.
type ExecutionState struct {
	CurrentMovement    string
	Iteration          int
	MovementIterations map[string]int
	ReportDir          string
	Status             ExecutionStatus
	Reason             string
	PreviousOutput     *Response
	UserInputs         []string
	History            []HistoryEntry
	FinalMovement      string
}

// NewExecutionState creates the state for a fresh run positioned at the
// piece's initial movement.
func NewExecutionState(initial string) *ExecutionState {
	return &ExecutionState{
		CurrentMovement:    initial,
		Status:             ExecutionRunning,
		MovementIterations: make(map[string]int),
	}
}

// BeginMovement increments the global and per-movement counters.
// Returns an error if the global bound is already exhausted.
func (s *ExecutionState) BeginMovement(name string, maxMovements int) error {
	if s.Iteration >= maxMovements {
		return ErrExecution(CodeMaxMovements,
			fmt.Sprintf("iteration bound %d reached before movement %s", maxMovements, name))
	}
	s.Iteration++
	s.MovementIterations[name]++
	s.CurrentMovement = name
	return nil
}

// MovementIteration returns the per-movement counter.
func (s *ExecutionState) MovementIteration(name string) int {
	return s.MovementIterations[name]
}

// Record appends a history entry and tracks the latest output.
func (s *ExecutionState) Record(movement string, phase Phase, resp *Response) {
	s.History = append(s.History, HistoryEntry{Movement: movement, Phase: phase, Response: resp})
	if phase == PhaseWork {
		s.PreviousOutput = resp
	}
}

// Complete marks the run completed.
func (s *ExecutionState) Complete() {
	s.Status = ExecutionCompleted
	s.FinalMovement = s.CurrentMovement
}

// Fail marks the run failed with a reason.
func (s *ExecutionState) Fail(reason string) {
	s.Status = ExecutionFailed
	s.Reason = reason
	s.FinalMovement = s.CurrentMovement
}

// Abort marks the run aborted by cancellation.
func (s *ExecutionState) Abort() {
	s.Status = ExecutionAborted
	s.FinalMovement = s.CurrentMovement
}

// IsTerminal reports whether the run has ended.
func (s *ExecutionState) IsTerminal() bool {
	return s.Status != ExecutionRunning
}

// LastWorkResponse returns the most recent phase-1 response, if any.
func (s *ExecutionState) LastWorkResponse() *Response {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Phase == PhaseWork {
			return s.History[i].Response
		}
	}
	return nil
}
