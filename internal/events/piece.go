package events

import "github.com/yoshihiko555/takt/internal/core"

// Event type constants for the piece engine.
const (
	TypePieceStart       = "piece:start"
	TypePieceComplete    = "piece:complete"
	TypePieceAbort       = "piece:abort"
	TypeMovementStart    = "movement:start"
	TypeMovementPhase    = "movement:phase"
	TypeMovementComplete = "movement:complete"
)

// PieceStart signals the beginning of a piece run.
type PieceStart struct {
	BaseEvent
	Piece        string `json:"piece"`
	MaxMovements int    `json:"max_movements"`
}

// NewPieceStart creates a piece:start event.
func NewPieceStart(task, piece string, maxMovements int) PieceStart {
	return PieceStart{
		BaseEvent:    NewBaseEvent(TypePieceStart, task),
		Piece:        piece,
		MaxMovements: maxMovements,
	}
}

// PieceComplete signals a terminal piece outcome.
type PieceComplete struct {
	BaseEvent
	Piece         string               `json:"piece"`
	Status        core.ExecutionStatus `json:"status"`
	Reason        string               `json:"reason,omitempty"`
	Iterations    int                  `json:"iterations"`
	FinalMovement string               `json:"final_movement,omitempty"`
}

// NewPieceComplete creates a piece:complete event.
func NewPieceComplete(task, piece string, state *core.ExecutionState) PieceComplete {
	return PieceComplete{
		BaseEvent:     NewBaseEvent(TypePieceComplete, task),
		Piece:         piece,
		Status:        state.Status,
		Reason:        state.Reason,
		Iterations:    state.Iteration,
		FinalMovement: state.FinalMovement,
	}
}

// PieceAbort signals an external cancellation.
type PieceAbort struct {
	BaseEvent
	Piece string `json:"piece"`
}

// NewPieceAbort creates a piece:abort event.
func NewPieceAbort(task, piece string) PieceAbort {
	return PieceAbort{
		BaseEvent: NewBaseEvent(TypePieceAbort, task),
		Piece:     piece,
	}
}

// MovementStart signals the beginning of one movement iteration.
type MovementStart struct {
	BaseEvent
	Movement  string            `json:"movement"`
	Kind      core.MovementKind `json:"kind"`
	Iteration int               `json:"iteration"`
}

// NewMovementStart creates a movement:start event.
func NewMovementStart(task, movement string, kind core.MovementKind, iteration int) MovementStart {
	return MovementStart{
		BaseEvent: NewBaseEvent(TypeMovementStart, task),
		Movement:  movement,
		Kind:      kind,
		Iteration: iteration,
	}
}

// MovementPhase signals a phase transition within a movement.
type MovementPhase struct {
	BaseEvent
	Movement string     `json:"movement"`
	Phase    core.Phase `json:"phase"`
}

// NewMovementPhase creates a movement:phase event.
func NewMovementPhase(task, movement string, phase core.Phase) MovementPhase {
	return MovementPhase{
		BaseEvent: NewBaseEvent(TypeMovementPhase, task),
		Movement:  movement,
		Phase:     phase,
	}
}

// MovementComplete signals a resolved movement with its matched rule.
type MovementComplete struct {
	BaseEvent
	Movement    string `json:"movement"`
	Next        string `json:"next"`
	MatchMethod string `json:"matchMethod,omitempty"`
}

// NewMovementComplete creates a movement:complete event. The match method is
// reported in its externally-visible form.
func NewMovementComplete(task, movement, next string, method core.MatchMethod) MovementComplete {
	return MovementComplete{
		BaseEvent:   NewBaseEvent(TypeMovementComplete, task),
		Movement:    movement,
		Next:        next,
		MatchMethod: method.External(),
	}
}
