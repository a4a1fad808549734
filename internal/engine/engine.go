// Package engine drives a piece graph to a terminal state. The main loop is
// single-threaded; concurrency lives in the variant executors (parallel,
// team leader, arpeggio).
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/events"
	"github.com/yoshihiko555/takt/internal/instruction"
	"github.com/yoshihiko555/takt/internal/logging"
	"github.com/yoshihiko555/takt/internal/rules"
	"github.com/yoshihiko555/takt/internal/trace"
)

// ProviderSource resolves provider names to adapters.
type ProviderSource interface {
	Get(name string) (core.Provider, error)
}

// PermissionResolver resolves the effective permission mode for a movement.
type PermissionResolver func(provider, movement string, floor core.PermissionMode) core.PermissionMode

// Options configure one engine instance.
type Options struct {
	TaskName          string
	Task              string
	Cwd               string
	Language          string
	Interactive       bool
	DefaultProvider   string
	Providers         ProviderSource
	Sessions          core.SessionRegistry
	ResolvePermission PermissionResolver
	MCPServers        map[string]core.MCPServer
	Bus               *events.Bus
	SessionLog        trace.Writer
	Logger            *logging.Logger
	ReportRoot        string
	JudgePersona      string

	// Cycle detection between review and fix movements.
	CycleWindow         int
	FixMovementPattern  string
	ArbitrationMovement string
}

// Engine executes one piece run. Not reusable: construct a fresh engine per
// run.
type Engine struct {
	piece     *core.Piece
	opts      Options
	builder   *instruction.Builder
	evaluator *rules.Evaluator
	cycles    *CycleDetector
	logger    *logging.Logger
}

// New constructs an engine for a piece.
func New(p *core.Piece, opts Options) (*Engine, error) {
	if p == nil {
		return nil, core.ErrValidation("ENGINE_PIECE_REQUIRED", "piece cannot be nil")
	}
	if opts.Providers == nil {
		return nil, core.ErrValidation("ENGINE_PROVIDERS_REQUIRED", "provider source cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.SessionLog == nil {
		opts.SessionLog = mustNoopLog()
	}
	if opts.ResolvePermission == nil {
		opts.ResolvePermission = func(_, _ string, floor core.PermissionMode) core.PermissionMode {
			if floor.Rank() == 0 {
				return core.PermissionReadonly
			}
			return floor
		}
	}
	if opts.CycleWindow < 1 {
		opts.CycleWindow = 3
	}
	if opts.FixMovementPattern == "" {
		opts.FixMovementPattern = `(^|_)ai_fix($|_)`
	}

	e := &Engine{
		piece:   p,
		opts:    opts,
		builder: instruction.NewBuilder(),
		logger:  opts.Logger.WithPiece(p.Name),
	}
	cycles, err := NewCycleDetector(opts.FixMovementPattern, opts.CycleWindow)
	if err != nil {
		return nil, err
	}
	e.cycles = cycles
	e.evaluator = rules.NewEvaluator(&providerJudge{engine: e}, opts.Interactive)
	return e, nil
}

func mustNoopLog() trace.Writer {
	w, _ := trace.NewWriter("", nil)
	return w
}

// Run walks the piece graph until a terminal state. It never returns an
// error: every outcome surfaces in the returned ExecutionState.
func (e *Engine) Run(ctx context.Context) *core.ExecutionState {
	state := core.NewExecutionState(e.piece.InitialMovement)
	e.publish(events.NewPieceStart(e.opts.TaskName, e.piece.Name, e.piece.MaxMovements))
	e.record(trace.Record{Type: events.TypePieceStart})

	current := e.piece.InitialMovement
	for {
		if ctx.Err() != nil {
			e.abort(state)
			return state
		}

		m, ok := e.piece.MovementByName(current)
		if !ok {
			state.Fail(fmt.Sprintf("unknown movement %s", current))
			break
		}
		if err := state.BeginMovement(m.Name, e.piece.MaxMovements); err != nil {
			state.Fail(core.ReasonMaxMovements)
			break
		}

		match, done := e.runMovement(ctx, m, state)
		if done {
			if state.Status == core.ExecutionAborted {
				return state
			}
			break
		}

		next := match.Rule.Next
		if forced, cycle := e.checkCycle(m, state); cycle {
			if forced == "" {
				state.Fail(core.ReasonCycle)
				break
			}
			e.logger.Warn("review/fix oscillation detected, forcing arbitration",
				"movement", m.Name, "arbitration", forced)
			next = forced
		}

		e.publish(events.NewMovementComplete(e.opts.TaskName, m.Name, next, match.Method))
		e.record(trace.Record{
			Type:        events.TypeMovementComplete,
			Movement:    m.Name,
			MatchMethod: match.Method.External(),
		})

		switch next {
		case core.NextComplete:
			state.Complete()
		case core.NextAbort:
			state.Fail(core.ReasonRuleAbort)
		default:
			current = next
			continue
		}
		break
	}

	e.publishPriority(events.NewPieceComplete(e.opts.TaskName, e.piece.Name, state))
	e.record(trace.Record{Type: events.TypePieceComplete, Movement: state.FinalMovement})
	return state
}

// runMovement executes the three phases of one movement and evaluates its
// rules. done is true when the run reached a terminal condition inside the
// movement (abort or failure); match is valid otherwise.
func (e *Engine) runMovement(ctx context.Context, m *core.Movement, state *core.ExecutionState) (*core.RuleMatch, bool) {
	e.publish(events.NewMovementStart(e.opts.TaskName, m.Name, m.Kind(), state.Iteration))
	logger := e.logger.WithMovement(m.Name)
	logger.Info("movement start", "kind", string(m.Kind()), "iteration", state.Iteration)

	var (
		phase1 *core.Response
		subs   []rules.SubResult
		err    error
	)
	e.phaseEvent(m.Name, core.PhaseWork)

	switch m.Kind() {
	case core.MovementSingle:
		phase1, err = e.executeSingle(ctx, m, state)
	case core.MovementParallel:
		phase1, subs, err = e.executeParallel(ctx, m, state)
	case core.MovementTeamLeader:
		phase1, subs, err = e.executeTeamLeader(ctx, m, state)
	case core.MovementArpeggio:
		phase1, err = e.executeArpeggio(ctx, m, state)
	}

	if interrupted(ctx, err) {
		e.abort(state)
		return nil, true
	}
	if err != nil {
		phase1 = core.ErrorResponse(err)
	}
	state.Record(m.Name, core.PhaseWork, phase1)

	// A phase-1 error is a distinguished terminal condition: it bypasses
	// the report and judgment phases.
	if phase1.IsError() {
		logger.Error("movement failed", "error", phase1.Content)
		state.Fail(core.ReasonProvider)
		return nil, true
	}

	if m.Report != nil {
		if done := e.runReportPhase(ctx, m, state); done {
			return nil, true
		}
	}

	var phase3 *core.Response
	if e.needsJudgment(m) {
		phase3, err = e.runJudgmentPhase(ctx, m, state)
		if interrupted(ctx, err) {
			e.abort(state)
			return nil, true
		}
		if err != nil {
			// Judgment failures are recoverable: the evaluator still has
			// the phase-1 scan and the AI judge.
			logger.Warn("judgment phase failed", "error", err)
			phase3 = nil
		} else {
			state.Record(m.Name, core.PhaseJudgment, phase3)
		}
	}

	match, err := e.evaluator.Evaluate(ctx, m, phase1, phase3, subs)
	if err != nil {
		logger.Error("rule evaluation failed", "error", err)
		state.Fail(core.ReasonProvider)
		return nil, true
	}
	return match, false
}

// needsJudgment reports whether a phase-3 call is worth making: the
// movement qualifies per the builder's rule, and more than one rule is in
// play (a single applicable rule auto-selects without any text).
func (e *Engine) needsJudgment(m *core.Movement) bool {
	if !instruction.NeedsJudgment(m) {
		return false
	}
	applicable := 0
	for _, r := range m.Rules {
		if r.InteractiveOnly && !e.opts.Interactive {
			continue
		}
		applicable++
	}
	return applicable > 1
}

// runReportPhase runs phase 2. A blocked provider error retries once with a
// fresh session. Report failures are logged but do not end the run.
func (e *Engine) runReportPhase(ctx context.Context, m *core.Movement, state *core.ExecutionState) bool {
	e.phaseEvent(m.Name, core.PhaseReport)

	dir, err := e.reportDir(m, state)
	if err != nil {
		e.logger.Warn("report directory unavailable", "error", err)
		return false
	}
	prompt := e.builder.BuildReport(e.promptContext(m, state, dir))

	resp, err := e.invoke(ctx, m, prompt, nil, false)
	if core.ProviderErrorKindOf(err) == core.ProviderErrBlocked {
		e.logger.Warn("report phase blocked, retrying with fresh session")
		resp, err = e.invoke(ctx, m, prompt, nil, true)
	}
	if interrupted(ctx, err) {
		e.abort(state)
		return true
	}
	if err != nil {
		e.logger.Warn("report phase failed", "movement", m.Name, "error", err)
		return false
	}
	state.Record(m.Name, core.PhaseReport, resp)
	return false
}

// runJudgmentPhase runs phase 3 with the movement's structured-output
// schema when one is bound.
func (e *Engine) runJudgmentPhase(ctx context.Context, m *core.Movement, state *core.ExecutionState) (*core.Response, error) {
	e.phaseEvent(m.Name, core.PhaseJudgment)

	dir, _ := e.reportDirPath(m, state)
	prompt := e.builder.BuildJudgment(e.promptContext(m, state, dir))
	return e.invoke(ctx, m, prompt, m.OutputSchema, false)
}

// invoke runs one provider call for a movement, threading the session
// identity. freshSession skips the stored session handle.
func (e *Engine) invoke(ctx context.Context, m *core.Movement, prompt string, schema map[string]interface{}, freshSession bool) (*core.Response, error) {
	providerName := m.Provider
	if providerName == "" {
		providerName = e.opts.DefaultProvider
	}
	provider, err := e.opts.Providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	spec := core.PersonaSpec{
		Name:     e.personaKey(m),
		Provider: providerName,
		Model:    m.Model,
	}
	if m.Persona != nil {
		spec.Text = m.Persona.Text
	}
	runner, err := provider.Setup(spec)
	if err != nil {
		return nil, err
	}

	opts := core.CallOptions{
		Cwd:            e.opts.Cwd,
		AllowedTools:   m.AllowedTools,
		PermissionMode: e.opts.ResolvePermission(providerName, m.Name, m.RequiredPermissionMode),
		MCPServers:     e.opts.MCPServers,
		OutputSchema:   schema,
	}
	if !freshSession && e.opts.Sessions != nil {
		if id, ok := e.opts.Sessions.Lookup(e.opts.Cwd, spec.Name, providerName); ok {
			opts.SessionID = id
		}
	}

	resp, err := runner.Run(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	if resp.SessionID != "" && e.opts.Sessions != nil {
		if storeErr := e.opts.Sessions.Store(e.opts.Cwd, spec.Name, providerName, resp.SessionID); storeErr != nil {
			e.logger.Warn("session store failed", "error", storeErr)
		}
	}
	return resp, nil
}

// personaKey is the session-registry key for a movement's conversation.
func (e *Engine) personaKey(m *core.Movement) string {
	if m.Persona != nil {
		return m.Persona.Name
	}
	return m.Name
}

func (e *Engine) promptContext(m *core.Movement, state *core.ExecutionState, reportDir string) instruction.Context {
	var prev string
	if state.PreviousOutput != nil {
		prev = state.PreviousOutput.Content
	}
	return instruction.Context{
		Piece:             e.piece,
		Movement:          m,
		Cwd:               e.opts.Cwd,
		Task:              e.opts.Task,
		Language:          e.opts.Language,
		Iteration:         state.Iteration,
		MovementIteration: state.MovementIteration(m.Name),
		ReportDir:         reportDir,
		PreviousResponse:  prev,
		UserInputs:        state.UserInputs,
		Interactive:       e.opts.Interactive,
	}
}

// reportDir resolves and creates the movement's report directory.
// Creation is idempotent.
func (e *Engine) reportDir(m *core.Movement, state *core.ExecutionState) (string, error) {
	dir, err := e.reportDirPath(m, state)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	return dir, nil
}

func (e *Engine) reportDirPath(m *core.Movement, state *core.ExecutionState) (string, error) {
	root := e.opts.ReportRoot
	if root == "" {
		root = filepath.Join(e.opts.Cwd, ".takt", "reports", runStamp())
	}
	if state.ReportDir == "" {
		state.ReportDir = root
	}
	return filepath.Join(state.ReportDir, m.Name), nil
}

func runStamp() string {
	return time.Now().UTC().Format("20060102-150405")
}

// checkCycle feeds the detector after a fix movement ran. Returns the
// forced next movement ("" to abort) and whether a cycle fired.
func (e *Engine) checkCycle(m *core.Movement, state *core.ExecutionState) (string, bool) {
	if !e.cycles.IsFixMovement(m.Name) {
		return "", false
	}
	review := previousWorkResponse(state, m.Name)
	fix := state.LastWorkResponse()
	if !e.cycles.Observe(review, fix) {
		return "", false
	}
	arbitration := e.opts.ArbitrationMovement
	if arbitration == "" {
		if _, ok := e.piece.MovementByName("arbitration"); ok {
			arbitration = "arbitration"
		}
	}
	if arbitration != "" {
		if _, ok := e.piece.MovementByName(arbitration); ok {
			return arbitration, true
		}
	}
	return "", true
}

// previousWorkResponse finds the work response recorded before the current
// movement's latest one, i.e. the review output that fed the fix.
func previousWorkResponse(state *core.ExecutionState, current string) *core.Response {
	seenCurrent := false
	for i := len(state.History) - 1; i >= 0; i-- {
		h := state.History[i]
		if h.Phase != core.PhaseWork {
			continue
		}
		if !seenCurrent {
			if h.Movement == current {
				seenCurrent = true
			}
			continue
		}
		if h.Movement != current {
			return h.Response
		}
	}
	return nil
}

func (e *Engine) abort(state *core.ExecutionState) {
	state.Abort()
	e.publishPriority(events.NewPieceAbort(e.opts.TaskName, e.piece.Name))
	e.record(trace.Record{Type: events.TypePieceAbort})
}

func (e *Engine) phaseEvent(movement string, phase core.Phase) {
	e.publish(events.NewMovementPhase(e.opts.TaskName, movement, phase))
	e.record(trace.Record{Type: events.TypeMovementPhase, Movement: movement, Phase: string(phase)})
}

func (e *Engine) publish(ev events.Event) {
	if e.opts.Bus != nil {
		e.opts.Bus.Publish(ev)
	}
}

func (e *Engine) publishPriority(ev events.Event) {
	if e.opts.Bus != nil {
		e.opts.Bus.PublishPriority(ev)
	}
}

func (e *Engine) record(rec trace.Record) {
	_ = e.opts.SessionLog.Record(rec)
}

// interrupted reports whether an error or context state means the run was
// cancelled externally.
func interrupted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return core.ProviderErrorKindOf(err) == core.ProviderErrInterrupted && err != nil
}

// mergeResponses concatenates responses in configured order.
func mergeResponses(responses []*core.Response, separator string) *core.Response {
	if separator == "" {
		separator = "\n\n"
	}
	parts := make([]string, 0, len(responses))
	status := core.ResponseDone
	for _, r := range responses {
		if r == nil {
			continue
		}
		parts = append(parts, r.Content)
		if r.Status == core.ResponseError {
			status = core.ResponseError
		}
	}
	return &core.Response{
		Content:   strings.Join(parts, separator),
		Status:    status,
		Timestamp: time.Now(),
	}
}
