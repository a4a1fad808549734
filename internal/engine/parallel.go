package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/instruction"
	"github.com/yoshihiko555/takt/internal/rules"
)

// executeParallel launches every sub-movement concurrently and waits for
// all of them before the parent's report and judgment phases. Results are
// kept in configured order regardless of completion order. Cancelling the
// parent context cancels every sub-movement.
func (e *Engine) executeParallel(ctx context.Context, m *core.Movement, state *core.ExecutionState) (*core.Response, []rules.SubResult, error) {
	subMovements := m.Parallel.SubMovements
	responses := make([]*core.Response, len(subMovements))
	matches := make([]*core.RuleMatch, len(subMovements))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subMovements {
		g.Go(func() error {
			resp, match, err := e.runSub(gctx, sub, state)
			if err != nil {
				return err
			}
			responses[i] = resp
			matches[i] = match
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	subs := make([]rules.SubResult, len(subMovements))
	for i, sub := range subMovements {
		state.Record(sub.Name, core.PhaseWork, responses[i])
		subs[i] = rules.SubResult{Movement: sub.Name, Match: matches[i]}
	}
	return mergeResponses(responses, ""), subs, nil
}

// runSub executes one sub-movement: its work call, an optional judgment
// call, and its own rule evaluation. Each sub-movement inherits its own
// session identity. Provider failures surface as error responses with a nil
// match rather than as errors, except interruption, which propagates so
// siblings cancel.
func (e *Engine) runSub(ctx context.Context, sub *core.Movement, state *core.ExecutionState) (*core.Response, *core.RuleMatch, error) {
	dir, _ := e.reportDirPath(sub, state)
	prompt := e.builder.BuildWork(e.subContext(sub, state, dir))

	resp, err := e.invoke(ctx, sub, prompt, nil, false)
	if err != nil {
		if interrupted(ctx, err) {
			return nil, nil, err
		}
		return core.ErrorResponse(err), nil, nil
	}
	if resp.IsError() {
		return resp, nil, nil
	}

	var phase3 *core.Response
	if instruction.NeedsJudgment(sub) && len(sub.Rules) > 1 {
		phase3, err = e.invoke(ctx, sub, e.builder.BuildJudgment(e.subContext(sub, state, dir)), sub.OutputSchema, false)
		if interrupted(ctx, err) {
			return nil, nil, err
		}
		if err != nil {
			phase3 = nil
		}
	}

	match, err := e.evaluator.Evaluate(ctx, sub, resp, phase3, nil)
	if err != nil {
		// An unmatched sub-movement leaves the aggregate evaluation to the
		// parent's fallback path.
		e.logger.Warn("sub-movement rule evaluation failed", "movement", sub.Name, "error", err)
		return resp, nil, nil
	}
	return resp, match, nil
}

// subContext builds a prompt context for a sub-movement. Sub-movements see
// the parent run's counters and task text.
func (e *Engine) subContext(sub *core.Movement, state *core.ExecutionState, reportDir string) instruction.Context {
	ctx := e.promptContext(sub, state, reportDir)
	ctx.MovementIteration = state.MovementIteration(state.CurrentMovement)
	return ctx
}
