package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/rules"
)

// partsSchema is the structured-output schema the lead persona must follow
// when decomposing the task.
var partsSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"parts": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":       map[string]interface{}{"type": "string"},
					"instruction": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"title", "instruction"},
			},
		},
	},
	"required": []interface{}{"parts"},
}

// partSpec is one dynamically-produced child of a team-leader movement.
type partSpec struct {
	Title       string
	Instruction string
}

// executeTeamLeader runs the two-stage team-leader variant: the lead
// persona decomposes the task into part specs, then the parts execute
// concurrently with a bounded timeout each. The aggregate rule evaluation
// follows the parallel path.
func (e *Engine) executeTeamLeader(ctx context.Context, m *core.Movement, state *core.ExecutionState) (*core.Response, []rules.SubResult, error) {
	parts, err := e.decompose(ctx, m, state)
	if err != nil {
		return nil, nil, err
	}

	subMovements := make([]*core.Movement, len(parts))
	for i, part := range parts {
		subMovements[i] = e.partMovement(m, part, i)
	}

	timeout := time.Duration(m.TeamLeader.PartTimeoutMS) * time.Millisecond
	responses := make([]*core.Response, len(subMovements))
	matches := make([]*core.RuleMatch, len(subMovements))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subMovements {
		g.Go(func() error {
			// Each part gets its own child token so one part timing out
			// never cancels its siblings.
			partCtx := gctx
			var cancel context.CancelFunc
			if timeout > 0 {
				partCtx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}

			resp, match, err := e.runSub(partCtx, sub, state)
			if err != nil {
				if gctx.Err() == nil && partCtx.Err() != nil {
					// Part timeout: error response, siblings keep running.
					responses[i] = core.ErrorResponse(fmt.Errorf("part %s timed out after %s", sub.Name, timeout))
					return nil
				}
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

// decompose runs stage A: the lead persona produces at most MaxParts part
// specs through the structured-output schema. A schema violation fails the
// movement.
func (e *Engine) decompose(ctx context.Context, m *core.Movement, state *core.ExecutionState) ([]partSpec, error) {
	maxParts := m.TeamLeader.MaxParts
	if maxParts < 1 || maxParts > core.MaxTeamParts {
		maxParts = core.MaxTeamParts
	}

	dir, _ := e.reportDirPath(m, state)
	cctx := e.promptContext(m, state, dir)
	lead := m.TeamLeader.LeadTemplate
	if lead == "" {
		lead = fmt.Sprintf(
			"Decompose the following task into at most %d independent parts that can proceed concurrently.\n\n{task}",
			maxParts)
	}
	prompt := e.builder.Substitute(lead, cctx)

	resp, err := e.invoke(ctx, m, prompt, partsSchema, false)
	if err != nil {
		return nil, err
	}

	parts, err := parseParts(resp)
	if err != nil {
		return nil, core.ErrExecution(core.CodeDecomposeFailed,
			fmt.Sprintf("movement %s: %v", m.Name, err))
	}
	if len(parts) > maxParts {
		return nil, core.ErrExecution(core.CodeDecomposeFailed,
			fmt.Sprintf("movement %s: lead produced %d parts, limit is %d", m.Name, len(parts), maxParts))
	}
	return parts, nil
}

func parseParts(resp *core.Response) ([]partSpec, error) {
	if resp == nil || resp.StructuredOutput == nil {
		return nil, fmt.Errorf("lead returned no structured output")
	}
	raw, ok := resp.StructuredOutput["parts"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("structured output missing parts array")
	}
	parts := make([]partSpec, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("part %d is not an object", i+1)
		}
		title, _ := obj["title"].(string)
		inst, _ := obj["instruction"].(string)
		if title == "" || inst == "" {
			return nil, fmt.Errorf("part %d missing title or instruction", i+1)
		}
		parts = append(parts, partSpec{Title: title, Instruction: inst})
	}
	return parts, nil
}

// partMovement synthesizes the single movement a part executes as. Parts
// inherit the parent's tool allow-list and permission floor, and carry one
// plain rule per parent aggregate condition so the aggregate evaluation can
// see which condition each part satisfied.
func (e *Engine) partMovement(m *core.Movement, part partSpec, idx int) *core.Movement {
	sub := &core.Movement{
		Name:                   fmt.Sprintf("%s/part-%d", m.Name, idx+1),
		Description:            part.Title,
		AllowedTools:           m.AllowedTools,
		RequiredPermissionMode: m.RequiredPermissionMode,
		Provider:               m.Provider,
		Model:                  m.Model,
		Edit:                   m.Edit,
		InstructionTemplate:    part.Instruction,
		Persona:                m.Persona,
		Policies:               m.Policies,
		Knowledge:              m.Knowledge,
	}
	ordinal := 0
	for _, r := range m.Rules {
		if r.Aggregate == core.AggregateNone {
			continue
		}
		ordinal++
		sub.Rules = append(sub.Rules, &core.Rule{
			Ordinal:   ordinal,
			Condition: r.Condition,
			Next:      core.NextComplete,
		})
	}
	return sub
}
