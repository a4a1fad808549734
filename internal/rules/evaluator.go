// Package rules selects the next movement from a movement's rule set and
// the agent responses, using the five-stage fallback: auto-select,
// aggregate, phase-3 tag, structured output, phase-1 tag, AI judge.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/yoshihiko555/takt/internal/core"
)

// Judge is the LLM fallback used when no deterministic stage matches.
// Conditions are 1-based; the returned index points into the slice.
type Judge interface {
	Judge(ctx context.Context, conditions []string, responses []string) (int, error)
}

// SubResult is the resolved outcome of one parallel sub-movement.
type SubResult struct {
	Movement string
	Match    *core.RuleMatch
}

// Evaluator decides transitions.
type Evaluator struct {
	judge       Judge
	interactive bool
}

// NewEvaluator creates a rule evaluator. judge may be nil when no AI
// fallback is available; evaluation then fails instead of falling through.
func NewEvaluator(judge Judge, interactive bool) *Evaluator {
	return &Evaluator{judge: judge, interactive: interactive}
}

// Evaluate selects the matched rule for a movement execution.
// phase3 and subs may be nil when the corresponding phase did not run.
func (e *Evaluator) Evaluate(ctx context.Context, m *core.Movement, phase1, phase3 *core.Response, subs []SubResult) (*core.RuleMatch, error) {
	applicable := e.applicableRules(m)
	if len(applicable) == 0 {
		return nil, core.ErrExecution("NO_APPLICABLE_RULES",
			fmt.Sprintf("movement %s has no applicable rules", m.Name))
	}

	// Stage 0: a single non-aggregate rule needs no text at all.
	if match := autoSelect(applicable); match != nil {
		return match, nil
	}

	// Stage 1: aggregate rules over sub-movement outcomes. They do not fall
	// through to the tag stages; an unmatched parallel movement goes
	// straight to the phase-1 scan.
	if m.HasAggregateRules() {
		if match := matchAggregate(applicable, subs); match != nil {
			return match, nil
		}
		// The fallback scan may select an aggregate rule by its ordinal;
		// for parallel movements phase1 carries the merged sub responses.
		if match := matchTag(m, applicable, phase1, core.MatchTagPhase1, true); match != nil {
			return match, nil
		}
		return e.judgeFallback(ctx, m, applicable, phase1, phase3)
	}

	// Stage 2: phase-3 tag scan, last occurrence wins.
	if match := matchTag(m, applicable, phase3, core.MatchTagPhase3, false); match != nil {
		return match, nil
	}

	// Stage 3: structured output {"step": N}.
	if match := matchStructured(applicable, phase3); match != nil {
		return match, nil
	}

	// Stage 4: phase-1 tag scan.
	if match := matchTag(m, applicable, phase1, core.MatchTagPhase1, false); match != nil {
		return match, nil
	}

	// Stage 5: AI judge.
	return e.judgeFallback(ctx, m, applicable, phase1, phase3)
}

// applicableRules filters out interactive-only rules when running
// non-interactively.
func (e *Evaluator) applicableRules(m *core.Movement) []*core.Rule {
	if e.interactive {
		return m.Rules
	}
	var out []*core.Rule
	for _, r := range m.Rules {
		if !r.InteractiveOnly {
			out = append(out, r)
		}
	}
	return out
}

// autoSelect returns the single non-aggregate rule when it is the only
// rule. Aggregate rules force the aggregate stage instead.
func autoSelect(applicable []*core.Rule) *core.RuleMatch {
	var only *core.Rule
	for _, r := range applicable {
		if r.Aggregate != core.AggregateNone {
			return nil
		}
		if only != nil {
			return nil
		}
		only = r
	}
	if only == nil {
		return nil
	}
	return &core.RuleMatch{Rule: only, Method: core.MatchAutoSelect}
}

// matchAggregate evaluates all/any rules over the sub-movement outcomes,
// in rule order. Evaluation is insensitive to completion order.
func matchAggregate(applicable []*core.Rule, subs []SubResult) *core.RuleMatch {
	if len(subs) == 0 {
		return nil
	}
	for _, r := range applicable {
		switch r.Aggregate {
		case core.AggregateAll:
			matched := true
			for _, sub := range subs {
				if sub.Match == nil || sub.Match.Rule.Condition != r.Condition {
					matched = false
					break
				}
			}
			if matched {
				return &core.RuleMatch{Rule: r, Method: core.MatchAggregate}
			}
		case core.AggregateAny:
			for _, sub := range subs {
				if sub.Match != nil && sub.Match.Rule.Condition == r.Condition {
					return &core.RuleMatch{Rule: r, Method: core.MatchAggregate}
				}
			}
		}
	}
	return nil
}

// matchTag scans a response for [MOVEMENT:N] tags. The last occurrence wins
// so verbose preambles that quote the tag table do not mislead the match.
func matchTag(m *core.Movement, applicable []*core.Rule, resp *core.Response, method core.MatchMethod, allowAggregate bool) *core.RuleMatch {
	if resp == nil || resp.Content == "" {
		return nil
	}
	re := tagPattern(m.Name)
	matches := re.FindAllStringSubmatch(resp.Content, -1)
	if len(matches) == 0 {
		return nil
	}
	last := matches[len(matches)-1]
	ordinal, err := strconv.Atoi(last[1])
	if err != nil {
		return nil
	}
	rule := ruleByOrdinal(applicable, ordinal)
	if rule == nil || rule.IsAI() {
		return nil
	}
	if rule.Aggregate != core.AggregateNone && !allowAggregate {
		return nil
	}
	return &core.RuleMatch{Rule: rule, Method: method}
}

func tagPattern(movement string) *regexp.Regexp {
	return regexp.MustCompile(`\[` + regexp.QuoteMeta(movement) + `:(\d+)\]`)
}

func ruleByOrdinal(applicable []*core.Rule, ordinal int) *core.Rule {
	for _, r := range applicable {
		if r.Ordinal == ordinal {
			return r
		}
	}
	return nil
}

// matchStructured uses a parsed {"step": N} object from the judgment call.
func matchStructured(applicable []*core.Rule, phase3 *core.Response) *core.RuleMatch {
	step, ok := phase3.StructuredStep()
	if !ok {
		return nil
	}
	rule := ruleByOrdinal(applicable, step)
	if rule == nil {
		return nil
	}
	return &core.RuleMatch{Rule: rule, Method: core.MatchStructuredOutput}
}

// judgeFallback consults the AI judge with the rule conditions and the
// available responses. Retries once on a malformed or out-of-range answer.
func (e *Evaluator) judgeFallback(ctx context.Context, m *core.Movement, applicable []*core.Rule, phase1, phase3 *core.Response) (*core.RuleMatch, error) {
	if e.judge == nil {
		return nil, core.ErrExecution("NO_RULE_MATCHED",
			fmt.Sprintf("movement %s: no rule matched and no judge configured", m.Name))
	}

	conditions := make([]string, len(applicable))
	for i, r := range applicable {
		if r.IsAI() {
			conditions[i] = r.AICondition
		} else {
			conditions[i] = r.Condition
		}
	}
	var responses []string
	if phase1 != nil {
		responses = append(responses, phase1.Content)
	}
	if phase3 != nil {
		responses = append(responses, phase3.Content)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		idx, err := e.judge.Judge(ctx, conditions, responses)
		if err != nil {
			lastErr = err
			continue
		}
		if idx < 1 || idx > len(applicable) {
			lastErr = core.ErrExecution("JUDGE_OUT_OF_RANGE",
				fmt.Sprintf("movement %s: judge returned %d, want 1..%d", m.Name, idx, len(applicable)))
			continue
		}
		return &core.RuleMatch{Rule: applicable[idx-1], Method: core.MatchAIJudge}, nil
	}
	return nil, core.ErrExecution("JUDGE_FAILED",
		fmt.Sprintf("movement %s: AI judge failed", m.Name)).WithCause(lastErr)
}
