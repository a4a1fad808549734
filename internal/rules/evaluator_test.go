package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
)

type fakeJudge struct {
	answers []int
	errs    []error
	calls   int
}

func (f *fakeJudge) Judge(_ context.Context, _ []string, _ []string) (int, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	answer := 0
	if i < len(f.answers) {
		answer = f.answers[i]
	}
	return answer, err
}

func tagMovement(name string, rules ...*core.Rule) *core.Movement {
	return &core.Movement{Name: name, Rules: rules}
}

func resp(content string) *core.Response {
	return &core.Response{Content: content, Status: core.ResponseDone}
}

func TestEvaluate_AutoSelect(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("work", &core.Rule{Ordinal: 1, Condition: "Done", Next: core.NextComplete})

	// Stage 0 never consults the response text.
	match, err := e.Evaluate(context.Background(), m, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchAutoSelect, match.Method)
	assert.Equal(t, 1, match.Rule.Ordinal)
}

func TestEvaluate_Phase3TagLastOccurrenceWins(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("review",
		&core.Rule{Ordinal: 1, Condition: "approved", Next: core.NextComplete},
		&core.Rule{Ordinal: 2, Condition: "needs fix", Next: "fix"},
	)
	phase3 := resp("The options were [review:1] and [review:2].\nFinal answer: [review:2]")

	match, err := e.Evaluate(context.Background(), m, resp("work output"), phase3, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchTagPhase3, match.Method)
	assert.Equal(t, 2, match.Rule.Ordinal)
}

func TestEvaluate_StructuredOutput(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("review",
		&core.Rule{Ordinal: 1, Condition: "approved", Next: core.NextComplete},
		&core.Rule{Ordinal: 2, Condition: "needs fix", Next: "fix"},
	)
	phase3 := &core.Response{
		Status:           core.ResponseDone,
		StructuredOutput: map[string]interface{}{"step": float64(1)},
	}

	match, err := e.Evaluate(context.Background(), m, resp("output"), phase3, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchStructuredOutput, match.Method)
	assert.Equal(t, 1, match.Rule.Ordinal)
}

func TestEvaluate_Phase1TagFallback(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("review",
		&core.Rule{Ordinal: 1, Condition: "approved", Next: core.NextComplete},
		&core.Rule{Ordinal: 2, Condition: "needs fix", Next: "fix"},
	)
	phase1 := resp("finished the work [review:1]")

	match, err := e.Evaluate(context.Background(), m, phase1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchTagPhase1, match.Method)
	assert.Equal(t, 1, match.Rule.Ordinal)
}

func TestEvaluate_TagIgnoresAIRules(t *testing.T) {
	judge := &fakeJudge{answers: []int{2}}
	e := NewEvaluator(judge, false)
	m := tagMovement("review",
		&core.Rule{Ordinal: 1, Condition: "approved", AICondition: "response approves", Next: core.NextComplete},
		&core.Rule{Ordinal: 2, Condition: "needs fix", AICondition: "response wants fixes", Next: "fix"},
	)
	// Tag points at an AI rule, so the tag stage must not claim it.
	phase1 := resp("[review:1] but actually unsure")

	match, err := e.Evaluate(context.Background(), m, phase1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchAIJudge, match.Method)
	assert.Equal(t, 2, match.Rule.Ordinal)
	assert.Equal(t, 1, judge.calls)
}

func TestEvaluate_AggregateAll(t *testing.T) {
	e := NewEvaluator(nil, false)
	approved := &core.Rule{Ordinal: 1, Condition: "approved", Next: "supervise", Aggregate: core.AggregateAll}
	needsFix := &core.Rule{Ordinal: 2, Condition: "needs_fix", Next: "fix", Aggregate: core.AggregateAny}
	m := tagMovement("par", approved, needsFix)
	m.Parallel = &core.ParallelSpec{}

	subRule := &core.Rule{Ordinal: 1, Condition: "approved", Next: core.NextComplete}
	subs := []SubResult{
		{Movement: "s1", Match: &core.RuleMatch{Rule: subRule, Method: core.MatchTagPhase1}},
		{Movement: "s2", Match: &core.RuleMatch{Rule: subRule, Method: core.MatchTagPhase1}},
	}

	match, err := e.Evaluate(context.Background(), m, nil, nil, subs)
	require.NoError(t, err)
	assert.Equal(t, core.MatchAggregate, match.Method)
	assert.Equal(t, "supervise", match.Rule.Next)
}

func TestEvaluate_AggregateAnyBeatsAllWhenMixed(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("par",
		&core.Rule{Ordinal: 1, Condition: "approved", Next: "supervise", Aggregate: core.AggregateAll},
		&core.Rule{Ordinal: 2, Condition: "needs_fix", Next: "fix", Aggregate: core.AggregateAny},
	)
	m.Parallel = &core.ParallelSpec{}

	okRule := &core.Rule{Ordinal: 1, Condition: "approved", Next: core.NextComplete}
	fixRule := &core.Rule{Ordinal: 2, Condition: "needs_fix", Next: core.NextComplete}
	subs := []SubResult{
		{Movement: "s1", Match: &core.RuleMatch{Rule: okRule}},
		{Movement: "s2", Match: &core.RuleMatch{Rule: fixRule}},
	}

	match, err := e.Evaluate(context.Background(), m, nil, nil, subs)
	require.NoError(t, err)
	assert.Equal(t, "fix", match.Rule.Next, "all() fails on mixed outcomes, any(needs_fix) matches")
}

func TestEvaluate_AggregateUnmatchedFallsToPhase1Tag(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("par",
		&core.Rule{Ordinal: 1, Condition: "approved", Next: "supervise", Aggregate: core.AggregateAll},
		&core.Rule{Ordinal: 2, Condition: "escalate", Next: "fix", Aggregate: core.AggregateAny},
	)
	m.Parallel = &core.ParallelSpec{}
	subs := []SubResult{{Movement: "s1", Match: nil}}
	phase1 := resp("[par:2]")

	match, err := e.Evaluate(context.Background(), m, phase1, nil, subs)
	require.NoError(t, err)
	assert.Equal(t, core.MatchTagPhase1, match.Method)
	assert.Equal(t, 2, match.Rule.Ordinal)
}

func TestEvaluate_InteractiveOnlySkipped(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("work",
		&core.Rule{Ordinal: 1, Condition: "ask the user", Next: "clarify", InteractiveOnly: true},
		&core.Rule{Ordinal: 2, Condition: "Done", Next: core.NextComplete},
	)

	// Non-interactive: only rule 2 remains, so stage 0 fires.
	match, err := e.Evaluate(context.Background(), m, resp("no tags here"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchAutoSelect, match.Method)
	assert.Equal(t, 2, match.Rule.Ordinal)
}

func TestEvaluate_JudgeRetriesOnce(t *testing.T) {
	judge := &fakeJudge{answers: []int{99, 2}}
	e := NewEvaluator(judge, false)
	m := tagMovement("work",
		&core.Rule{Ordinal: 1, Condition: "done", Next: core.NextComplete},
		&core.Rule{Ordinal: 2, Condition: "blocked", Next: core.NextAbort},
	)

	match, err := e.Evaluate(context.Background(), m, resp("no tags"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.MatchAIJudge, match.Method)
	assert.Equal(t, 2, match.Rule.Ordinal)
	assert.Equal(t, 2, judge.calls)
}

func TestEvaluate_JudgeExhaustsRetries(t *testing.T) {
	judge := &fakeJudge{answers: []int{0, 0}, errs: []error{errors.New("bad"), errors.New("bad")}}
	e := NewEvaluator(judge, false)
	m := tagMovement("work",
		&core.Rule{Ordinal: 1, Condition: "done", Next: core.NextComplete},
		&core.Rule{Ordinal: 2, Condition: "blocked", Next: core.NextAbort},
	)

	_, err := e.Evaluate(context.Background(), m, resp("no tags"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 2, judge.calls)
}

func TestEvaluate_NoApplicableRules(t *testing.T) {
	e := NewEvaluator(nil, false)
	m := tagMovement("work",
		&core.Rule{Ordinal: 1, Condition: "ask", Next: "clarify", InteractiveOnly: true},
	)
	_, err := e.Evaluate(context.Background(), m, resp("x"), nil, nil)
	require.Error(t, err)
}
