package instruction

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
)

func testPiece() *core.Piece {
	p := &core.Piece{
		Name:            "review-fix",
		MaxMovements:    10,
		InitialMovement: "implement",
		Movements: []*core.Movement{
			{Name: "implement", Description: "Implement the change"},
			{
				Name: "ai_review",
				Rules: []*core.Rule{
					{Ordinal: 1, Condition: "No defects", Next: core.NextComplete},
					{Ordinal: 2, Condition: "Defects found", Next: "ai_fix"},
				},
				Report: &core.ReportSpec{Filename: "review.md"},
			},
			{Name: "ai_fix"},
		},
	}
	p.BuildIndex()
	return p
}

func baseContext(p *core.Piece, movement string) Context {
	m, _ := p.MovementByName(movement)
	return Context{
		Piece:             p,
		Movement:          m,
		Cwd:               "/work/tree",
		Task:              "Fix the login bug",
		Language:          "en",
		Iteration:         2,
		MovementIteration: 1,
		ReportDir:         "/work/tree/.takt/reports/run",
	}
}

func TestBuildWork_SectionOrder(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "ai_review")
	ctx.Movement.InstructionTemplate = "Review the work."
	prompt := b.BuildWork(ctx)

	sections := []string{
		"Execution Context",
		"Piece Structure",
		"Iteration",
		"Report",
		"User Request",
		"Review the work.",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", s)
		require.Greater(t, idx, last, "section %q out of order", s)
		last = idx
	}

	assert.Contains(t, prompt, "ai_review ← current")
	assert.Contains(t, prompt, "Iteration: 2/10")
	// Status rules belong to phase 3, never phase 1.
	assert.NotContains(t, prompt, "[ai_review:1]")
	assert.NotContains(t, prompt, "Decision Criteria")
}

func TestBuildWork_TaskPlaceholderSuppressesSection(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "implement")
	ctx.Movement.InstructionTemplate = "Do this: {task}"
	prompt := b.BuildWork(ctx)

	assert.NotContains(t, prompt, "User Request")
	assert.Contains(t, prompt, "Do this: Fix the login bug")
}

func TestBuildWork_UserInputs(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "implement")
	ctx.Movement.InstructionTemplate = "work"
	ctx.UserInputs = []string{"use feature flags", "target release 2.1"}
	prompt := b.BuildWork(ctx)
	assert.Contains(t, prompt, "Additional Inputs")
	assert.Contains(t, prompt, "- use feature flags")

	ctx.Movement.InstructionTemplate = "work with {user_inputs}"
	prompt = b.BuildWork(ctx)
	assert.NotContains(t, prompt, "Additional Inputs")
	assert.Contains(t, prompt, "use feature flags\ntarget release 2.1")
}

func TestBuildWork_PreviousResponse(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "implement")
	ctx.Movement.InstructionTemplate = "work"
	ctx.PreviousResponse = "earlier output"

	prompt := b.BuildWork(ctx)
	assert.NotContains(t, prompt, "earlier output", "previous response requires pass_previous_response")

	ctx.Movement.PassPreviousResponse = true
	prompt = b.BuildWork(ctx)
	assert.Contains(t, prompt, "Previous Response")
	assert.Contains(t, prompt, "earlier output")
}

func TestBuildWork_EditLine(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "implement")
	ctx.Movement.InstructionTemplate = "work"

	prompt := b.BuildWork(ctx)
	assert.NotContains(t, prompt, "File edits are enabled")

	ctx.Movement.Edit = true
	prompt = b.BuildWork(ctx)
	assert.Contains(t, prompt, "File edits are enabled")
}

func TestBuildWork_PolicyContent(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "implement")
	ctx.Movement.InstructionTemplate = "work"
	ctx.Movement.Policies = []*core.Facet{{Type: core.FacetPolicy, Name: "p", Text: "never delete tests"}}
	prompt := b.BuildWork(ctx)
	assert.Contains(t, prompt, "never delete tests")
}

func TestSubstitute_Placeholders(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "ai_review")
	tmpl := "{task} at {iteration}/{max_iterations}, pass {movement_iteration}, dir {report_dir}, file {report:out.md}"
	got := b.Substitute(tmpl, ctx)

	assert.Equal(t,
		"Fix the login bug at 2/10, pass 1, dir /work/tree/.takt/reports/run, file "+
			filepath.Join("/work/tree/.takt/reports/run", "out.md"),
		got)
}

func TestBuildReport(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "ai_review")
	prompt := b.BuildReport(ctx)

	assert.Contains(t, prompt, "Do not modify source files.")
	assert.Contains(t, prompt, filepath.Join(ctx.ReportDir, "review.md"))
	assert.Contains(t, prompt, "## Iteration 1")
	assert.NotContains(t, prompt, "User Request")
	assert.NotContains(t, prompt, "Decision Criteria")

	ctx.Movement.Report.Contract = &core.Facet{Text: "custom contract format"}
	prompt = b.BuildReport(ctx)
	assert.Contains(t, prompt, "custom contract format")
	assert.NotContains(t, prompt, "## Iteration 1")
}

func TestNeedsJudgment(t *testing.T) {
	noRules := &core.Movement{Name: "a"}
	assert.False(t, NeedsJudgment(noRules))

	tagRules := &core.Movement{Name: "a", Rules: []*core.Rule{
		{Ordinal: 1, Condition: "done", Next: core.NextComplete},
	}}
	assert.True(t, NeedsJudgment(tagRules))

	allAI := &core.Movement{Name: "a", Rules: []*core.Rule{
		{Ordinal: 1, Condition: "done", AICondition: "looks complete", Next: core.NextComplete},
	}}
	assert.False(t, NeedsJudgment(allAI))

	allAggregate := &core.Movement{Name: "a", Rules: []*core.Rule{
		{Ordinal: 1, Condition: "approved", Aggregate: core.AggregateAll, Next: core.NextComplete},
	}}
	assert.False(t, NeedsJudgment(allAggregate))
}

func TestBuildJudgment(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "ai_review")
	prompt := b.BuildJudgment(ctx)

	assert.Contains(t, prompt, "without performing any additional work")
	assert.Contains(t, prompt, "| 1 | No defects | [ai_review:1] |")
	assert.Contains(t, prompt, "| 2 | Defects found | [ai_review:2] |")
	assert.Contains(t, prompt, "- [ai_review:1] — No defects")
}

func TestBuildJudgment_Appendix(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "ai_review")
	ctx.Movement.Rules[1].Appendix = "List remaining defects for {task}."
	prompt := b.BuildJudgment(ctx)

	assert.Contains(t, prompt, "Appendix for [ai_review:2]")
	assert.Contains(t, prompt, "List remaining defects for Fix the login bug.")
}

func TestBuildWork_Japanese(t *testing.T) {
	b := NewBuilder()
	ctx := baseContext(testPiece(), "implement")
	ctx.Movement.InstructionTemplate = "work"
	ctx.Language = "ja"
	prompt := b.BuildWork(ctx)
	assert.Contains(t, prompt, "実行コンテキスト")
	assert.Contains(t, prompt, "コミットやプッシュを行わないでください。")
}
