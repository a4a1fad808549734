// Package instruction assembles the per-phase prompts for a movement
// execution. The builder is pure: facets are materialized at piece load
// time, so no I/O happens here.
package instruction

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yoshihiko555/takt/internal/core"
)

// Context carries everything one prompt assembly needs.
type Context struct {
	Piece             *core.Piece
	Movement          *core.Movement
	Cwd               string
	Task              string
	Language          string
	Iteration         int // global counter, 1-based
	MovementIteration int
	ReportDir         string
	PreviousResponse  string
	UserInputs        []string
	Interactive       bool
}

// Builder renders phase prompts.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildWork renders the phase-1 main work prompt. Status rules never appear
// here; they belong to the judgment phase.
func (b *Builder) BuildWork(ctx Context) string {
	var sb strings.Builder
	tr := translations(ctx.Language)

	b.writeExecutionContext(&sb, ctx, tr, false)
	b.writePieceStructure(&sb, ctx, tr)
	b.writeIterationMeta(&sb, ctx, tr)
	b.writeReportMeta(&sb, ctx, tr)

	tmpl := ctx.Movement.InstructionTemplate
	if !strings.Contains(tmpl, "{task}") && ctx.Task != "" {
		sb.WriteString("## " + tr.userRequest + "\n\n")
		sb.WriteString(ctx.Task + "\n\n")
	}
	if !strings.Contains(tmpl, "{user_inputs}") && len(ctx.UserInputs) > 0 {
		sb.WriteString("## " + tr.additionalInputs + "\n\n")
		for _, input := range ctx.UserInputs {
			sb.WriteString("- " + input + "\n")
		}
		sb.WriteString("\n")
	}
	if ctx.Movement.PassPreviousResponse && ctx.PreviousResponse != "" {
		sb.WriteString("## " + tr.previousResponse + "\n\n")
		sb.WriteString(ctx.PreviousResponse + "\n\n")
	}

	sb.WriteString(b.Substitute(tmpl, ctx))
	sb.WriteString("\n")

	for _, p := range ctx.Movement.Policies {
		sb.WriteString("\n" + strings.TrimSpace(p.Text) + "\n")
	}
	for _, k := range ctx.Movement.Knowledge {
		sb.WriteString("\n" + strings.TrimSpace(k.Text) + "\n")
	}
	return sb.String()
}

// BuildReport renders the phase-2 report prompt. Only meaningful when the
// movement carries a report spec.
func (b *Builder) BuildReport(ctx Context) string {
	var sb strings.Builder
	tr := translations(ctx.Language)

	b.writeExecutionContext(&sb, ctx, tr, true)

	file := filepath.Join(ctx.ReportDir, ctx.Movement.Report.Filename)
	sb.WriteString("## " + tr.reportTarget + "\n\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n%s: %s\n\n", tr.reportDir, ctx.ReportDir, tr.reportFile, file))

	if c := ctx.Movement.Report.Contract; c != nil {
		sb.WriteString("## " + tr.reportFormat + "\n\n")
		sb.WriteString(strings.TrimSpace(c.Text) + "\n")
	} else {
		sb.WriteString(fmt.Sprintf(tr.appendIteration, ctx.MovementIteration))
		sb.WriteString("\n")
	}
	return sb.String()
}

// NeedsJudgment reports whether the movement requires a phase-3 call:
// at least one rule, and not every rule AI-judged or aggregate.
func NeedsJudgment(m *core.Movement) bool {
	if len(m.Rules) == 0 {
		return false
	}
	for _, r := range m.Rules {
		if !r.IsAI() && r.Aggregate == core.AggregateNone {
			return true
		}
	}
	return false
}

// BuildJudgment renders the phase-3 status judgment prompt: the decision
// criteria table, the tag output format, and any rule appendix templates.
func (b *Builder) BuildJudgment(ctx Context) string {
	var sb strings.Builder
	tr := translations(ctx.Language)
	m := ctx.Movement

	sb.WriteString(tr.judgmentLead + "\n\n")

	sb.WriteString("## " + tr.decisionCriteria + "\n\n")
	sb.WriteString("| # | " + tr.condition + " | " + tr.tag + " |\n")
	sb.WriteString("|---|---|---|\n")
	for _, r := range m.Rules {
		sb.WriteString(fmt.Sprintf("| %d | %s | [%s:%d] |\n", r.Ordinal, r.Condition, m.Name, r.Ordinal))
	}
	sb.WriteString("\n## " + tr.outputFormat + "\n\n")
	for _, r := range m.Rules {
		sb.WriteString(fmt.Sprintf("- [%s:%d] — %s\n", m.Name, r.Ordinal, r.Condition))
	}

	for _, r := range m.Rules {
		if r.Appendix != "" {
			sb.WriteString("\n## " + tr.appendix + fmt.Sprintf(" [%s:%d]\n\n", m.Name, r.Ordinal))
			sb.WriteString(b.Substitute(r.Appendix, ctx) + "\n")
		}
	}
	return sb.String()
}

// Substitute expands the instruction placeholders against the context.
func (b *Builder) Substitute(tmpl string, ctx Context) string {
	max := 0
	if ctx.Piece != nil {
		max = ctx.Piece.MaxMovements
	}
	r := strings.NewReplacer(
		"{task}", ctx.Task,
		"{iteration}", fmt.Sprintf("%d", ctx.Iteration),
		"{max_iterations}", fmt.Sprintf("%d", max),
		"{movement_iteration}", fmt.Sprintf("%d", ctx.MovementIteration),
		"{report_dir}", ctx.ReportDir,
		"{previous_response}", ctx.PreviousResponse,
		"{user_inputs}", strings.Join(ctx.UserInputs, "\n"),
	)
	out := r.Replace(tmpl)
	out = reportFileRe.ReplaceAllStringFunc(out, func(match string) string {
		name := reportFileRe.FindStringSubmatch(match)[1]
		return filepath.Join(ctx.ReportDir, name)
	})
	return out
}

func (b *Builder) writeExecutionContext(sb *strings.Builder, ctx Context, tr *texts, report bool) {
	sb.WriteString("## " + tr.executionContext + "\n\n")
	sb.WriteString(tr.workingDir + ": " + ctx.Cwd + "\n")
	if !report && ctx.Movement.Edit {
		sb.WriteString(tr.editEnabled + "\n")
	}
	sb.WriteString("\n" + tr.rulesHeader + "\n")
	sb.WriteString("- " + tr.noCommit + "\n")
	sb.WriteString("- " + tr.noChdir + "\n")
	if report {
		sb.WriteString("- " + tr.noSourceEdits + "\n")
	}
	sb.WriteString("\n")
}

func (b *Builder) writePieceStructure(sb *strings.Builder, ctx Context, tr *texts) {
	if ctx.Piece == nil {
		return
	}
	sb.WriteString("## " + tr.pieceStructure + "\n\n")
	sb.WriteString(fmt.Sprintf(tr.movementCount, len(ctx.Piece.Movements)))
	sb.WriteString("\n")
	for i, m := range ctx.Piece.Movements {
		marker := ""
		if m.Name == ctx.Movement.Name {
			marker = " ← " + tr.current
		}
		line := fmt.Sprintf("%d. %s%s", i+1, m.Name, marker)
		if m.Description != "" {
			line += " — " + m.Description
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func (b *Builder) writeIterationMeta(sb *strings.Builder, ctx Context, tr *texts) {
	max := 0
	if ctx.Piece != nil {
		max = ctx.Piece.MaxMovements
	}
	sb.WriteString("## " + tr.iterationMeta + "\n\n")
	sb.WriteString(fmt.Sprintf("%s: %d/%d\n", tr.iteration, ctx.Iteration, max))
	sb.WriteString(fmt.Sprintf("%s: %d\n", tr.movementIteration, ctx.MovementIteration))
	sb.WriteString(fmt.Sprintf("%s: %s\n\n", tr.movement, ctx.Movement.Name))
}

func (b *Builder) writeReportMeta(sb *strings.Builder, ctx Context, tr *texts) {
	if ctx.Movement.Report == nil {
		return
	}
	file := filepath.Join(ctx.ReportDir, ctx.Movement.Report.Filename)
	sb.WriteString("## " + tr.reportTarget + "\n\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n%s: %s\n", tr.reportDir, ctx.ReportDir, tr.reportFile, file))
	sb.WriteString(tr.reportLater + "\n\n")
}
