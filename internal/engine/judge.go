package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yoshihiko555/takt/internal/core"
)

// providerJudge implements the rules.Judge fallback by consulting the
// default provider with the judge persona.
type providerJudge struct {
	engine *Engine
}

var integerRe = regexp.MustCompile(`\b(\d+)\b`)

func (j *providerJudge) Judge(ctx context.Context, conditions []string, responses []string) (int, error) {
	e := j.engine
	provider, err := e.opts.Providers.Get(e.opts.DefaultProvider)
	if err != nil {
		return 0, err
	}
	runner, err := provider.Setup(core.PersonaSpec{
		Name:     "judge",
		Text:     e.opts.JudgePersona,
		Provider: e.opts.DefaultProvider,
	})
	if err != nil {
		return 0, err
	}

	var sb strings.Builder
	sb.WriteString("Decide which condition the response satisfies.\n\nConditions:\n")
	for i, c := range conditions {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	sb.WriteString("\nResponses:\n")
	for _, r := range responses {
		sb.WriteString("---\n" + r + "\n")
	}
	sb.WriteString(fmt.Sprintf("\nAnswer with a single integer between 1 and %d. Nothing else.\n", len(conditions)))

	resp, err := runner.Run(ctx, sb.String(), core.CallOptions{
		Cwd:            e.opts.Cwd,
		PermissionMode: core.PermissionReadonly,
	})
	if err != nil {
		return 0, err
	}

	match := integerRe.FindString(strings.TrimSpace(resp.Content))
	if match == "" {
		return 0, fmt.Errorf("judge answered without an integer: %q", resp.Content)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, err
	}
	return n, nil
}
