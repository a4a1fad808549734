package engine

import (
	"context"

	"github.com/yoshihiko555/takt/internal/core"
)

// executeSingle runs the phase-1 work call for a single movement.
func (e *Engine) executeSingle(ctx context.Context, m *core.Movement, state *core.ExecutionState) (*core.Response, error) {
	dir, _ := e.reportDirPath(m, state)
	prompt := e.builder.BuildWork(e.promptContext(m, state, dir))
	return e.invoke(ctx, m, prompt, nil, false)
}
