package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/logging"
)

// ClaudeProvider drives the claude CLI non-interactively. The transport is
// intentionally thin: prompt in, JSON result out; the engine owns all
// orchestration semantics.
type ClaudeProvider struct {
	binary  string
	options map[string]interface{}
	logger  *logging.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd // session id -> in-flight process
}

// NewClaudeProvider creates the claude adapter.
func NewClaudeProvider(options map[string]interface{}, logger *logging.Logger) (core.Provider, error) {
	binary := "claude"
	if b, ok := options["binary"].(string); ok && b != "" {
		binary = b
	}
	return &ClaudeProvider{
		binary:  binary,
		options: options,
		logger:  logger,
		running: make(map[string]*exec.Cmd),
	}, nil
}

// Name implements core.Provider.
func (p *ClaudeProvider) Name() string { return "claude" }

// Setup implements core.Provider.
func (p *ClaudeProvider) Setup(spec core.PersonaSpec) (core.AgentRunner, error) {
	return &claudeRunner{provider: p, spec: spec}, nil
}

// interruptGracePeriod is how long an interrupted CLI gets to shut down
// its tool subprocesses before the group is force-killed.
const interruptGracePeriod = 3 * time.Second

// Interrupt implements core.Provider: best-effort termination of the
// in-flight process group for a session. The CLI forks tool subprocesses,
// so the whole group is signaled, SIGTERM first, SIGKILL after the grace
// period.
func (p *ClaudeProvider) Interrupt(sessionID string) {
	p.mu.Lock()
	cmd := p.running[sessionID]
	p.mu.Unlock()
	if cmd == nil {
		return
	}
	if err := terminateProcessGroup(cmd, interruptGracePeriod); err != nil && p.logger != nil {
		p.logger.Debug("interrupt failed", "session", sessionID, "error", err)
	}
}

type claudeRunner struct {
	provider *ClaudeProvider
	spec     core.PersonaSpec
}

// claudeResult is the CLI's JSON output envelope.
type claudeResult struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Subtype   string `json:"subtype"`
}

func (r *claudeRunner) Run(ctx context.Context, prompt string, opts core.CallOptions) (*core.Response, error) {
	p := r.provider

	args := []string{"-p", "--output-format", "json"}
	if r.spec.Text != "" {
		args = append(args, "--append-system-prompt", r.spec.Text)
	}
	if r.spec.Model != "" {
		args = append(args, "--model", r.spec.Model)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	args = append(args, permissionArgs(opts.PermissionMode)...)
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	if len(opts.MCPServers) > 0 {
		mcpConfig, err := json.Marshal(map[string]interface{}{"mcpServers": opts.MCPServers})
		if err == nil {
			args = append(args, "--mcp-config", string(mcpConfig))
		}
	}
	if maxTurns, ok := p.options["max_turns"].(int); ok && maxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", maxTurns))
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Dir = opts.Cwd
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Own process group, and cancellation kills the group, not just the
	// leader: the CLI forks tool subprocesses that must die with it.
	configureProcAttr(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 10 * time.Second

	if opts.SessionID != "" {
		p.mu.Lock()
		p.running[opts.SessionID] = cmd
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			delete(p.running, opts.SessionID)
			p.mu.Unlock()
		}()
	}

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, &core.ProviderError{Kind: core.ProviderErrInterrupted, Message: "claude call cancelled", Cause: ctx.Err()}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, classifyExit(stderr.String(), err)
		}
		return nil, &core.ProviderError{Kind: core.ProviderErrTransport, Message: "claude CLI not runnable", Cause: err}
	}

	var result claudeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, &core.ProviderError{Kind: core.ProviderErrOther, Message: "unparsable claude output", Cause: err}
	}

	status := core.ResponseDone
	if result.IsError {
		status = core.ResponseError
	}
	resp := &core.Response{
		Content:   result.Result,
		Status:    status,
		SessionID: result.SessionID,
		Timestamp: time.Now(),
	}
	if opts.OutputSchema != nil {
		// Structured output arrives as the result body; parse leniently and
		// fall back to tag extraction upstream when it is not JSON.
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(result.Result), &structured); err == nil {
			resp.StructuredOutput = structured
		}
	}
	return resp, nil
}

// permissionArgs maps the abstract permission mode onto CLI flags.
func permissionArgs(mode core.PermissionMode) []string {
	switch mode {
	case core.PermissionFull:
		return []string{"--permission-mode", "bypassPermissions"}
	case core.PermissionEdit:
		return []string{"--permission-mode", "acceptEdits"}
	default:
		return []string{"--permission-mode", "plan"}
	}
}

// classifyExit maps CLI failures onto provider error kinds.
func classifyExit(stderr string, cause error) *core.ProviderError {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission") || strings.Contains(lower, "blocked"):
		return &core.ProviderError{Kind: core.ProviderErrBlocked, Message: strings.TrimSpace(stderr), Cause: cause}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return &core.ProviderError{Kind: core.ProviderErrTimeout, Message: strings.TrimSpace(stderr), Cause: cause}
	default:
		return &core.ProviderError{Kind: core.ProviderErrTransport, Message: strings.TrimSpace(stderr), Cause: cause}
	}
}
