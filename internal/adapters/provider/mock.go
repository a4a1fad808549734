package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/logging"
)

// MockProvider replays scripted responses. Used by tests and end-to-end
// dry runs; the scenario file comes from TAKT_MOCK_SCENARIO.
type MockProvider struct {
	mu        sync.Mutex
	steps     []MockStep
	cursor    int
	calls     []MockCall
	interrupt []string
}

// MockStep is one scripted response.
type MockStep struct {
	Content    string                 `json:"content"`
	Status     string                 `json:"status,omitempty"`
	Structured map[string]interface{} `json:"structured,omitempty"`
	DelayMS    int                    `json:"delay_ms,omitempty"`
}

// MockCall records one invocation for assertions.
type MockCall struct {
	Persona   string
	Prompt    string
	SessionID string
}

// NewMockProvider creates a mock provider. When TAKT_MOCK_SCENARIO points
// at a scenario file, its steps are loaded; otherwise every call answers
// with a plain done response.
func NewMockProvider(options map[string]interface{}, _ *logging.Logger) (core.Provider, error) {
	m := &MockProvider{}
	path := os.Getenv("TAKT_MOCK_SCENARIO")
	if p, ok := options["scenario"].(string); ok && p != "" {
		path = p
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading mock scenario: %w", err)
		}
		if err := json.Unmarshal(data, &m.steps); err != nil {
			return nil, fmt.Errorf("parsing mock scenario: %w", err)
		}
	}
	return m, nil
}

// NewScriptedMock builds a mock provider from in-memory steps.
func NewScriptedMock(steps ...MockStep) *MockProvider {
	return &MockProvider{steps: steps}
}

// Name implements core.Provider.
func (m *MockProvider) Name() string { return "mock" }

// Setup implements core.Provider.
func (m *MockProvider) Setup(spec core.PersonaSpec) (core.AgentRunner, error) {
	return &mockRunner{provider: m, persona: spec.Name}, nil
}

// Interrupt implements core.Provider.
func (m *MockProvider) Interrupt(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupt = append(m.interrupt, sessionID)
}

// Calls returns the recorded invocations.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Interrupted returns the session IDs that received Interrupt.
func (m *MockProvider) Interrupted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.interrupt))
	copy(out, m.interrupt)
	return out
}

type mockRunner struct {
	provider *MockProvider
	persona  string
}

func (r *mockRunner) Run(ctx context.Context, prompt string, opts core.CallOptions) (*core.Response, error) {
	m := r.provider
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Persona: r.persona, Prompt: prompt, SessionID: opts.SessionID})
	var step MockStep
	if m.cursor < len(m.steps) {
		step = m.steps[m.cursor]
		m.cursor++
	} else {
		step = MockStep{Content: "done"}
	}
	m.mu.Unlock()

	if step.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(step.DelayMS) * time.Millisecond):
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		m.Interrupt(opts.SessionID)
		return nil, &core.ProviderError{Kind: core.ProviderErrInterrupted, Message: "mock interrupted", Cause: ctx.Err()}
	}

	status := core.ResponseStatus(step.Status)
	if status == "" {
		status = core.ResponseDone
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &core.Response{
		Content:          step.Content,
		Status:           status,
		StructuredOutput: step.Structured,
		SessionID:        sessionID,
		Timestamp:        time.Now(),
	}, nil
}
