package step

import (
	"context"
	"fmt"
	"testing"

	"github.com/halcyonix/playbook/model"
)

// fakeLLM returns a canned response or error and records calls.
type fakeLLM struct {
	calls  []fakeLLMCall
	result LLMResult
	err    error
}

type fakeLLMCall struct {
	Model  string
	Prompt string
	Params Params
}

func (f *fakeLLM) Execute(_ context.Context, modelName, prompt string, params Params) (LLMResult, error) {
	f.calls = append(f.calls, fakeLLMCall{Model: modelName, Prompt: prompt, Params: params})
	if f.err != nil {
		return LLMResult{}, f.err
	}
	return f.result, nil
}

// fakeBudget denies when deny is set, records usage, and tracks outstanding
// reservations.
type fakeBudget struct {
	deny     bool
	reserved []int
	held     int
	recorded []TokenUsage
}

func (f *fakeBudget) CheckAndReserve(_ context.Context, _ string, estimate int) (func(), error) {
	f.reserved = append(f.reserved, estimate)
	if f.deny {
		return nil, fmt.Errorf("monthly token budget exhausted")
	}
	f.held++
	return func() { f.held-- }, nil
}

func (f *fakeBudget) Record(_ context.Context, _ string, usage TokenUsage) {
	f.recorded = append(f.recorded, usage)
}

type fakePromptStore struct {
	prompts map[string]model.PromptTemplate
}

func (f *fakePromptStore) GetPrompt(id string) (model.PromptTemplate, error) {
	p, ok := f.prompts[id]
	if !ok {
		return model.PromptTemplate{}, fmt.Errorf("prompt %q not found", id)
	}
	return p, nil
}

func TestPromptExecutor_success(t *testing.T) {
	llm := &fakeLLM{result: LLMResult{Text: "a summary", Usage: TokenUsage{InputTokens: 10, OutputTokens: 5}}}
	budget := &fakeBudget{}
	exec := NewPromptExecutor(llm, nil, budget)

	def := &model.StepDefinition{
		ID:          "s1",
		Type:        model.StepTypePrompt,
		PromptText:  "Summarize {{doc}}",
		Model:       "claude-3-5-haiku-latest",
		Temperature: 0.2,
	}

	outcome, serr := exec.Execute(context.Background(), def, map[string]any{"doc": "hello"}, "user-1")
	if serr != nil {
		t.Fatalf("Execute error: %v", serr)
	}
	if outcome.Raw != "a summary" {
		t.Errorf("Raw = %q", outcome.Raw)
	}
	if len(llm.calls) != 1 {
		t.Fatalf("LLM calls = %d, want 1", len(llm.calls))
	}
	if llm.calls[0].Prompt != "Summarize hello" {
		t.Errorf("rendered prompt = %q", llm.calls[0].Prompt)
	}
	if llm.calls[0].Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", llm.calls[0].Model)
	}
	if len(budget.recorded) != 1 || budget.recorded[0].Total() != 15 {
		t.Errorf("recorded usage = %v", budget.recorded)
	}
	if budget.held != 0 {
		t.Errorf("outstanding reservations = %d, want 0", budget.held)
	}
}

func TestPromptExecutor_unresolvedVariable(t *testing.T) {
	llm := &fakeLLM{}
	exec := NewPromptExecutor(llm, nil, nil)

	def := &model.StepDefinition{ID: "s1", Type: model.StepTypePrompt, PromptText: "Summarize {{missing}}"}
	_, serr := exec.Execute(context.Background(), def, map[string]any{}, "user-1")
	if serr == nil {
		t.Fatal("expected template error")
	}
	if serr.Kind != model.ErrTemplateError {
		t.Errorf("Kind = %q, want %q", serr.Kind, model.ErrTemplateError)
	}
	if len(llm.calls) != 0 {
		t.Error("LLM must not be called when rendering fails")
	}
}

func TestPromptExecutor_budgetDenied(t *testing.T) {
	llm := &fakeLLM{result: LLMResult{Text: "x"}}
	budget := &fakeBudget{deny: true}
	exec := NewPromptExecutor(llm, nil, budget)

	def := &model.StepDefinition{ID: "s1", Type: model.StepTypePrompt, PromptText: "hi"}
	_, serr := exec.Execute(context.Background(), def, map[string]any{}, "user-1")
	if serr == nil {
		t.Fatal("expected budget error")
	}
	if serr.Kind != model.ErrBudgetExceeded {
		t.Errorf("Kind = %q, want %q", serr.Kind, model.ErrBudgetExceeded)
	}
	if len(llm.calls) != 0 {
		t.Error("LLM must not be called when budget denies")
	}
}

func TestPromptExecutor_providerError(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("upstream 529")}
	budget := &fakeBudget{}
	exec := NewPromptExecutor(llm, nil, budget)

	def := &model.StepDefinition{ID: "s1", Type: model.StepTypePrompt, PromptText: "hi"}
	_, serr := exec.Execute(context.Background(), def, map[string]any{}, "user-1")
	if serr == nil {
		t.Fatal("expected provider error")
	}
	if serr.Kind != model.ErrProviderError {
		t.Errorf("Kind = %q, want %q", serr.Kind, model.ErrProviderError)
	}
	if budget.held != 0 {
		t.Errorf("outstanding reservations = %d, want 0 after failed call", budget.held)
	}
}

func TestPromptExecutor_promptByID(t *testing.T) {
	llm := &fakeLLM{result: LLMResult{Text: "ok"}}
	store := &fakePromptStore{prompts: map[string]model.PromptTemplate{
		"summarize.v2": {ID: "summarize.v2", Text: "Condense: {{doc}}", Model: "claude-sonnet-4-5"},
	}}
	exec := NewPromptExecutor(llm, store, nil)

	def := &model.StepDefinition{ID: "s1", Type: model.StepTypePrompt, PromptID: "summarize.v2"}
	_, serr := exec.Execute(context.Background(), def, map[string]any{"doc": "text"}, "user-1")
	if serr != nil {
		t.Fatalf("Execute error: %v", serr)
	}
	if llm.calls[0].Prompt != "Condense: text" {
		t.Errorf("prompt = %q", llm.calls[0].Prompt)
	}
	if llm.calls[0].Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q, want template default", llm.calls[0].Model)
	}
}

func TestPromptExecutor_unknownPromptID(t *testing.T) {
	exec := NewPromptExecutor(&fakeLLM{}, &fakePromptStore{}, nil)
	def := &model.StepDefinition{ID: "s1", Type: model.StepTypePrompt, PromptID: "absent"}
	_, serr := exec.Execute(context.Background(), def, map[string]any{}, "user-1")
	if serr == nil || serr.Kind != model.ErrTemplateError {
		t.Errorf("serr = %v, want TEMPLATE_ERROR", serr)
	}
}
