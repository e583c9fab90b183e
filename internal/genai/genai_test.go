package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func TestGeneratePrompt_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	out, err := client.GeneratePrompt("system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePrompt("sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GeneratePrompt("sys", "usr")
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGeneratePrompt_DefaultsApplied(t *testing.T) {
	mock := &mockChatService{resp: openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	client := &Client{chat: mock}
	if _, err := client.GeneratePrompt("sys", "usr"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(mock.params.Model) != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, mock.params.Model)
	}
	if !mock.params.Temperature.Valid() || mock.params.Temperature.Value != DefaultTemperature {
		t.Errorf("expected default temperature %v, got %+v", DefaultTemperature, mock.params.Temperature)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
}

func TestGeneratePromptWithContext_Canceled(t *testing.T) {
	mock := &mockChatService{err: context.Canceled}
	client := &Client{chat: mock}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GeneratePromptWithContext(ctx, "sys", "usr")
	if err == nil {
		t.Error("expected error from canceled context")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "")
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.model != DefaultModel {
		t.Errorf("expected default model, got %q", cli.model)
	}
}

func TestNewClient_Options(t *testing.T) {
	cli, err := NewClient(
		WithAPIKey("test-key"),
		WithModel("gpt-4o-mini"),
		WithTemperature(0.7),
		WithMaxCompletionTokens(128),
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cli.model != "gpt-4o-mini" {
		t.Errorf("expected model override, got %q", cli.model)
	}
	if cli.temperature != 0.7 {
		t.Errorf("expected temperature override, got %v", cli.temperature)
	}
	if cli.maxCompletionTokens != 128 {
		t.Errorf("expected max completion tokens override, got %d", cli.maxCompletionTokens)
	}
}

func TestNewClient_ModelFromEnv(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cli.model != "gpt-4o" {
		t.Errorf("expected model from environment, got %q", cli.model)
	}
}
