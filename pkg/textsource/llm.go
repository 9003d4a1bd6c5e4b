package textsource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// LLM produces text streams from a chat-completion model via any-llm-go.
// Each call to [LLM.Stream] opens one streaming completion and exposes its
// content deltas as a [Source]. Reasoning models that emit <think> markers
// can be streamed as-is: the pipeline strips thinking content downstream.
type LLM struct {
	backend anyllmlib.Provider
	model   string
}

// NewLLM wraps an any-llm-go provider. Use [NewLLMProvider] to build the
// backend from a provider name.
func NewLLM(backend anyllmlib.Provider, model string) (*LLM, error) {
	if backend == nil {
		return nil, fmt.Errorf("textsource: backend must not be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("textsource: model must not be empty")
	}
	return &LLM{backend: backend, model: model}, nil
}

// NewLLMProvider creates the underlying any-llm-go provider for the given
// provider name: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq" or "llamacpp". Without an explicit API key option, each
// provider falls back to its usual environment variable.
func NewLLMProvider(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("textsource: unknown LLM provider %q", name)
	}
}

// llmStream is the Source for one in-flight completion.
type llmStream struct {
	ch  chan string
	mu  sync.Mutex
	err error
}

var _ Source = (*llmStream)(nil)

// Stream opens a streaming completion and returns its content deltas as a
// [Source]. systemPrompt may be empty. The stream ends when the model
// finishes or ctx is cancelled; a backend failure surfaces via [Source.Err].
func (l *LLM) Stream(ctx context.Context, systemPrompt, userPrompt string) (Source, error) {
	if userPrompt == "" {
		return nil, fmt.Errorf("textsource: userPrompt must not be empty")
	}

	var messages []anyllmlib.Message
	if systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: userPrompt,
	})

	chunks, errs := l.backend.CompletionStream(ctx, anyllmlib.CompletionParams{
		Model:    l.model,
		Messages: messages,
	})

	s := &llmStream{ch: make(chan string, 16)}
	go func() {
		defer close(s.ch)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case s.ch <- delta:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
		if err := <-errs; err != nil {
			s.setErr(fmt.Errorf("textsource: completion stream: %w", err))
		}
	}()
	return s, nil
}

// Chunks implements [Source].
func (s *llmStream) Chunks() <-chan string { return s.ch }

// Err implements [Source].
func (s *llmStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *llmStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
