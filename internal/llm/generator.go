// Package llm is the boundary to the external text-generation service.
// Everything past this package sees plain text in and plain text out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/autopilot/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrTimeout       = errors.New("text generation timed out")
	ErrEmptyResponse = errors.New("text generation returned no choices")
)

// Generator produces text for a prompt and an optional system instruction.
type Generator interface {
	Generate(ctx context.Context, prompt string, system string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, system string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, system string) (string, error) {
	return f(ctx, prompt, system)
}

// LangChainGenerator drives any langchaingo model with a per-call timeout.
type LangChainGenerator struct {
	Model   llms.Model
	Timeout time.Duration
	Options []llms.CallOption
	Logger  *observability.Logger
	Task    string
}

func NewLangChainGenerator(model llms.Model, timeout time.Duration, logger *observability.Logger) *LangChainGenerator {
	return &LangChainGenerator{
		Model:   model,
		Timeout: timeout,
		Logger:  logger,
	}
}

func (g *LangChainGenerator) Generate(ctx context.Context, prompt string, system string) (string, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})

	resp, err := g.Model.GenerateContent(ctx, messages, g.Options...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, g.Timeout, err)
		}
		g.log(prompt, "", err)
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		g.log(prompt, "", ErrEmptyResponse)
		return "", ErrEmptyResponse
	}

	content := resp.Choices[0].Content
	g.log(prompt, content, nil)
	return content, nil
}

func (g *LangChainGenerator) log(prompt, response string, err error) {
	if g.Logger == nil {
		return
	}
	var errText string
	if err != nil {
		errText = err.Error()
	}
	g.Logger.LogLLM(g.Task, prompt, response, errText)
}
