package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	messages []llms.MessageContent
	reply    string
	err      error
	delay    time.Duration
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangChainGenerator_SendsSystemAndPrompt(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	gen := NewLangChainGenerator(model, time.Second, nil)

	out, err := gen.Generate(context.Background(), "do it", "you are a planner")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestLangChainGenerator_Timeout(t *testing.T) {
	model := &fakeModel{reply: "late", delay: time.Second}
	gen := NewLangChainGenerator(model, 20*time.Millisecond, nil)

	_, err := gen.Generate(context.Background(), "slow", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLangChainGenerator_EmptyResponse(t *testing.T) {
	gen := NewLangChainGenerator(emptyModel{}, 0, nil)
	_, err := gen.Generate(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type emptyModel struct{}

func (emptyModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (emptyModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", nil
}

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"prose around", "Here is the plan:\n{\"goal\":\"x\",\"steps\":[]}\nThanks!", `{"goal":"x","steps":[]}`},
		{"fenced", "```json\n{\"ok\": true}\n```", `{"ok": true}`},
		{"broken first", `{broken {"a":{"b":"}"}}`, `{"a":{"b":"}"}}`},
		{"nested", `x {"a":{"b":[1,2,{"c":3}]}} y {"d":4}`, `{"a":{"b":[1,2,{"c":3}]}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw, err := ExtractObject(c.in)
			require.NoError(t, err)
			assert.JSONEq(t, c.want, string(raw))
		})
	}
}

func TestExtractObject_NoData(t *testing.T) {
	_, err := ExtractObject("I cannot help with that.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoStructuredData))

	var extractErr *ExtractError
	require.True(t, errors.As(err, &extractErr))
	assert.Equal(t, "object", extractErr.Kind)

	_, err = ExtractObject(`{"unterminated": true`)
	assert.ErrorIs(t, err, ErrNoStructuredData)
}

func TestExtractArray(t *testing.T) {
	raw, err := ExtractArray(`files: ["a.go", "b.go"] done`)
	require.NoError(t, err)
	assert.JSONEq(t, `["a.go","b.go"]`, string(raw))
}

func TestDecodeObject(t *testing.T) {
	var v struct {
		Goal string `json:"goal"`
	}
	require.NoError(t, DecodeObject("sure: {\"goal\": \"ship\"}", &v))
	assert.Equal(t, "ship", v.Goal)
}

func TestIsTokenLimitError(t *testing.T) {
	positives := []string{
		"error code: context_length_exceeded",
		"This model's maximum context length is 8192 tokens",
		"Too many tokens in request",
		"input exceeds the context window",
		"TOKEN_LIMIT reached",
	}
	for _, msg := range positives {
		assert.True(t, IsTokenLimitError(errors.New(msg)), msg)
	}
	assert.False(t, IsTokenLimitError(errors.New("connection refused")))
	assert.False(t, IsTokenLimitError(nil))
	assert.True(t, IsTokenLimitText(strings.ToUpper("prompt is too long")))
}
