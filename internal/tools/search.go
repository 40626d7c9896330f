package tools

import (
	"context"

	"github.com/rahul/autopilot/internal/governance"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// searchClient is satisfied by langchaingo search tools.
type searchClient interface {
	Call(ctx context.Context, input string) (string, error)
}

type Search struct {
	client searchClient
}

func NewSearch(maxResults int) (*Search, error) {
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &Search{client: ddg}, nil
}

func (s *Search) Name() string {
	return "search"
}

func (s *Search) Description() string {
	return "Search the web using DuckDuckGo for real-time information."
}

func (s *Search) Operations() []Operation {
	return []Operation{
		{Name: "web_search", Kind: governance.OpNetwork, Description: "Run a web search", Params: []string{"query"}},
	}
}

func (s *Search) Describe(operation string, params map[string]any) string {
	return operation + " " + optionalString(params, "query")
}

func (s *Search) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	if operation != "web_search" {
		return Fail("%v: %q", ErrUnknownOperation, operation)
	}
	query, err := stringParam(params, "query")
	if err != nil {
		return Fail("%v", err)
	}
	res, err := s.client.Call(ctx, query)
	if err != nil {
		return Fail("search failed: %v", err)
	}
	return Ok(res)
}
