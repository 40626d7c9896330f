package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/observability"
)

// Reader fetches a page and extracts its readable text.
type Reader struct {
	UserAgent string
	Client    *http.Client
}

func NewReader() *Reader {
	return &Reader{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Reader) Name() string {
	return "reader"
}

func (s *Reader) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *Reader) Operations() []Operation {
	return []Operation{
		{Name: "fetch_page", Kind: governance.OpNetwork, Description: "Fetch and extract an article", Params: []string{"url"}},
	}
}

func (s *Reader) Describe(operation string, params map[string]any) string {
	return operation + " " + optionalString(params, "url")
}

func (s *Reader) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	if operation != "fetch_page" {
		return Fail("%v: %q", ErrUnknownOperation, operation)
	}
	rawURL, err := stringParam(params, "url")
	if err != nil {
		return Fail("%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return Fail("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return Fail("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fail("failed to fetch URL: status code %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Fail("failed to parse URL: %v", err)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return Fail("failed to parse article: %v", err)
	}

	// Sanitize output (remove any remaining HTML tags or scripts)
	p := bluemonday.StrictPolicy()
	sanitized := p.Sanitize(article.TextContent)

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n"

	content := sanitized
	if len(content) > 50000 {
		content = observability.Clip(content, 50000) + "\n... (content truncated) ..."
	}
	output += content

	return Ok(output)
}
