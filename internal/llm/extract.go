package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/autopilot/internal/observability"
)

// ErrNoStructuredData is matched by every ExtractError.
var ErrNoStructuredData = errors.New("no structured data in response")

// ExtractError reports that a response held no well-formed JSON value of the
// wanted kind.
type ExtractError struct {
	Kind    string
	Snippet string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("no well-formed JSON %s in response: %q", e.Kind, e.Snippet)
}

func (e *ExtractError) Unwrap() error {
	return ErrNoStructuredData
}

// ExtractObject returns the first well-formed JSON object in text. Prose,
// code fences and broken candidates before it are skipped.
func ExtractObject(text string) (json.RawMessage, error) {
	return extractFirst(text, '{', "object")
}

// ExtractArray returns the first well-formed JSON array in text.
func ExtractArray(text string) (json.RawMessage, error) {
	return extractFirst(text, '[', "array")
}

// DecodeObject extracts the first JSON object in text and unmarshals it into v.
func DecodeObject(text string, v any) error {
	raw, err := ExtractObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoStructuredData, err)
	}
	return nil
}

func extractFirst(text string, open byte, kind string) (json.RawMessage, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != open {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		dec.UseNumber()
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if len(raw) > 0 && raw[0] == open {
			return raw, nil
		}
	}
	return nil, &ExtractError{Kind: kind, Snippet: snippet(text, 120)}
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return observability.Clip(s, n) + "..."
	}
	return s
}
