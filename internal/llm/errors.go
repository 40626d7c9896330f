package llm

import "strings"

// tokenLimitSignatures are error fragments providers use when the request
// exceeds the model's context window.
var tokenLimitSignatures = []string{
	"context_length_exceeded",
	"token_limit",
	"maximum context length",
	"too many tokens",
	"context window",
	"prompt is too long",
	"request too large",
	"input is too long",
	"reduce the length of the messages",
}

// IsTokenLimitError reports whether err looks like an input-too-large failure.
func IsTokenLimitError(err error) bool {
	if err == nil {
		return false
	}
	return IsTokenLimitText(err.Error())
}

// IsTokenLimitText is IsTokenLimitError for raw error text.
func IsTokenLimitText(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range tokenLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
