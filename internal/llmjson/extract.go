// Package llmjson extracts JSON payloads from model responses that may wrap
// them in prose or markdown code fences.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is wrapped by extraction failures so callers can distinguish an
// unparseable response from a downstream decode problem.
var ErrNoJSON = errors.New("llmjson: no parseable payload")

const excerptLen = 120

// ExtractObject decodes a single JSON object from a model response into dst.
// It tolerates code fences and surrounding prose: after fence stripping it
// tries a direct parse, then the span from the first '{' to the last '}'.
func ExtractObject(text string, dst any) error {
	return extract(text, dst, '{', '}')
}

// ExtractArray decodes a JSON array from a model response into dst, with the
// same fence and prose tolerance as ExtractObject.
func ExtractArray(text string, dst any) error {
	return extract(text, dst, '[', ']')
}

func extract(text string, dst any, open, closing byte) error {
	text = strings.TrimPrefix(text, "\uFEFF")
	text = stripFences(text)
	text = strings.TrimSpace(text)

	if len(text) > 0 && text[0] == open {
		if err := json.Unmarshal([]byte(text), dst); err == nil {
			return nil
		}
	}

	first := strings.IndexByte(text, open)
	last := strings.LastIndexByte(text, closing)
	if first != -1 && last > first {
		if err := json.Unmarshal([]byte(text[first:last+1]), dst); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w (length=%d): %s", ErrNoJSON, len(text), excerpt(text))
}

// stripFences removes a leading markdown code fence together with its
// language tag, and the matching closing fence if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	newline := strings.IndexByte(text, '\n')
	if newline == -1 {
		return text
	}
	text = text[newline+1:]
	trimmed := strings.TrimRight(text, " \t\r\n")
	if strings.HasSuffix(trimmed, "```") {
		if end := strings.LastIndex(trimmed, "```"); end != -1 {
			return strings.TrimRight(trimmed[:end], " \t\r\n")
		}
	}
	return text
}

func excerpt(text string) string {
	if len(text) <= excerptLen {
		return text
	}
	return text[:excerptLen] + "..."
}
