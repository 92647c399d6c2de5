// Package jsonextract pulls JSON values out of free-form model output.
//
// Models asked for JSON frequently wrap it in a markdown fence or surround it
// with prose. Extraction tries, in order: the whole text, the interior of a
// ```json fence, the span between the first '{' and the last '}', and the
// span between the first '[' and the last ']'. The first stage that decodes
// wins; a failing stage never aborts the next one.
package jsonextract

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no stage produced a decodable value.
var ErrNoJSON = errors.New("jsonextract: no JSON value found in response")

const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// Decode extracts the first candidate that unmarshals into T.
func Decode[T any](text string) (T, error) {
	var zero T
	for _, candidate := range candidates(text) {
		var out T
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out, nil
		}
	}
	return zero, ErrNoJSON
}

// Parse extracts the first candidate that is valid JSON of any shape.
func Parse(text string) (any, bool) {
	v, err := Decode[any](text)
	if err != nil {
		return nil, false
	}
	return v, true
}

// candidates lists the substrings to try, in stage order. Stages that do not
// apply to the text are skipped.
func candidates(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	out := make([]string, 0, 4)
	out = append(out, text)
	if inner, ok := fenced(text); ok {
		out = append(out, inner)
	}
	if span, ok := between(text, "{", "}"); ok {
		out = append(out, span)
	}
	if span, ok := between(text, "[", "]"); ok {
		out = append(out, span)
	}
	return out
}

func fenced(text string) (string, bool) {
	start := strings.Index(text, fenceOpen)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fenceOpen):]
	end := strings.Index(rest, fenceClose)
	if end < 0 {
		return "", false
	}
	inner := rest[:end]
	if strings.TrimSpace(inner) == "" {
		return "", false
	}
	return inner, true
}

func between(text, open, close string) (string, bool) {
	start := strings.Index(text, open)
	end := strings.LastIndex(text, close)
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
