// Package jsonextract recovers a JSON object or array from free-form model output.
//
// Model replies are often wrapped in markdown code fences or surrounded by prose
// even when a structured reply was requested. Extract strips fence markers,
// isolates the outermost object or array literal and parses it. It never guesses:
// if the cleaned text is not a single valid JSON object or array, there is no value.
package jsonextract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

var (
	// A fence opener at any line start: ``` optionally tagged json (any case),
	// plus the whitespace after it.
	leadingFence = regexp.MustCompile("(?m)^```(?i:json)?\\s*")
	// A fence closer followed only by whitespace up to a line end.
	trailingFence = regexp.MustCompile("(?m)```\\s*$")
	// Greedy: first { to last }, or first [ to last ], across newlines.
	embeddedValue = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
)

// Logger is the logging capability used to report extraction failures.
// *slog.Logger satisfies it.
type Logger interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
}

// Clean applies the textual clean-up steps without parsing: trim, strip fence
// markers, trim again and, when the text does not already open with { or [,
// narrow it to the greedy object-or-array span if one exists.
func Clean(raw string) string {
	cleaned := leadingFence.ReplaceAllString(strings.TrimSpace(raw), "")
	cleaned = trailingFence.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		if m := embeddedValue.FindStringSubmatch(cleaned); m != nil {
			cleaned = m[1]
		}
	}
	return cleaned
}

// Extract returns the JSON object or array contained in raw. Objects decode to
// map[string]any, arrays to []any and numbers to json.Number. When nothing
// parseable is found the failure is logged with the raw text, the cleaned text
// and the parser error, and ok is false.
func Extract(ctx context.Context, logger Logger, raw string) (value any, ok bool) {
	cleaned := Clean(raw)

	v, err := decode(cleaned)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Log(ctx, slog.LevelWarn, "JSON parsing failed",
			"raw", raw,
			"cleaned", cleaned,
			"error", err.Error(),
		)
		return nil, false
	}
	return v, true
}

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("multiple JSON values")
		}
		return nil, fmt.Errorf("trailing data: %w", err)
	}

	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	case nil:
		return nil, errors.New("top-level value is null")
	default:
		return nil, fmt.Errorf("top-level value is a %T, want object or array", v)
	}
}
