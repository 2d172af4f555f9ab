package ai

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformed is returned when no label can be recovered from a response.
var ErrMalformed = errors.New("malformed classification response")

const defaultConfidence = 0.5

type classificationJSON struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// ParseClassification extracts a Classification from a model response.
// It accepts, in order: a JSON object (optionally inside a markdown
// fence or surrounded by prose), "label: X" lines, or a bare vocabulary
// word. Labels outside the vocabulary become GRAY.
func ParseClassification(text string) (Classification, error) {
	body := stripFences(text)

	if c, ok := parseJSON(body); ok {
		return c, nil
	}
	if obj := firstObject(body); obj != "" {
		if c, ok := parseJSON(obj); ok {
			return c, nil
		}
	}
	if c, ok := parseLines(body); ok {
		return c, nil
	}
	if l, ok := firstVocabularyWord(body); ok {
		return Classification{Label: l, Confidence: defaultConfidence}, nil
	}
	return Classification{}, ErrMalformed
}

// stripFences removes a surrounding ``` or ```json fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseJSON(s string) (Classification, bool) {
	var raw classificationJSON
	if err := json.Unmarshal([]byte(s), &raw); err != nil || raw.Label == "" {
		return Classification{}, false
	}
	conf := defaultConfidence
	if raw.Confidence != nil {
		conf = clamp(*raw.Confidence)
	}
	return Classification{Label: ParseLabel(raw.Label), Confidence: conf}, true
}

func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// parseLines handles responses like "Label: URGENT\nConfidence: 0.8".
func parseLines(s string) (Classification, bool) {
	var (
		c        = Classification{Confidence: defaultConfidence}
		hasLabel bool
	)
	for _, line := range strings.Split(s, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Trim(strings.TrimSpace(key), `"'*-# `))
		value = strings.Trim(strings.TrimSpace(value), `"',.*`)

		switch key {
		case "label", "classification", "category":
			if !hasLabel {
				c.Label = ParseLabel(value)
				hasLabel = true
			}
		case "confidence":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				c.Confidence = clamp(f)
			}
		}
	}
	return c, hasLabel
}

func firstVocabularyWord(s string) (Label, bool) {
	words := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		upper := strings.ToUpper(w)
		for _, l := range Labels {
			if upper == string(l) {
				return l, true
			}
		}
	}
	return "", false
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
