package annotator

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"emafutures/internal/model"
)

// ParseNarrative pulls the first JSON object out of free model text and
// reads the optional narrative keys from it. Code fences and prose around
// the object are ignored; keys of the wrong type are skipped. An object
// with none of the keys is malformed.
func ParseNarrative(text string) (model.Narrative, error) {
	obj, ok := extractObject(text)
	if !ok {
		return model.Narrative{}, fmt.Errorf("%w: no JSON object", ErrMalformed)
	}

	str := func(key string) string {
		r := gjson.Get(obj, key)
		if r.Type != gjson.String {
			return ""
		}
		return strings.TrimSpace(r.String())
	}

	n := model.Narrative{
		Summary:       str("summary"),
		TrendAnalysis: str("trend_analysis"),
		EntryAnalysis: str("entry_analysis"),
		RiskAnalysis:  str("risk_analysis"),
	}
	if n == (model.Narrative{}) {
		return n, fmt.Errorf("%w: no narrative keys", ErrMalformed)
	}
	return n, nil
}

// extractObject returns the first balanced {...} span that is valid JSON.
func extractObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace finds the closing brace of the object opening at start,
// skipping braces inside string literals.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
