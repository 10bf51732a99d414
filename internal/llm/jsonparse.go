package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codeFenceRe strips a surrounding ```json ... ``` or ``` ... ``` block,
// grounded on other_examples' koshedutech-binance-trading-app llm-analyzer
// stripMarkdownCodeBlock helper.
var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ExtractJSONObject defensively recovers a JSON object from an LLM response
// that may be wrapped in code fences or surrounded by prose (spec §4.1,
// Structured-JSON protocol): strip code fences, then scan for the outermost
// balanced `{...}` span and attempt to parse it.
func ExtractJSONObject(raw string) (map[string]any, error) {
	stripped := stripCodeFence(raw)

	start := strings.IndexByte(stripped, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escape := false
	end := -1
	for i := start; i < len(stripped); i++ {
		c := stripped[i]
		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, fmt.Errorf("unbalanced JSON object in response")
	}

	candidate := stripped[start : end+1]
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return obj, nil
}

// CompletenessRatio reports the fraction of expectedKeys present in obj, used
// by the agent-side JSON completeness gate (spec §4.2).
func CompletenessRatio(obj map[string]any, expectedKeys []string) float64 {
	if len(expectedKeys) == 0 {
		return 1
	}
	found := 0
	for _, k := range expectedKeys {
		if _, ok := obj[k]; ok {
			found++
		}
	}
	return float64(found) / float64(len(expectedKeys))
}

// BracesBalanced reports whether raw has matched, non-string brace nesting —
// the agent-side completeness gate's first check (spec §4.2: "Brace balance
// on the raw response").
func BracesBalanced(raw string) bool {
	depth := 0
	inString := false
	escape := false
	for _, c := range raw {
		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// EstimateMaxTokens scales the requested max output tokens by the number of
// expected schema fields (spec §4.1, Max-tokens scaling: "≈ fields × 50 + 500").
func EstimateMaxTokens(fieldCount int) int {
	return fieldCount*50 + 500
}
