package search

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// tokenRegex matches alphanumeric runs; dots, dashes and slashes in coordinates split words.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize splits coordinate-like text ("org.apache.commons", "commons-lang3", "getUserById").
// It handles camelCase, PascalCase, snake_case and drops single letters; digits are kept
// so version segments stay searchable. All tokens are lowercased.
func Tokenize(text string) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		parts := SplitIdentifier(word)
		for _, t := range parts {
			lower := strings.ToLower(t)
			if len([]rune(lower)) >= 2 || isDigits(lower) {
				tokens = append(tokens, lower)
			}
		}
		// Keep compound words whole too so exact names still match.
		if len(parts) > 1 {
			tokens = append(tokens, strings.ToLower(word))
		}
	}

	return tokens
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// SplitIdentifier splits snake_case and camelCase identifiers.
func SplitIdentifier(token string) []string {
	var result []string

	if strings.Contains(token, "_") {
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}

	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
// Examples:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPClient" -> ["HTTP", "Client"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// DocumentText extracts the searchable text of a serialized document.
// JSON documents contribute their string and number leaves in key order; anything else is used as is.
func DocumentText(body string) string {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}

	var parts []string
	collectText(v, &parts)
	return strings.Join(parts, " ")
}

func collectText(v any, parts *[]string) {
	switch t := v.(type) {
	case string:
		if t != "" {
			*parts = append(*parts, t)
		}
	case json.Number:
		*parts = append(*parts, t.String())
	case []any:
		for _, item := range t {
			collectText(item, parts)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(t[k], parts)
		}
	}
}
