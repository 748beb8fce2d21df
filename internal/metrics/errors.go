package metrics

import (
	"fmt"
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	"transport":                         "Transport error",
	"malformed_response":                "Malformed response",
	"http_status":                       "HTTP error response",
	"cancelled":                         "Cancelled by stop",
	"unknown":                           "Unknown error",
	"*inference.TransportError":         "Transport error",
	"*inference.MalformedResponseError": "Malformed response",
	"*inference.StatusError":            "HTTP error response",
	"*url.Error":                        "Request URL error",
	"*context.deadlineExceededError":    "Context deadline exceeded",
}

// FriendlyErrorName returns a human-friendly label for a failure kind or a Go
// error type name. Unrecognized snake_case kinds and CamelCase type names are
// split into words.
func FriendlyErrorName(name string) string {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return "Unknown error"
	}
	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}
	if alias, ok := friendlyAliases["*"+strings.TrimPrefix(cleaned, "*")]; ok {
		return alias
	}

	if strings.Contains(cleaned, "_") && strings.ToLower(cleaned) == cleaned {
		words := strings.Split(cleaned, "_")
		words[0] = capitalize(words[0])
		return strings.Join(words, " ")
	}

	cleaned = strings.TrimPrefix(cleaned, "*")
	if idx := strings.LastIndex(cleaned, "/"); idx != -1 {
		cleaned = cleaned[idx+1:]
	}

	pkg := ""
	typeName := cleaned
	if idx := strings.Index(typeName, "."); idx != -1 {
		pkg = typeName[:idx]
		typeName = typeName[idx+1:]
	}

	pretty := humanizeTypeName(typeName)
	if pretty == "" {
		pretty = typeName
	}
	if pkg == "context" && strings.Contains(strings.ToLower(pretty), "deadline") {
		return "Context deadline exceeded"
	}
	if pkg != "" && pkg != "main" {
		return fmt.Sprintf("%s (%s)", pretty, pkg)
	}
	return pretty
}

func humanizeTypeName(name string) string {
	if name == "" {
		return ""
	}

	var words []string
	var current []rune
	runes := []rune(name)

	appendWord := func() {
		if len(current) == 0 {
			return
		}
		word := string(current)
		if isAllUpper(word) {
			words = append(words, word)
		} else {
			words = append(words, capitalize(word))
		}
		current = current[:0]
	}

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)) {
				appendWord()
			} else if unicode.IsDigit(r) && !unicode.IsDigit(prev) {
				appendWord()
			}
		}
		current = append(current, r)
	}
	appendWord()

	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	runes := []rune(lower)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
