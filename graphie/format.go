package graphie

import (
	"regexp"
	"strings"
)

// Step ids and output keys may contain dots and hyphens, which are not valid
// in expr-lang identifiers. Expression conditions therefore evaluate against
// a flat namespace where "get-question.response" becomes
// "get_question_response"; FormatKey and FormatExpression apply the same
// rewrite to both sides.

var hyphenBetweenRe = regexp.MustCompile(`([^ ])-([^ ])`)

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func FormatKey(key string) string {
	key = strings.ReplaceAll(key, ".", "_")
	return hyphenBetweenRe.ReplaceAllString(key, "${1}_${2}")
}

// FormatExpression rewrites dots and hyphens to underscores outside string
// literals, leaving numeric literals (3.14) and quoted text untouched.
func FormatExpression(e string) string {
	result := []rune(e)
	inDoubleQuote := false
	inBacktick := false
	escapeNext := false

	for i, r := range result {
		if escapeNext {
			escapeNext = false
			continue
		}
		if inDoubleQuote && r == '\\' {
			escapeNext = true
			continue
		}
		if r == '"' && !inBacktick {
			inDoubleQuote = !inDoubleQuote
			continue
		}
		if r == '`' && !inDoubleQuote {
			inBacktick = !inBacktick
			continue
		}
		if inDoubleQuote || inBacktick {
			continue
		}

		switch r {
		case '.':
			// ?. is optional chaining and #. the lambda element accessor;
			// both pass through untouched.
			if i > 0 && (result[i-1] == '?' || result[i-1] == '#') {
				continue
			}
			if i > 0 && i < len(result)-1 && isDigit(result[i-1]) && isDigit(result[i+1]) {
				continue
			}
			result[i] = '_'
		case '-':
			// Hyphens flanked by spaces are subtraction; tight hyphens are
			// part of a step id.
			if i > 0 && i < len(result)-1 && result[i-1] != ' ' && result[i+1] != ' ' {
				result[i] = '_'
			}
		}
	}
	return string(result)
}
