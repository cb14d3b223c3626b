package graphie

import (
	"testing"
)

func TestFormatKey(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"get-question", "get_question"},
		{"response-get-question", "response_get_question"},
		{"generate-answer.response", "generate_answer_response"},
		{"root", "root"},
		{"a-b-c-d-e", "a_b_c_d_e"},
		{"classify.result.category", "classify_result_category"},
	}

	for _, tc := range testCases {
		actual := FormatKey(tc.input)
		if actual != tc.expected {
			t.Errorf("FormatKey(%q) = %q, expected %q", tc.input, actual, tc.expected)
		}
	}
}

func TestFormatExpression(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		// Basic dot to underscore conversion
		{"a.b", "a_b"},
		{"get-question.response", "get_question_response"},
		{"classify.result.category == \"billing\"", "classify_result_category == \"billing\""},

		// Numeric literals keep their dot
		{"score.value > 0.5", "score_value > 0.5"},
		{"3.14 < total.amount", "3.14 < total_amount"},

		// Spaced hyphens are subtraction, tight hyphens belong to step ids
		{"count - 1 > 0", "count - 1 > 0"},
		{"get-question.cycle > 2", "get_question_cycle > 2"},

		// Optional chaining ?. and lambda accessor #. pass through
		{"user?.name", "user?.name"},
		{"filter(items, {#.Age > 18})", "filter(items, {#.Age > 18})"},

		// String literals are untouched
		{`reply.text == "a.b-c"`, `reply_text == "a.b-c"`},
	}

	for _, tc := range testCases {
		result := FormatExpression(tc.input)
		if result != tc.expected {
			t.Errorf("FormatExpression(%q) = %q; want %q", tc.input, result, tc.expected)
		}
	}
}
