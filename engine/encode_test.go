package engine

import "testing"

func TestExtractJSONFromProse(t *testing.T) {
	raw := `Sure, here is the plan you asked for:
{"steps":[{"id":"step-1","tool":"mail","query":"find {urgent} mail"}]}
Let me know if you need anything else.`

	parsed, err := decodeJSON[llmDecomposition](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Steps) != 1 || parsed.Steps[0].Tool != "mail" {
		t.Fatalf("unexpected decode result: %+v", parsed)
	}
	if parsed.Steps[0].Query != "find {urgent} mail" {
		t.Fatalf("braces inside strings must not confuse the scanner: %q", parsed.Steps[0].Query)
	}
}

func TestExtractJSONFromCodeFence(t *testing.T) {
	raw := "```json\n{\"confidence\":0.8,\"expected_outcome\":\"list of emails\"}\n```"

	parsed, err := decodeJSON[llmReasoning](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Confidence != 0.8 || parsed.ExpectedOutcome != "list of emails" {
		t.Fatalf("unexpected decode result: %+v", parsed)
	}
}

func TestExtractJSONHandlesEscapedQuotes(t *testing.T) {
	raw := `{"expected_outcome":"a \"quoted\" value with } inside","confidence":0.5}`

	parsed, err := decodeJSON[llmReasoning](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.ExpectedOutcome != `a "quoted" value with } inside` {
		t.Fatalf("escape handling broken: %q", parsed.ExpectedOutcome)
	}
}

func TestExtractJSONRejectsNonJSON(t *testing.T) {
	if _, err := decodeJSON[llmReasoning]("I cannot answer that."); err == nil {
		t.Fatalf("expected an error for output without JSON")
	}
	if _, err := decodeJSON[llmReasoning]("{\"unterminated\": true"); err == nil {
		t.Fatalf("expected an error for unbalanced JSON")
	}
}
