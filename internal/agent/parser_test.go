package agent

import "testing"

// --- extractToolCallsFromContent ---

func TestExtractToolCalls_SingleObject(t *testing.T) {
	input := `{"name": "query_all_documents", "arguments": {"query": "treat depression"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "query_all_documents" {
		t.Fatalf("expected 'query_all_documents', got %q", calls[0].Name)
	}
	if calls[0].Arguments["query"] != "treat depression" {
		t.Fatalf("expected 'treat depression', got %v", calls[0].Arguments["query"])
	}
}

func TestExtractToolCalls_ParametersField(t *testing.T) {
	input := `{"name": "summary_tool_guide", "parameters": {"query": "overview"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["query"] != "overview" {
		t.Fatalf("expected query, got %v", calls[0].Arguments)
	}
}

func TestExtractToolCalls_Array(t *testing.T) {
	input := `[{"name": "vector_tool_a", "arguments": {"query": "x"}}, {"name": "vector_tool_b", "arguments": {"query": "y"}}]`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
}

func TestExtractToolCalls_CodeFenceWrapped(t *testing.T) {
	input := "```json\n{\"name\": \"vector_tool_guide\", \"arguments\": {\"query\": \"hi\"}}\n```"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call from code fence, got %d", len(calls))
	}
	if calls[0].Name != "vector_tool_guide" {
		t.Fatalf("expected 'vector_tool_guide', got %q", calls[0].Name)
	}
}

func TestExtractToolCalls_PlainText(t *testing.T) {
	input := "Sure, let me help you with that!"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for plain text, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyName(t *testing.T) {
	input := `{"name": "", "arguments": {}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty name, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyString(t *testing.T) {
	calls := extractToolCallsFromContent("")
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty input, got %d", len(calls))
	}
}

func TestExtractToolCalls_NilArguments(t *testing.T) {
	input := `{"name": "query_all_documents"}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments should be initialized to empty map")
	}
}

// --- sanitizeJSONEscapes ---

func TestSanitizeJSONEscapes_ValidJSON(t *testing.T) {
	input := `{"key": "value with \"quotes\" and \\backslash"}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("valid JSON should not change:\n  got:  %q\n  want: %q", result, input)
	}
}

func TestSanitizeJSONEscapes_InvalidEscape(t *testing.T) {
	// \% is not a JSON escape, so the backslash is dropped
	input := `{"key": "100\% done"}`
	result := sanitizeJSONEscapes(input)
	expected := `{"key": "100% done"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestSanitizeJSONEscapes_MultipleInvalid(t *testing.T) {
	input := `{"msg": "Hello \World \! \?"}`
	result := sanitizeJSONEscapes(input)
	expected := `{"msg": "Hello World ! ?"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestSanitizeJSONEscapes_PreservesValidEscapes(t *testing.T) {
	input := `{"text": "line1\nline2\ttab"}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("valid escapes should be preserved: got %q", result)
	}
}

func TestSanitizeJSONEscapes_EmptyString(t *testing.T) {
	result := sanitizeJSONEscapes("")
	if result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestSanitizeJSONEscapes_NoStrings(t *testing.T) {
	input := `{}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("expected unchanged, got %q", result)
	}
}

// --- extractToolCallsFromContent with invalid escapes ---

func TestExtractToolCalls_WithInvalidEscapes(t *testing.T) {
	// Simulates LLM returning JSON with \% inside
	input := `{"name": "query_all_documents", "arguments": {"query": "100\% sure"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after sanitization, got %d", len(calls))
	}
	if calls[0].Name != "query_all_documents" {
		t.Fatalf("expected 'query_all_documents', got %q", calls[0].Name)
	}
}

// --- argument shapes ---

func TestExtractToolCalls_StringArgumentIsQuery(t *testing.T) {
	calls := extractToolCallsFromContent(`{"name": "vector_tool_guide", "arguments": "sleep hygiene"}`)
	if len(calls) != 1 || calls[0].Arguments["query"] != "sleep hygiene" {
		t.Fatalf("expected string argument as query, got %+v", calls)
	}
}

func TestExtractToolCalls_EncodedArguments(t *testing.T) {
	calls := extractToolCallsFromContent(`{"name": "vector_tool_guide", "arguments": "{\"query\": \"worry time\"}"}`)
	if len(calls) != 1 || calls[0].Arguments["query"] != "worry time" {
		t.Fatalf("expected decoded arguments, got %+v", calls)
	}
}

func TestExtractToolCalls_TopLevelQueryAndToolKey(t *testing.T) {
	calls := extractToolCallsFromContent(`I will search. {"tool": "query_all_documents", "query": "panic attacks"} One moment.`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "query_all_documents" || calls[0].Arguments["query"] != "panic attacks" {
		t.Fatalf("unexpected call %+v", calls[0])
	}
}

func TestExtractToolCalls_ArrayIDsDistinct(t *testing.T) {
	calls := extractToolCallsFromContent(`[{"name": "a", "query": "x"}, {"name": "", "query": "y"}, {"name": "b", "query": "z"}]`)
	if len(calls) != 2 {
		t.Fatalf("expected 2 named calls, got %d", len(calls))
	}
	if calls[0].ID == calls[1].ID {
		t.Fatalf("expected distinct ids, got %q twice", calls[0].ID)
	}
}

func TestFindJSONBounds_BracesInsideStrings(t *testing.T) {
	s := `note {"name": "a", "query": "use } and { freely"} tail`
	start, end := findJSONBounds(s)
	if start < 0 || s[start:end] != `{"name": "a", "query": "use } and { freely"}` {
		t.Fatalf("unexpected bounds %d..%d", start, end)
	}
	if start, _ := findJSONBounds("no json here"); start != -1 {
		t.Fatalf("expected -1, got %d", start)
	}
}

// --- resolveToolName ---

func TestResolveToolName_CaseAndSeparators(t *testing.T) {
	known := []string{"query_all_documents", "vector_tool_therapy_guide", "summary_tool_therapy_guide"}
	cases := map[string]string{
		"query_all_documents":       "query_all_documents",
		"queryAllDocuments":         "query_all_documents",
		"Query-All-Documents":       "query_all_documents",
		"vector-tool-therapy-guide": "vector_tool_therapy_guide",
		" summaryToolTherapyGuide ": "summary_tool_therapy_guide",
		"web_search":                "web_search",
	}
	for in, want := range cases {
		if got := resolveToolName(in, known); got != want {
			t.Fatalf("resolveToolName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveToolName_NoKnownTools(t *testing.T) {
	if got := resolveToolName("vector_tool_x", nil); got != "vector_tool_x" {
		t.Fatalf("expected unchanged name, got %q", got)
	}
}

// --- stripRolePrefix ---

func TestStripRolePrefix(t *testing.T) {
	if got := stripRolePrefix("Assistant: Behavioral activation."); got != "Behavioral activation." {
		t.Fatalf("unexpected %q", got)
	}
	if got := stripRolePrefix("assistant\nSleep restriction helps."); got != "Sleep restriction helps." {
		t.Fatalf("unexpected %q", got)
	}
	if got := stripRolePrefix("Assistants can help."); got != "Assistants can help." {
		t.Fatalf("unexpected %q", got)
	}
}
