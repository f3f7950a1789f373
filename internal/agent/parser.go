package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"ragagent/internal/domain"
)

// extractToolCallsFromContent recovers tool calls that a model wrote into its
// text instead of the structured tool_calls field. The JSON may be bare,
// code-fenced, or surrounded by prose, and may hold one call or an array.
func extractToolCallsFromContent(content string) []domain.ToolCall {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil
	}
	if calls := parseToolJSON(content); len(calls) > 0 {
		return calls
	}
	if start, end := findJSONBounds(content); start >= 0 {
		return parseToolJSON(content[start:end])
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 || !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return s
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

// findJSONBounds returns [start, end) of the first balanced JSON object or
// array in s, or (-1, -1).
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}
	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

// textToolCall is the loose shape models use when they write a call as text.
// Every tool here takes a single query, so a bare string argument or a
// top-level "query" field is accepted as that query.
type textToolCall struct {
	Name       string          `json:"name"`
	Tool       string          `json:"tool"`
	Function   string          `json:"function"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
	Args       json.RawMessage `json:"args"`
	Query      string          `json:"query"`
	Input      string          `json:"input"`
}

func (c textToolCall) name() string {
	for _, n := range []string{c.Name, c.Tool, c.Function} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

func (c textToolCall) arguments() map[string]any {
	for _, raw := range []json.RawMessage{c.Arguments, c.Parameters, c.Args} {
		if args := decodeArguments(raw); args != nil {
			return args
		}
	}
	for _, q := range []string{c.Query, c.Input} {
		if q != "" {
			return map[string]any{"query": q}
		}
	}
	return map[string]any{}
}

// decodeArguments accepts an object, a JSON-encoded object inside a string,
// or a plain string taken as the query.
func decodeArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		return obj
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	if json.Unmarshal([]byte(s), &obj) == nil {
		return obj
	}
	if s = strings.TrimSpace(s); s != "" {
		return map[string]any{"query": s}
	}
	return nil
}

func parseToolJSON(raw string) []domain.ToolCall {
	data := []byte(raw)
	if !json.Valid(data) {
		data = []byte(sanitizeJSONEscapes(raw))
	}

	var parsed []textToolCall
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		if json.Unmarshal(data, &parsed) != nil {
			return nil
		}
	} else {
		var one textToolCall
		if json.Unmarshal(data, &one) != nil {
			return nil
		}
		parsed = []textToolCall{one}
	}

	var calls []domain.ToolCall
	for _, c := range parsed {
		name := c.name()
		if name == "" {
			continue
		}
		calls = append(calls, domain.ToolCall{
			ID:        fmt.Sprintf("text_call_%d", len(calls)),
			Name:      name,
			Arguments: c.arguments(),
		})
	}
	return calls
}

// resolveToolName maps a model-written tool name onto a registered one when
// they differ only in case or separators, e.g. "Query-All-Documents" or
// "vectorToolTherapyGuide". Unmatched names come back unchanged.
func resolveToolName(name string, known []string) string {
	name = strings.TrimSpace(name)
	for _, k := range known {
		if k == name {
			return k
		}
	}
	want := foldToolName(name)
	for _, k := range known {
		if foldToolName(k) == want {
			return k
		}
	}
	return name
}

func foldToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// stripRolePrefix drops a leaked "assistant:" or "assistant\n" prefix.
func stripRolePrefix(content string) string {
	const role = "assistant"
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= len(role) || !strings.EqualFold(trimmed[:len(role)], role) {
		return trimmed
	}
	switch trimmed[len(role)] {
	case ':', '\n':
		return strings.TrimSpace(trimmed[len(role)+1:])
	}
	return trimmed
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does
// not allow, such as \% or \!, inside string literals.
func sanitizeJSONEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\\' && i+1 < len(s):
			if strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
