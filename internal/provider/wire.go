package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ragagent/internal/domain"
)

// The OpenAI and Ollama chat APIs share the function-tool shapes below. They
// differ only in how tool arguments travel: OpenAI sends a JSON-encoded
// string, Ollama a JSON object.

type functionTool struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

func functionTools(defs []domain.ToolDefinition) []functionTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]functionTool, len(defs))
	for i, d := range defs {
		out[i] = functionTool{Type: "function", Function: functionSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}}
	}
	return out
}

// wireMessages converts a conversation. stringArgs encodes tool arguments as
// a JSON string, as OpenAI expects.
func wireMessages(msgs []domain.Message, stringArgs bool) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			wm.ToolCallID = m.ToolCallID
			wm.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil || tc.Arguments == nil {
				args = []byte("{}")
			}
			if stringArgs {
				args, _ = json.Marshal(string(args))
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, wm)
	}
	return out
}

// domainToolCalls converts returned calls, filling ids the server left out.
func domainToolCalls(calls []wireToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, len(calls))
	for i, tc := range calls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out[i] = domain.ToolCall{ID: id, Name: tc.Function.Name, Arguments: decodeToolArguments(tc.Function.Arguments)}
	}
	return out
}

// decodeToolArguments accepts a JSON object or a string holding one. Anything
// else decodes to an empty map.
func decodeToolArguments(raw json.RawMessage) map[string]any {
	var args map[string]any
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			_ = json.Unmarshal([]byte(s), &args)
		}
	} else if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	if args == nil {
		args = make(map[string]any)
	}
	return args
}

// probe issues a GET used by health checks. 401 is reported as a bad key.
func probe(ctx context.Context, client *http.Client, url, apiKey, service string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", service, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: invalid API key", service)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s returned status %d", service, resp.StatusCode)
	}
	return nil
}
