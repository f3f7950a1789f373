package agent

import (
	"path"

	"ragagent/internal/domain"
)

// ToolFilter restricts which tools the agent is offered and may call. Rules
// are exact names or glob patterns, so "summary_tool_*" covers every
// per-document summary tool. A deny match always wins; a non-empty allow
// list admits only matching names. A nil *ToolFilter allows everything.
type ToolFilter struct {
	allow []string
	deny  []string
}

// NewToolFilter drops malformed patterns, which could never match.
func NewToolFilter(allowed, denied []string) *ToolFilter {
	return &ToolFilter{allow: validPatterns(allowed), deny: validPatterns(denied)}
}

func validPatterns(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err == nil && p != "" {
			out = append(out, p)
		}
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf.IsEmpty() {
		return true
	}
	if matchAny(tf.deny, name) {
		return false
	}
	return len(tf.allow) == 0 || matchAny(tf.allow, name)
}

// FilterDefinitions keeps the allowed definitions in their original order.
func (tf *ToolFilter) FilterDefinitions(defs []domain.ToolDefinition) []domain.ToolDefinition {
	if tf.IsEmpty() {
		return defs
	}
	out := make([]domain.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if tf.IsAllowed(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func (tf *ToolFilter) FilterNames(names []string) []string {
	if tf.IsEmpty() {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if tf.IsAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || (len(tf.allow) == 0 && len(tf.deny) == 0)
}
