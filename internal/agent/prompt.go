package agent

import (
	"strings"

	"ragagent/internal/domain"
)

// DocumentAgentPrompt is the system prompt of the document analysis agent.
const DocumentAgentPrompt = `You are an intelligent document analysis agent with access to multiple types of tools:

1. A comprehensive query tool that searches across ALL documents
2. File-specific vector search tools for targeted document queries
3. File-specific summary tools for document overviews

Strategy for tool usage:
- Use the 'query_all_documents' tool for broad questions spanning multiple documents
- Use file-specific vector tools when you need precise information from a particular document
- Use summary tools to get overviews of specific documents
- You can combine results from multiple tools to provide comprehensive answers

Always cite which documents or sources your information comes from.`

// PromptBuilder assembles the system prompt and the message list for a run.
type PromptBuilder struct {
	base  string
	extra string
}

func NewPromptBuilder(base, extra string) *PromptBuilder {
	if strings.TrimSpace(base) == "" {
		base = DocumentAgentPrompt
	}
	return &PromptBuilder{base: base, extra: extra}
}

// SystemPrompt returns the base prompt followed by the available tools and
// any custom instructions.
func (p *PromptBuilder) SystemPrompt(tools []domain.ToolDefinition) string {
	sections := []string{p.base}

	if len(tools) > 0 {
		var sb strings.Builder
		sb.WriteString("## Available Tools")
		for _, t := range tools {
			sb.WriteString("\n- ")
			sb.WriteString(t.Name)
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		sections = append(sections, sb.String())
	}

	if p.extra != "" {
		sections = append(sections, "## Custom Instructions\n"+p.extra)
	}
	return strings.Join(sections, "\n\n")
}

// BuildMessages constructs [system, user] for the first LLM call of a run.
func (p *PromptBuilder) BuildMessages(query string, tools []domain.ToolDefinition) []domain.Message {
	return []domain.Message{
		{Role: "system", Content: p.SystemPrompt(tools)},
		{Role: "user", Content: query},
	}
}

func (p *PromptBuilder) AddAssistantMessage(messages []domain.Message, content string, toolCalls []domain.ToolCall) []domain.Message {
	msg := domain.Message{Role: "assistant", Content: content}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	return append(messages, msg)
}

func (p *PromptBuilder) AddToolResult(messages []domain.Message, toolCallID, toolName, result string) []domain.Message {
	return append(messages, domain.Message{
		Role:       "tool",
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Content:    result,
	})
}
