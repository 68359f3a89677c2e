package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergioferragut/data-chat/internal/tool"
)

// SchemaUnavailable stands in for the schema text when none could be loaded.
const SchemaUnavailable = "Schema information is not available. Use the SQL tools to list tables before querying."

// Instruction is the system prompt given to every session's agent.
type Instruction struct {
	Database string
	// Schema describes the tables the agent may query.
	Schema string
	// Extra is appended after the guidelines.
	Extra string
}

// Build renders the instruction text.
func (in Instruction) Build() string {
	database := in.Database
	if database == "" {
		database = "data_chat_demo"
	}
	schemaText := strings.TrimSpace(in.Schema)
	if schemaText == "" {
		schemaText = SchemaUnavailable
	}

	var parts []string
	parts = append(parts, strings.Join([]string{
		"You are a helpful assistant that translates natural language questions into data insights.",
		"You are working on top of the PostgreSQL-compliant data warehouse Firebolt.",
	}, "\n"))

	parts = append(parts, strings.Join([]string{
		"You have access to two types of tools:",
		fmt.Sprintf("1. Firebolt SQL tools through the MCP server - Use these to query structured data tables in the %s database.", database),
		fmt.Sprintf("2. Reference knowledge tool called %s - Use this to find information that might help answer the user's question.", tool.RetrievalToolID),
	}, "\n"))

	parts = append(parts, "Database Schema:\n"+schemaText)

	parts = append(parts, strings.Join([]string{
		"Important guidelines:",
		fmt.Sprintf("- Only query tables that exist in the %s database (see schema above).", database),
		"- Use the exact table and column names as shown in the schema.",
		"- If a query fails, don't show the error message to the user. Instead, try to fix it yourself by checking the available tables and columns in the schema above.",
		fmt.Sprintf("- Do not query ext_pdf_content, pdf_semantic_knowledge, or pdf_semantic_index tables directly. Use the %s tool instead.", tool.RetrievalToolID),
		"- When writing SQL queries, ensure column names match exactly as shown in the schema (case-sensitive).",
	}, "\n"))

	if extra := strings.TrimSpace(in.Extra); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n")
}

// SchemaSource produces the schema text for the instruction. It may use the
// session's tools, which are already connected when it runs.
type SchemaSource interface {
	Schema(ctx context.Context, tools *tool.Set) (string, error)
}

// StaticSchema is schema text known ahead of time, for example read from a
// file at startup.
type StaticSchema string

func (s StaticSchema) Schema(ctx context.Context, tools *tool.Set) (string, error) {
	return string(s), nil
}

// ToolSchema asks one of the session's tools for the schema and uses its
// output verbatim.
type ToolSchema struct {
	ToolID string
	Args   json.RawMessage
}

func (s ToolSchema) Schema(ctx context.Context, tools *tool.Set) (string, error) {
	t, ok := tools.Get(s.ToolID)
	if !ok {
		return "", fmt.Errorf("schema tool %q not available", s.ToolID)
	}
	args := s.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := t.Execute(ctx, args, &tool.Context{})
	if err != nil {
		return "", fmt.Errorf("schema tool %s: %w", s.ToolID, err)
	}
	if res.IsError {
		return "", fmt.Errorf("schema tool %s: %s", s.ToolID, res.Output)
	}
	return res.Output, nil
}
