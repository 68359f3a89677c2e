// Package fixture provides a small warehouse-shaped MCP server backed by a
// YAML table catalogue. It stands in for the real sandbox image in local
// development and tests.
package fixture

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// Column describes one table column.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Table is a named table with rows.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
	Rows        [][]any  `yaml:"rows"`
}

// Catalogue is the database the server answers from.
type Catalogue struct {
	Database string  `yaml:"database"`
	Tables   []Table `yaml:"tables"`
}

// ParseCatalogue decodes a YAML catalogue.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	for _, t := range c.Tables {
		for i, row := range t.Rows {
			if len(row) != len(t.Columns) {
				return nil, fmt.Errorf("table %s row %d: %d values for %d columns", t.Name, i, len(row), len(t.Columns))
			}
		}
	}
	return &c, nil
}

// LoadCatalogue reads a catalogue file. An empty path returns the built-in one.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return DefaultCatalogue(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalogue(data)
}

// DefaultCatalogue returns the built-in catalogue.
func DefaultCatalogue() *Catalogue {
	c, err := ParseCatalogue(defaultCatalogue)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalogue) table(name string) (*Table, bool) {
	for i := range c.Tables {
		if strings.EqualFold(c.Tables[i].Name, name) {
			return &c.Tables[i], true
		}
	}
	return nil, false
}

// NewServer creates the MCP server for catalogue.
func NewServer(c *Catalogue) *server.MCPServer {
	s := server.NewMCPServer(
		"warehouse-fixture",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	h := &handlers{catalogue: c}

	s.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("Lists the tables in the connected database"),
	), h.listTables)

	s.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription("Returns the columns of a table"),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Table name"),
		),
	), h.describeTable)

	s.AddTool(mcp.NewTool("run_query",
		mcp.WithDescription("Runs a read-only SQL query and returns rows as JSON"),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SELECT statement to run"),
		),
	), h.runQuery)

	return s
}

type handlers struct {
	catalogue *Catalogue
}

func (h *handlers) listTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := make([]string, 0, len(h.catalogue.Tables))
	for _, t := range h.catalogue.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return jsonResult(map[string]any{"database": h.catalogue.Database, "tables": names})
}

func (h *handlers) describeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, ok := h.catalogue.table(name)
	if !ok {
		return mcp.NewToolResultError(missingRelation(name)), nil
	}
	return jsonResult(map[string]any{"table": t.Name, "description": t.Description, "columns": t.Columns})
}

var selectRe = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s+([A-Za-z_][\w.]*)\s*(?:limit\s+(\d+))?\s*;?\s*$`)

func (h *handlers) runQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return mcp.NewToolResultError("unsupported statement: only SELECT <columns> FROM <table> [LIMIT n] is supported"), nil
	}
	projection, tableName, limitText := strings.TrimSpace(m[1]), m[2], m[3]
	if i := strings.LastIndex(tableName, "."); i >= 0 {
		tableName = tableName[i+1:]
	}

	t, ok := h.catalogue.table(tableName)
	if !ok {
		return mcp.NewToolResultError(missingRelation(tableName)), nil
	}

	if strings.EqualFold(strings.ReplaceAll(projection, " ", ""), "count(*)") {
		return jsonResult([]map[string]any{{"count": len(t.Rows)}})
	}

	cols, err := t.project(projection)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := len(t.Rows)
	if limitText != "" {
		n, _ := strconv.Atoi(limitText)
		if n < limit {
			limit = n
		}
	}

	rows := make([]map[string]any, 0, limit)
	for _, row := range t.Rows[:limit] {
		out := make(map[string]any, len(cols))
		for _, ci := range cols {
			out[t.Columns[ci].Name] = row[ci]
		}
		rows = append(rows, out)
	}
	return jsonResult(rows)
}

// project resolves a column list to column indexes.
func (t *Table) project(projection string) ([]int, error) {
	if projection == "*" {
		idx := make([]int, len(t.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	var idx []int
	for _, name := range strings.Split(projection, ",") {
		name = strings.TrimSpace(name)
		found := -1
		for i, c := range t.Columns {
			if strings.EqualFold(c.Name, name) {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("column %q does not exist in relation %q", name, t.Name)
		}
		idx = append(idx, found)
	}
	return idx, nil
}

func missingRelation(name string) string {
	return fmt.Sprintf("relation %q does not exist", name)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
