package testutil

import (
	"encoding/json"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario scripts the mock model: which prompts get which answer, when it
// calls a sandbox tool and what it says once the tool has answered.
type Scenario struct {
	Settings  ScenarioSettings `yaml:"settings"`
	Fallback  string           `yaml:"fallback"`
	Responses []ResponseRule   `yaml:"responses"`
	ToolRules []ToolRule       `yaml:"tool_rules"`
	// AfterTool answers requests whose last message is a tool result. An
	// answer containing {{output}} has the tool output substituted in.
	AfterTool []ResponseRule `yaml:"after_tool"`
}

// ScenarioSettings tunes streaming.
type ScenarioSettings struct {
	ChunkDelayMS int `yaml:"chunk_delay_ms"`
}

// ResponseRule maps a prompt to a text answer.
type ResponseRule struct {
	Name     string      `yaml:"name"`
	Match    MatchConfig `yaml:"match"`
	Response string      `yaml:"response"`
	Priority int         `yaml:"priority"`
}

// MatchConfig decides whether a prompt matches. Comparisons ignore case.
type MatchConfig struct {
	Contains    string   `yaml:"contains"`
	ContainsAll []string `yaml:"contains_all"`
	ContainsAny []string `yaml:"contains_any"`
	Exact       string   `yaml:"exact"`
	// Always matches every prompt; used for after_tool catch-alls.
	Always bool `yaml:"always"`
}

// ToolRule makes the model call Tool when the prompt matches and the tool
// was offered.
type ToolRule struct {
	Name      string            `yaml:"name"`
	Match     MatchConfig       `yaml:"match"`
	Tool      string            `yaml:"tool"`
	ID        string            `yaml:"id"`
	Arguments map[string]string `yaml:"arguments"`
	Response  string            `yaml:"response"`
	Priority  int               `yaml:"priority"`
}

// ArgumentsJSON renders the tool arguments.
func (r *ToolRule) ArgumentsJSON() string {
	args := r.Arguments
	if args == nil {
		args = map[string]string{}
	}
	data, _ := json.Marshal(args)
	return string(data)
}

// DefaultScenario answers questions about the fixture catalogue.
func DefaultScenario() *Scenario {
	return &Scenario{
		Settings: ScenarioSettings{ChunkDelayMS: 5},
		Fallback: "I can answer questions about the customers and orders tables.",
		Responses: []ResponseRule{
			{
				Name:     "greeting",
				Match:    MatchConfig{ContainsAny: []string{"hello", "hi there"}},
				Response: "Hello! Ask me about your data.",
				Priority: 1,
			},
		},
		ToolRules: []ToolRule{
			{
				Name:      "count-customers",
				Match:     MatchConfig{ContainsAll: []string{"how many", "customers"}},
				Tool:      "run_query",
				ID:        "call_query_001",
				Arguments: map[string]string{"sql": "SELECT customer_id FROM customers"},
				Priority:  10,
			},
			{
				Name:      "missing-table",
				Match:     MatchConfig{Contains: "invoices"},
				Tool:      "run_query",
				ID:        "call_query_002",
				Arguments: map[string]string{"sql": "SELECT * FROM invoices"},
				Priority:  10,
			},
		},
		AfterTool: []ResponseRule{
			{
				Name:     "relation-missing",
				Match:    MatchConfig{Contains: "does not exist"},
				Response: "That table does not exist in this database.",
				Priority: 10,
			},
			{
				Name:     "rows",
				Match:    MatchConfig{Always: true},
				Response: "The query returned: {{output}}",
			},
		},
	}
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveScenario writes s as YAML.
func SaveScenario(s *Scenario, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Matches reports whether prompt satisfies the rule.
func (m *MatchConfig) Matches(prompt string) bool {
	if m.Always {
		return true
	}
	lower := strings.ToLower(prompt)

	if m.Exact != "" {
		return strings.EqualFold(strings.TrimSpace(prompt), m.Exact)
	}
	if m.Contains != "" {
		return strings.Contains(lower, strings.ToLower(m.Contains))
	}
	if len(m.ContainsAll) > 0 {
		for _, s := range m.ContainsAll {
			if !strings.Contains(lower, strings.ToLower(s)) {
				return false
			}
		}
		return true
	}
	for _, s := range m.ContainsAny {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func bestResponse(rules []ResponseRule, prompt string) (*ResponseRule, bool) {
	var best *ResponseRule
	for i := range rules {
		r := &rules[i]
		if r.Match.Matches(prompt) && (best == nil || r.Priority > best.Priority) {
			best = r
		}
	}
	return best, best != nil
}

// FindResponse returns the answer for prompt, or the fallback.
func (s *Scenario) FindResponse(prompt string) (string, bool) {
	if r, ok := bestResponse(s.Responses, prompt); ok {
		return r.Response, true
	}
	return s.Fallback, false
}

// FindAfterTool returns the answer to give once a tool returned output.
func (s *Scenario) FindAfterTool(output string) string {
	if r, ok := bestResponse(s.AfterTool, output); ok {
		return strings.ReplaceAll(r.Response, "{{output}}", output)
	}
	return s.Fallback
}

// FindToolRule returns the highest priority tool rule that matches prompt
// and names one of the offered tools.
func (s *Scenario) FindToolRule(prompt string, offered []string) *ToolRule {
	available := make(map[string]bool, len(offered))
	for _, t := range offered {
		available[t] = true
	}

	var best *ToolRule
	for i := range s.ToolRules {
		r := &s.ToolRules[i]
		if !available[r.Tool] || !r.Match.Matches(prompt) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}
