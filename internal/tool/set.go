package tool

import (
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/sergioferragut/data-chat/internal/logging"
)

// Set is an ordered, immutable collection of tools. Agents are built from a
// Set and never see it change.
type Set struct {
	tools []Tool
	index map[string]int
}

// NewSet concatenates tool groups in order. When two tools share an ID the
// first one wins and the duplicate is logged and dropped.
func NewSet(groups ...[]Tool) *Set {
	s := &Set{index: make(map[string]int)}
	for _, group := range groups {
		for _, t := range group {
			if t == nil {
				continue
			}
			if _, dup := s.index[t.ID()]; dup {
				logging.Warn().Str("tool", t.ID()).Msg("duplicate tool name, keeping the first")
				continue
			}
			s.index[t.ID()] = len(s.tools)
			s.tools = append(s.tools, t)
		}
	}
	return s
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

// Get retrieves a tool by ID.
func (s *Set) Get(id string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.tools[i], true
}

// List returns the tools in order. The returned slice is a copy.
func (s *Set) List() []Tool {
	if s == nil {
		return nil
	}
	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// IDs returns the tool IDs in order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.tools))
	for i, t := range s.tools {
		ids[i] = t.ID()
	}
	return ids
}

// EinoTools returns Eino-compatible tools in order.
func (s *Set) EinoTools() []einotool.BaseTool {
	if s == nil {
		return nil
	}
	out := make([]einotool.BaseTool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.EinoTool()
	}
	return out
}

// ToolInfos returns Eino tool infos in order.
func (s *Set) ToolInfos() []*schema.ToolInfo {
	if s == nil {
		return nil
	}
	infos := make([]*schema.ToolInfo, len(s.tools))
	for i, t := range s.tools {
		infos[i] = Info(t)
	}
	return infos
}
