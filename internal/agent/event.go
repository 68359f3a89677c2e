package agent

// Event is one item of an agent turn. The concrete types are TextEvent,
// ToolCallEvent and ToolResultEvent.
type Event interface {
	isEvent()
}

// TextEvent is a fragment of model output as it arrives.
type TextEvent struct {
	Text string
}

// ToolCallEvent is emitted before a tool runs.
type ToolCallEvent struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolResultEvent carries what a tool returned to the model.
type ToolResultEvent struct {
	CallID  string
	Name    string
	Output  string
	IsError bool
}

func (TextEvent) isEvent()       {}
func (ToolCallEvent) isEvent()   {}
func (ToolResultEvent) isEvent() {}
