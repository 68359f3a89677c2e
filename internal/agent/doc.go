// Package agent runs the tool-augmented chat loop for a session.
//
// An Agent wraps an Eino ToolCallingChatModel with the session's tool set
// bound and a fixed system instruction. Stream runs one user turn: the model
// is called, any tool calls it makes are executed against the tool set and
// their results fed back, until the model answers without asking for tools.
//
// The turn is exposed as a schema.StreamReader of Events:
//
//	sr := a.Stream(ctx, history, "How many orders shipped last week?")
//	defer sr.Close()
//	for {
//		ev, err := sr.Recv()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		switch ev := ev.(type) {
//		case agent.TextEvent:
//		case agent.ToolCallEvent:
//		case agent.ToolResultEvent:
//		}
//	}
//
// Agents are immutable. When a session's connection is replaced the session
// manager builds a new Agent through a Builder rather than rebinding tools.
package agent
