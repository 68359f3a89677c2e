/*
Package event provides a pub/sub event system for lifecycle notifications.

Publishers emit events without knowing who listens. In-process subscribers are
called directly so they receive the typed payload. Every event is also
mirrored as a JSON message on a watermill gochannel topic, which is what the
HTTP /event stream reads.

# Event Types

Session events:
  - session.created: a session was registered
  - session.state: a session moved between Empty, Initializing, Ready and Failed
  - session.closed: a session's resources were released

Sandbox events:
  - sandbox.provisioned: a sandbox name was resolved for a session
  - sandbox.removed: the janitor removed an exited sandbox
  - sandbox.sweep.done: a janitor sweep finished

Message events:
  - message.completed: a turn finished streaming
  - message.failed: a turn surfaced a classified error

Config events:
  - config.reloaded: the config file changed and was re-applied

# Usage

	bus := event.NewBus()
	defer bus.Close()

	unsub := bus.Subscribe(event.SandboxRemoved, func(e event.Event) {
		data := e.Data.(event.SandboxRemovedData)
		log.Printf("removed %s", data.Name)
	})
	defer unsub()

	bus.Publish(event.Event{
		Type: event.SandboxRemoved,
		Data: event.SandboxRemovedData{Name: "firebolt-mcp-01hx", Status: "exited"},
	})

Publish calls each subscriber in its own goroutine. PublishSync calls them in
order before returning.

Stream consumers read the watermill mirror and get Data as raw JSON. Mirrored
messages carry the event type and, for session events, the session ID as
metadata, so Stream can filter without decoding.
*/
package event
