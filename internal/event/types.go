package event

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	SessionID string `json:"sessionID"`
}

// SessionStateData is the data for session.state events.
type SessionStateData struct {
	SessionID string `json:"sessionID"`
	From      string `json:"from"`
	To        string `json:"to"`
	Attempt   uint64 `json:"attempt"`
	// Kind is set when the transition is caused by a classified failure.
	Kind string `json:"kind,omitempty"`
}

// SessionClosedData is the data for session.closed events.
type SessionClosedData struct {
	SessionID string `json:"sessionID"`
	Sandbox   string `json:"sandbox,omitempty"`
}

// SandboxProvisionedData is the data for sandbox.provisioned events.
type SandboxProvisionedData struct {
	SessionID string `json:"sessionID"`
	Name      string `json:"name"`
	Reused    bool   `json:"reused"`
	Renamed   bool   `json:"renamed"`
}

// SandboxRemovedData is the data for sandbox.removed events.
type SandboxRemovedData struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SandboxSweepDoneData is the data for sandbox.sweep.done events.
type SandboxSweepDoneData struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// MessageCompletedData is the data for message.completed events.
type MessageCompletedData struct {
	SessionID string `json:"sessionID"`
	Chars     int    `json:"chars"`
	Empty     bool   `json:"empty"`
}

// MessageFailedData is the data for message.failed events.
type MessageFailedData struct {
	SessionID string `json:"sessionID"`
	Kind      string `json:"kind"`
	Retried   bool   `json:"retried"`
}

// ConfigReloadedData is the data for config.reloaded events.
type ConfigReloadedData struct {
	Path     string `json:"path"`
	LogLevel string `json:"logLevel"`
}
