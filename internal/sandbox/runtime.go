// Package sandbox manages the named per-session sandbox processes that host
// the MCP tool server: naming, reuse, conflict recovery, teardown and the
// background sweep of exited handles.
package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrNotFound is returned by runtimes that report a missing handle as an error.
var ErrNotFound = errors.New("sandbox: not found")

// Status is the lifecycle state of a handle as reported by the runtime.
type Status int

const (
	Absent Status = iota
	Running
	// Starting covers handles between creation and process start, and ones
	// the runtime is already removing.
	Starting
	Exited
	Dead
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Starting:
		return "starting"
	case Exited:
		return "exited"
	case Dead:
		return "dead"
	default:
		return "absent"
	}
}

// Reclaimable reports whether the janitor may remove a handle in this state.
func (s Status) Reclaimable() bool {
	return s == Exited || s == Dead
}

// ParseStatus maps a runtime state string onto a Status. Anything still
// holding a process counts as running.
func ParseStatus(state string) Status {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "running", "restarting", "paused":
		return Running
	case "created", "removing":
		return Starting
	case "exited":
		return Exited
	case "dead":
		return Dead
	default:
		return Absent
	}
}

// Handle is a named unit of compute known to the runtime.
type Handle struct {
	Name   string
	Status Status
}

// LaunchSpec describes the process to start for a session.
type LaunchSpec struct {
	Name  string
	Image string
	// Env is passed to the sandbox. Values never appear on the command line.
	Env map[string]string
	// Attach connects to an already running handle instead of starting one.
	Attach bool
}

// Runtime is the external process runtime.
type Runtime interface {
	// Status returns Absent when no handle has the exact name.
	Status(ctx context.Context, name string) (Status, error)
	// List returns every handle whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]Handle, error)
	// Remove force-removes a handle. Removing an absent handle is not an error.
	Remove(ctx context.Context, name string) error
	// Command builds the stdio process for spec. The caller starts it and
	// owns its lifetime.
	Command(spec LaunchSpec) *exec.Cmd
}
