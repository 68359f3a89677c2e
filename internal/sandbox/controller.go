package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/logging"
)

// DefaultPrefix namespaces every sandbox this process creates.
const DefaultPrefix = "firebolt-mcp-"

// sessionIDLen is how much of the session ID goes into the base name. The
// tail is used because a ULID starts with its millisecond timestamp.
const sessionIDLen = 12

// Assignment is the outcome of name resolution for one session.
type Assignment struct {
	Name string
	// Reused is true when Name was already running and must be attached to.
	Reused bool
	// Renamed is true when the base name was taken and a suffix was added.
	Renamed bool
}

// Launch returns the spec for bringing the assigned sandbox up.
func (a Assignment) Launch(image string, env map[string]string) LaunchSpec {
	return LaunchSpec{Name: a.Name, Image: image, Env: env, Attach: a.Reused}
}

// Controller resolves, reuses and tears down per-session sandbox names.
//
// Conflict resolution re-checks the base name once after removing it. Two
// provisioners racing on the same base name within that window can still
// both see it free, so uniqueness is best effort beyond a single concurrent
// creator.
type Controller struct {
	runtime Runtime
	prefix  string
	bus     *event.Bus
	now     func() time.Time

	lastSuffix atomic.Int64
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPrefix sets the namespace prefix.
func WithPrefix(prefix string) ControllerOption {
	return func(c *Controller) { c.prefix = prefix }
}

// WithBus publishes sandbox.provisioned events to bus.
func WithBus(bus *event.Bus) ControllerOption {
	return func(c *Controller) { c.bus = bus }
}

// WithClock overrides the clock used for disambiguation suffixes.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller on top of runtime.
func NewController(runtime Runtime, opts ...ControllerOption) *Controller {
	c := &Controller{
		runtime: runtime,
		prefix:  DefaultPrefix,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prefix returns the namespace prefix.
func (c *Controller) Prefix() string {
	return c.prefix
}

// BaseName is prefix plus the last 12 characters of the session ID.
func (c *Controller) BaseName(sessionID string) string {
	id := sessionID
	if len(id) > sessionIDLen {
		id = id[len(id)-sessionIDLen:]
	}
	return c.prefix + strings.Map(nameRune, strings.ToLower(id))
}

// nameRune keeps the characters container names allow.
func nameRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		return r
	default:
		return '-'
	}
}

// Provision picks the sandbox name for a session. previous is the name the
// session recorded last time, or "". Runtime errors are logged and never
// returned: the worst case is a fresh launch under the base name.
func (c *Controller) Provision(ctx context.Context, sessionID, previous string) Assignment {
	log := logging.ForSession(sessionID)

	if previous != "" {
		status, err := c.runtime.Status(ctx, previous)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("sandbox", previous).Msg("sandbox status check failed")
		case status == Running:
			log.Info().Str("sandbox", previous).Msg("reusing running sandbox")
			a := Assignment{Name: previous, Reused: true}
			c.publish(sessionID, a)
			return a
		case status != Absent:
			if err := c.runtime.Remove(ctx, previous); err != nil {
				log.Warn().Err(err).Str("sandbox", previous).Msg("failed to remove stopped sandbox")
			} else {
				log.Info().Str("sandbox", previous).Str("status", status.String()).Msg("removed stopped sandbox")
			}
		}
	}

	name := c.BaseName(sessionID)
	if err := c.runtime.Remove(ctx, name); err != nil {
		log.Debug().Err(err).Str("sandbox", name).Msg("pre-launch remove failed")
	}

	a := Assignment{Name: name}
	status, err := c.runtime.Status(ctx, name)
	if err != nil {
		log.Debug().Err(err).Str("sandbox", name).Msg("race check failed")
	} else if status == Running || status == Starting {
		a.Name = fmt.Sprintf("%s-%d", name, c.nextSuffix())
		a.Renamed = true
		log.Warn().Str("sandbox", a.Name).Str("base", name).Msg("sandbox name conflict, using unique name")
	}

	log.Info().Str("sandbox", a.Name).Msg("provisioning sandbox")
	c.publish(sessionID, a)
	return a
}

// Teardown force-removes the named sandbox. Absence is not an error.
func (c *Controller) Teardown(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if err := c.runtime.Remove(ctx, name); err != nil {
		return fmt.Errorf("remove sandbox %s: %w", name, err)
	}
	return nil
}

// nextSuffix returns a millisecond timestamp strictly greater than any
// previously returned one.
func (c *Controller) nextSuffix() int64 {
	now := c.now().UnixMilli()
	for {
		last := c.lastSuffix.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if c.lastSuffix.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (c *Controller) publish(sessionID string, a Assignment) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.Event{
		Type: event.SandboxProvisioned,
		Data: event.SandboxProvisionedData{
			SessionID: sessionID,
			Name:      a.Name,
			Reused:    a.Reused,
			Renamed:   a.Renamed,
		},
	})
}
