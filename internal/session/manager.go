package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sergioferragut/data-chat/internal/agent"
	"github.com/sergioferragut/data-chat/internal/classify"
	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/sandbox"
	"github.com/sergioferragut/data-chat/internal/tool"
)

const (
	// DefaultPollInterval is how often a waiting caller checks on an
	// initialization in progress.
	DefaultPollInterval = time.Second
	// DefaultMaxWait bounds how long a caller waits for another caller's
	// initialization.
	DefaultMaxWait = 30 * time.Second
)

// Session is the per-session state. The agent pointer and the flag are read
// without the lock by waiters; every transition happens under mu.
type Session struct {
	ID string

	initializing atomic.Bool
	agent        atomic.Pointer[agent.Agent]

	mu          sync.Mutex
	state       State
	conn        Conn
	sandbox     string
	attempt     uint64
	lastAttempt uint64
	lastErr     *classify.Error
	closed      bool
	created     time.Time
}

// Manager owns every session's sandbox, connection and agent, and makes sure
// each session has at most one of each and at most one construction running.
type Manager struct {
	provisioner Provisioner
	dialer      Dialer
	builder     AgentBuilder
	sources     []ToolSource
	bus         *event.Bus

	pollInterval time.Duration
	maxWait      time.Duration

	sessions sync.Map // string -> *Session
	closed   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval sets how often waiters check on an initialization.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithMaxWait sets how long waiters wait before giving up.
func WithMaxWait(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxWait = d
		}
	}
}

// WithToolSources appends tool groups after the sandbox tools, in order.
func WithToolSources(sources ...ToolSource) Option {
	return func(m *Manager) { m.sources = append(m.sources, sources...) }
}

// WithBus publishes lifecycle transitions on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// NewManager creates a manager.
func NewManager(p Provisioner, d Dialer, b AgentBuilder, opts ...Option) *Manager {
	m := &Manager{
		provisioner:  p,
		dialer:       d,
		builder:      b,
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lookup(id string) *Session {
	if v, ok := m.sessions.Load(id); ok {
		return v.(*Session)
	}
	return nil
}

func (m *Manager) session(id string) *Session {
	if s := m.lookup(id); s != nil {
		return s
	}
	v, loaded := m.sessions.LoadOrStore(id, &Session{ID: id, created: time.Now()})
	if !loaded {
		m.publish(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{SessionID: id}})
	}
	return v.(*Session)
}

// GetOrCreate returns the session's agent, building it if needed. Concurrent
// callers share one construction: they get the same agent, or the same
// *classify.Error when it fails. A caller that waits longer than the max wait
// gets an InitializationTimeout error while the construction carries on. The
// max wait covers the whole call, however many attempts it sees.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*agent.Agent, error) {
	if m.closed.Load() {
		return nil, errClosed()
	}
	s := m.session(id)
	deadline := time.Now().Add(m.maxWait)

	for {
		if a := s.agent.Load(); a != nil {
			if s.connAlive() {
				return a, nil
			}
			log := logging.ForSession(id)
			log.Warn().Msg("connection lost, rebuilding session")
			m.Invalidate(id, a)
		}

		attempt, owner, err := m.claim(s)
		if err != nil {
			return nil, err
		}
		if owner {
			return m.initialize(ctx, s, attempt)
		}

		a, retry, err := m.wait(ctx, s, attempt, deadline)
		if !retry {
			return a, err
		}
	}
}

// claim either starts a new attempt, returning owner, or returns the attempt
// already in flight.
func (m *Manager) claim(s *Session) (attempt uint64, owner bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, errClosed()
	}
	if s.initializing.Load() {
		return s.attempt, false, nil
	}
	if s.agent.Load() != nil {
		// Finished between the caller's check and the lock; let it loop.
		return s.attempt, false, nil
	}
	s.initializing.Store(true)
	s.attempt++
	return s.attempt, true, nil
}

// pollOutcome decides what a waiter on attempt does next.
type pollOutcome int

const (
	keepWaiting pollOutcome = iota
	gotAgent
	sharedFailure
	retryClaim
)

func (s *Session) poll(attempt uint64) (pollOutcome, *agent.Agent, *classify.Error) {
	if a := s.agent.Load(); a != nil {
		return gotAgent, a, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return sharedFailure, nil, errClosed()
	case s.lastAttempt == attempt && s.lastErr != nil:
		return sharedFailure, nil, s.lastErr
	case s.lastAttempt >= attempt && !s.initializing.Load():
		// Our attempt succeeded but the agent is gone again.
		return retryClaim, nil, nil
	case s.attempt != attempt:
		return retryClaim, nil, nil
	default:
		return keepWaiting, nil, nil
	}
}

// errClosed is never retryable, whatever the text rules say about "closed".
func errClosed() *classify.Error {
	return &classify.Error{Kind: classify.Unclassified, Cause: ErrClosed}
}

func (m *Manager) wait(ctx context.Context, s *Session, attempt uint64, deadline time.Time) (*agent.Agent, bool, error) {
	log := logging.ForSession(s.ID)
	log.Debug().Uint64("attempt", attempt).Msg("waiting for initialization in progress")

	expired := time.NewTimer(time.Until(deadline))
	defer expired.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		switch outcome, a, cerr := s.poll(attempt); outcome {
		case gotAgent:
			return a, false, nil
		case sharedFailure:
			return nil, false, cerr
		case retryClaim:
			return nil, true, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-expired.C:
			log.Warn().Dur("waited", m.maxWait).Uint64("attempt", attempt).Msg("gave up waiting for initialization")
			return nil, false, &classify.Error{
				Kind:  classify.InitializationTimeout,
				Cause: fmt.Errorf("%w after %s", ErrInitializationTimeout, m.maxWait),
			}
		case <-ticker.C:
		}
	}
}

// initialize runs one construction. It is detached from the caller's
// cancellation so a failing construction always reaches its cleanup.
func (m *Manager) initialize(ctx context.Context, s *Session, attempt uint64) (a *agent.Agent, err error) {
	ctx = context.WithoutCancel(ctx)
	log := logging.ForSession(s.ID)
	start := time.Now()

	s.mu.Lock()
	previous := s.sandbox
	from := s.state
	s.state = Initializing
	s.mu.Unlock()
	m.publishState(s.ID, from, Initializing, attempt, classify.Unclassified)

	var (
		conn       Conn
		assignment sandbox.Assignment
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("panic during session initialization")
			a, err = nil, fmt.Errorf("panic during session initialization: %v", r)
		}

		var cerr *classify.Error
		if err != nil {
			cerr = classify.Classify(err)
			log.Error().Err(err).Str("kind", cerr.Kind.String()).Uint64("attempt", attempt).Msg("session initialization failed")
			m.undo(ctx, s.ID, conn, assignment.Name)
		}

		s.mu.Lock()
		if cerr == nil && s.closed {
			s.mu.Unlock()
			log.Info().Msg("session closed during initialization, discarding")
			m.undo(ctx, s.ID, conn, assignment.Name)
			cerr = errClosed()
			s.mu.Lock()
		}
		s.lastAttempt = attempt
		s.lastErr = cerr
		if cerr == nil {
			s.conn = conn
			s.sandbox = assignment.Name
			s.state = Ready
			s.agent.Store(a)
		} else {
			s.conn = nil
			s.sandbox = ""
			s.state = Empty
		}
		s.initializing.Store(false)
		s.mu.Unlock()

		if cerr != nil {
			m.publishState(s.ID, Initializing, Failed, attempt, cerr.Kind)
			m.publishState(s.ID, Failed, Empty, attempt, cerr.Kind)
			a, err = nil, cerr
			return
		}
		log.Info().Str("sandbox", assignment.Name).Dur("took", time.Since(start)).Msg("session ready")
		m.publishState(s.ID, Initializing, Ready, attempt, classify.Unclassified)
	}()

	assignment = m.provisioner.Provision(ctx, s.ID, previous)

	conn, err = m.dialer.Dial(ctx, assignment)
	if err != nil {
		conn = nil
		return nil, classify.As(fmt.Errorf("connect to sandbox: %w", err), classify.TransportBroken)
	}

	sandboxTools, err := conn.Tools(ctx)
	if err != nil {
		return nil, classify.As(fmt.Errorf("list sandbox tools: %w", err), classify.TransportBroken)
	}
	log.Info().Int("tools", len(sandboxTools)).Msg("discovered sandbox tools")

	groups := [][]tool.Tool{sandboxTools}
	for _, src := range m.sources {
		extra, err := src.Tools(ctx, s.ID)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("tool source unavailable, continuing without it")
			continue
		}
		groups = append(groups, extra)
	}
	tools := tool.NewSet(groups...)

	a, err = m.builder.Build(ctx, s.ID, tools)
	if err != nil {
		return nil, fmt.Errorf("build agent: %w", err)
	}
	return a, nil
}

// undo releases what a failed construction acquired. Failures are logged.
func (m *Manager) undo(ctx context.Context, id string, conn Conn, name string) {
	log := logging.ForSession(id)
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close connection")
		}
	}
	if name != "" {
		if err := m.provisioner.Teardown(ctx, name); err != nil {
			log.Warn().Err(err).Str("sandbox", name).Msg("failed to remove sandbox")
		}
	}
}

func (s *Session) connAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.Alive()
}

// Invalidate drops the session's agent and closes its connection, provided
// stale is still the current agent. A rebuilt agent is left alone. The
// sandbox name is kept so the next construction can reuse a running sandbox.
func (m *Manager) Invalidate(id string, stale *agent.Agent) {
	s := m.lookup(id)
	if s == nil || stale == nil {
		return
	}

	s.mu.Lock()
	if !s.agent.CompareAndSwap(stale, nil) {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	from := s.state
	s.state = Empty
	attempt := s.attempt
	s.mu.Unlock()

	log := logging.ForSession(id)
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close connection")
		}
	}
	log.Info().Msg("session invalidated")
	m.publishState(id, from, Empty, attempt, classify.Unclassified)
}

// Close forgets the session and releases its connection and sandbox. An
// initialization in progress finishes and then discards its result.
func (m *Manager) Close(ctx context.Context, id string) error {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return nil
	}
	s := v.(*Session)

	s.mu.Lock()
	s.closed = true
	s.agent.Store(nil)
	conn := s.conn
	name := s.sandbox
	s.conn = nil
	s.sandbox = ""
	s.state = Empty
	s.mu.Unlock()

	log := logging.ForSession(id)
	var firstErr error
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close connection")
			firstErr = err
		}
	}
	if name != "" {
		if err := m.provisioner.Teardown(ctx, name); err != nil {
			log.Warn().Err(err).Str("sandbox", name).Msg("failed to remove sandbox")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	log.Info().Str("sandbox", name).Msg("session closed")
	m.publish(event.Event{Type: event.SessionClosed, Data: event.SessionClosedData{SessionID: id, Sandbox: name}})
	return firstErr
}

// Shutdown closes every session and rejects further GetOrCreate calls. One
// failed close does not stop the others; the first error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)

	var g errgroup.Group
	g.SetLimit(8)
	m.sessions.Range(func(key, _ any) bool {
		id := key.(string)
		g.Go(func() error { return m.Close(ctx, id) })
		return true
	})
	return g.Wait()
}

// State returns a snapshot of the session.
func (m *Manager) State(id string) (Info, bool) {
	s := m.lookup(id)
	if s == nil {
		return Info{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:      id,
		State:   s.state,
		Sandbox: s.sandbox,
		Attempt: s.attempt,
		Created: s.created.UnixMilli(),
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
		info.ErrorKind = s.lastErr.Kind.String()
	}
	return info, true
}

// IDs lists the sessions the manager knows about.
func (m *Manager) IDs() []string {
	var ids []string
	m.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

func (m *Manager) publishState(id string, from, to State, attempt uint64, kind classify.Kind) {
	data := event.SessionStateData{
		SessionID: id,
		From:      from.String(),
		To:        to.String(),
		Attempt:   attempt,
	}
	if kind != classify.Unclassified || to == Failed {
		data.Kind = kind.String()
	}
	m.publish(event.Event{Type: event.SessionState, Data: data})
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
