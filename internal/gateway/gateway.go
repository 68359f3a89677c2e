// Package gateway runs chat turns: it gets the session's agent, streams the
// agent's answer to the user and turns failures into one readable message.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/sergioferragut/data-chat/internal/agent"
	"github.com/sergioferragut/data-chat/internal/classify"
	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/storage"
	"github.com/sergioferragut/data-chat/internal/stream"
	"github.com/sergioferragut/data-chat/internal/ui"
)

const (
	WelcomeMessage = "Hello! I'm your data assistant. I can help you query your Firebolt database and search through PDF documents. What would you like to know?"
	ReadyMessage   = "✓ Connection established. Ready to answer your questions!"
	// InitFailedMessage is formatted with the diagnosis.
	InitFailedMessage = "⚠️ Error initializing connection: %s\n\nYou can still try asking a question - the connection will be retried."

	// BusyMessage answers a message sent while another is being answered.
	BusyMessage = "⏳ Still working on your previous question. Please wait for it to finish."

	// DefaultHistoryLimit is how many stored turns are replayed to the agent.
	DefaultHistoryLimit = 20
)

var (
	// ErrAborted is the cause of a turn cancelled through Abort.
	ErrAborted = errors.New("turn aborted")
	// ErrBusy is returned when the session already has a turn in progress.
	ErrBusy = errors.New("a message is already being answered")
)

// Sessions is the part of session.Manager the gateway needs.
type Sessions interface {
	GetOrCreate(ctx context.Context, id string) (*agent.Agent, error)
	// Invalidate drops stale if it is still the session's agent.
	Invalidate(id string, stale *agent.Agent)
}

// Sweeper runs the one-time orphan sweep.
type Sweeper interface {
	RunOnce(ctx context.Context)
}

// History stores and replays conversation turns.
type History interface {
	History(ctx context.Context, sessionID string, limit int) ([]*schema.Message, error)
	Append(ctx context.Context, sessionID string, turns ...storage.Turn) error
}

// Gateway handles chat events for every session.
type Gateway struct {
	sessions     Sessions
	sweeper      Sweeper
	history      History
	historyLimit int
	pipeline     *stream.Pipeline
	bus          *event.Bus

	mu     sync.Mutex
	active map[string]*Turn
}

// Turn is a session's claim on answering one message. At most one turn per
// session exists at a time.
type Turn struct {
	g      *Gateway
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSweeper runs s before the first chat start.
func WithSweeper(s Sweeper) Option {
	return func(g *Gateway) { g.sweeper = s }
}

// WithHistory stores each turn and replays up to limit turns as context.
func WithHistory(h History, limit int) Option {
	return func(g *Gateway) {
		g.history = h
		if limit > 0 {
			g.historyLimit = limit
		}
	}
}

// WithPipeline replaces the default stream pipeline.
func WithPipeline(p *stream.Pipeline) Option {
	return func(g *Gateway) { g.pipeline = p }
}

// WithBus publishes message outcomes on bus.
func WithBus(bus *event.Bus) Option {
	return func(g *Gateway) { g.bus = bus }
}

// New creates a gateway over sessions.
func New(sessions Sessions, opts ...Option) *Gateway {
	g := &Gateway{
		sessions:     sessions,
		historyLimit: DefaultHistoryLimit,
		pipeline:     stream.NewPipeline(),
		active:       make(map[string]*Turn),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prepare builds the session ahead of its first question. The orphan sweep
// runs first, once per process.
func (g *Gateway) Prepare(ctx context.Context, id string) error {
	if g.sweeper != nil {
		g.sweeper.RunOnce(ctx)
	}
	_, err := g.sessions.GetOrCreate(ctx, id)
	return err
}

// StartChat greets the user and prepares the session. A failed build is
// reported to the user and returned; the next message tries again.
func (g *Gateway) StartChat(ctx context.Context, id string, ch ui.Channel) error {
	log := logging.ForSession(id)

	if _, err := ch.Send(ctx, WelcomeMessage); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	if err := g.Prepare(ctx, id); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ce := classify.Classify(err)
		log.Error().Err(err).Str("kind", ce.Kind.String()).Msg("chat start initialization failed")
		if _, serr := ch.Send(ctx, fmt.Sprintf(InitFailedMessage, ce.Message())); serr != nil {
			log.Warn().Err(serr).Msg("failed to report initialization error")
		}
		return ce
	}

	if _, err := ch.Send(ctx, ReadyMessage); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}
	return nil
}

// HandleMessage claims the session and answers one user message. A message
// that arrives while another is being answered gets BusyMessage and ErrBusy.
func (g *Gateway) HandleMessage(ctx context.Context, id, text string, ch ui.Channel) error {
	t, err := g.TryBegin(ctx, id)
	if err != nil {
		if _, serr := ch.Send(ctx, BusyMessage); serr != nil {
			log := logging.ForSession(id)
			log.Warn().Err(serr).Msg("failed to report busy session")
		}
		return err
	}
	return t.Answer(text, ch)
}

// answer runs one turn. A TransportBroken failure invalidates the session
// and tries once more; the turn itself is only repeated if the user has not
// seen any of its text yet. A failure that is surfaced reaches the user as a
// single message and is also returned.
func (g *Gateway) answer(ctx context.Context, id, text string, ch ui.Channel) error {
	log := logging.ForSession(id)

	history := g.loadHistory(ctx, id)
	res, used, err := g.turn(ctx, id, history, text, ch)

	retried := false
	if err != nil && !delivery(ctx, err) && classify.KindOf(err).Retryable() {
		retried = true
		log.Warn().Err(err).Bool("shown", res.Handle != "").Msg("connection broken, reinitializing session")
		g.sessions.Invalidate(id, used)

		if res.Handle == "" {
			res, _, err = g.turn(ctx, id, history, text, ch)
		} else if _, rerr := g.sessions.GetOrCreate(ctx, id); rerr != nil {
			log.Error().Err(rerr).Msg("reinitialization after interrupted turn failed")
		}
	}

	g.record(ctx, id, text, res.Text)

	if err == nil {
		g.publish(event.Event{Type: event.MessageCompleted, Data: event.MessageCompletedData{
			SessionID: id,
			Chars:     len(res.Text),
			Empty:     res.Placeholder,
		}})
		return nil
	}

	if delivery(ctx, err) {
		if cause := context.Cause(ctx); errors.Is(cause, ErrAborted) {
			log.Info().Msg("turn aborted")
			return cause
		}
		log.Info().Err(err).Msg("turn ended, user channel unavailable")
		return err
	}

	ce := classify.Classify(err)
	log.Error().Err(err).Str("kind", ce.Kind.String()).Bool("retried", retried).Msg("message handling failed")
	g.publish(event.Event{Type: event.MessageFailed, Data: event.MessageFailedData{
		SessionID: id,
		Kind:      ce.Kind.String(),
		Retried:   retried,
	}})
	if _, serr := ch.Send(ctx, ce.Message()); serr != nil {
		log.Warn().Err(serr).Msg("failed to report error")
	}
	return ce
}

// turn also returns the agent it ran on, or nil when none could be built.
func (g *Gateway) turn(ctx context.Context, id string, history []*schema.Message, text string, ch ui.Channel) (stream.Result, *agent.Agent, error) {
	a, err := g.sessions.GetOrCreate(ctx, id)
	if err != nil {
		return stream.Result{}, nil, err
	}
	res, err := g.pipeline.Run(ctx, id, a.Stream(ctx, history, text), ch)
	return res, a, err
}

// delivery reports whether err came from the user's side: a cancelled
// request or a channel that can no longer be written.
func delivery(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, stream.ErrDelivery) || errors.Is(err, ui.ErrClosed)
}

func (g *Gateway) loadHistory(ctx context.Context, id string) []*schema.Message {
	if g.history == nil {
		return nil
	}
	msgs, err := g.history.History(ctx, id, g.historyLimit)
	if err != nil {
		log := logging.ForSession(id)
		log.Warn().Err(err).Msg("failed to load history, answering without it")
		return nil
	}
	return msgs
}

func (g *Gateway) record(ctx context.Context, id, question, answer string) {
	if g.history == nil {
		return
	}
	turns := []storage.Turn{{Role: schema.User, Content: question}}
	if answer != "" {
		turns = append(turns, storage.Turn{Role: schema.Assistant, Content: answer})
	}
	if err := g.history.Append(context.WithoutCancel(ctx), id, turns...); err != nil {
		log := logging.ForSession(id)
		log.Warn().Err(err).Msg("failed to store transcript")
	}
}

// TryBegin claims the session for one turn, failing with ErrBusy when a
// turn is already in progress. The claim lasts until Release, or until
// Answer returns.
func (g *Gateway) TryBegin(ctx context.Context, id string) (*Turn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[id]; ok {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancelCause(ctx)
	t := &Turn{g: g, id: id, ctx: ctx, cancel: cancel}
	g.active[id] = t
	return t, nil
}

// Answer runs the claimed turn and releases the claim.
func (t *Turn) Answer(text string, ch ui.Channel) error {
	defer t.Release()
	return t.g.answer(t.ctx, t.id, text, ch)
}

// Release gives up the claim. Calling it again does nothing.
func (t *Turn) Release() {
	t.once.Do(func() {
		t.g.mu.Lock()
		if t.g.active[t.id] == t {
			delete(t.g.active, t.id)
		}
		t.g.mu.Unlock()
		t.cancel(nil)
	})
}

// Abort cancels the session's turn in progress. It reports whether there
// was one. The session stays claimed until the turn has wound down.
func (g *Gateway) Abort(id string) bool {
	g.mu.Lock()
	t, ok := g.active[id]
	g.mu.Unlock()
	if ok {
		t.cancel(ErrAborted)
	}
	return ok
}

// Busy reports whether the session has a turn in progress.
func (g *Gateway) Busy(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[id]
	return ok
}

func (g *Gateway) publish(e event.Event) {
	if g.bus != nil {
		g.bus.Publish(e)
	}
}
