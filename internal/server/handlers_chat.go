package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sergioferragut/data-chat/internal/classify"
	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/ui"
)

// Frames the chat transports add to the ui.Op stream.
const (
	OpDone  ui.OpKind = "done"
	OpError ui.OpKind = "error"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 4
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the router
	},
}

// SendMessageRequest is the body of POST /session/{id}/message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// DoneEvent ends a message stream.
type DoneEvent struct {
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// ClientFrame is what a WebSocket client sends: {"type":"message","text":...}
// or {"type":"abort"}.
type ClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func doneEvent(err error) DoneEvent {
	if err == nil {
		return DoneEvent{}
	}
	ce := classify.Classify(err)
	return DoneEvent{Error: ce.Error(), Kind: ce.Kind.String()}
}

// sendMessage answers one message as an SSE stream of ui.Op events ("op"),
// ended by a "done" event.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}
	turn, err := s.gateway.TryBegin(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, ErrCodeBusy, err.Error())
		return
	}

	sse, err := startSSE(w)
	if err != nil {
		turn.Release()
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	ch := ui.NewOpChannel(func(op ui.Op) error {
		return sse.writeEvent("op", op)
	})
	err = turn.Answer(text, ch)
	ch.Close()

	if r.Context().Err() == nil {
		sse.writeEvent("done", doneEvent(err))
	}
}

// chatSocket runs a chat over a WebSocket: connecting starts the chat,
// each message frame is one turn, and disconnecting closes the session.
// Turns are answered one at a time in arrival order.
func (s *Server) chatSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	log := logging.ForSession(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// A hijacked connection's request context does not end on disconnect.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}
	ch := ui.NewOpChannel(func(op ui.Op) error { return write(op) })

	turns := make(chan string, wsQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.gateway.StartChat(ctx, id, ch); err != nil {
			log.Debug().Err(err).Msg("chat started without a ready session")
		}
		for text := range turns {
			err := s.gateway.HandleMessage(ctx, id, text, ch)
			if ctx.Err() != nil {
				return
			}
			done := doneEvent(err)
			write(ui.Op{Kind: OpDone, Content: done.Kind})
		}
	}()

	log.Info().Msg("chat connected")
	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Type {
		case "message":
			text := strings.TrimSpace(frame.Text)
			if text == "" {
				write(ui.Op{Kind: OpError, Content: "text is required"})
				continue
			}
			select {
			case turns <- text:
			default:
				write(ui.Op{Kind: OpError, Content: "too many messages waiting, try again shortly"})
			}
		case "abort":
			s.gateway.Abort(id)
		default:
			write(ui.Op{Kind: OpError, Content: "unknown frame type " + frame.Type})
		}
	}

	close(turns)
	cancel()
	ch.Close()
	wg.Wait()

	if err := s.sessions.Close(context.WithoutCancel(r.Context()), id); err != nil {
		log.Warn().Err(err).Msg("session closed with errors")
	}
	log.Info().Msg("chat disconnected")
}
