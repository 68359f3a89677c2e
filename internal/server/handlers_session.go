package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/session"
	"github.com/sergioferragut/data-chat/internal/storage"
)

// Session IDs end up in container names and file paths.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// CreateSessionRequest is the body of POST /session. ID is optional.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: len(s.sessions.IDs()),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

// sessionID returns the validated {sessionID} parameter, writing a 400 if
// it is malformed.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	if !sessionIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.IDs()
	sort.Strings(ids)
	infos := make([]session.Info, 0, len(ids))
	for _, id := range ids {
		if info, ok := s.sessions.State(id); ok {
			infos = append(infos, info)
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

// createSession registers a session and starts building it in the
// background, or in the foreground with ?wait=true. Creating an existing
// session reports its state.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	id := req.ID
	if id == "" {
		id = ulid.Make().String()
	} else if !sessionIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid session id")
		return
	}

	if info, ok := s.sessions.State(id); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		if err := s.gateway.Prepare(r.Context(), id); err != nil {
			writeClassified(w, http.StatusServiceUnavailable, err)
			return
		}
		info, _ := s.sessions.State(id)
		writeJSON(w, http.StatusCreated, info)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.gateway.Prepare(ctx, id); err != nil {
			log := logging.ForSession(id)
			log.Warn().Err(err).Msg("background session initialization failed")
		}
	}()

	writeJSON(w, http.StatusCreated, session.Info{ID: id, State: session.Empty, Created: time.Now().UnixMilli()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	info, ok := s.sessions.State(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// deleteSession aborts any turn in progress and closes the session. With
// ?purge=true the transcript is removed too.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if _, ok := s.sessions.State(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	s.gateway.Abort(id)
	if err := s.sessions.Close(r.Context(), id); err != nil {
		// The session is gone either way; the sandbox is left to the janitor.
		log := logging.ForSession(id)
		log.Warn().Err(err).Msg("session closed with errors")
	}

	if r.URL.Query().Get("purge") == "true" && s.transcripts != nil {
		if err := s.transcripts.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
	}
	writeSuccess(w)
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": s.gateway.Abort(id)})
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if s.transcripts == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "transcripts are not stored")
		return
	}
	tr, err := s.transcripts.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no transcript for session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tr)
}
