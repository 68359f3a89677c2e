package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Turn is one message of a conversation as the user saw it.
type Turn struct {
	Role    schema.RoleType `json:"role"`
	Content string          `json:"content"`
	Time    int64           `json:"time"`
}

// Transcript is the stored conversation of one session.
type Transcript struct {
	SessionID string `json:"sessionID"`
	Turns     []Turn `json:"turns"`
	Created   int64  `json:"created"`
	Updated   int64  `json:"updated"`
}

// Transcripts keeps one Transcript per session under "transcript/<id>".
type Transcripts struct {
	store *Storage
	now   func() time.Time
}

// NewTranscripts creates a transcript store on top of s.
func NewTranscripts(s *Storage) *Transcripts {
	return &Transcripts{store: s, now: time.Now}
}

func transcriptPath(sessionID string) []string {
	return []string{"transcript", sessionID}
}

// Append adds turns to the session's transcript, creating it if needed.
func (t *Transcripts) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	var tr Transcript
	return t.store.Update(ctx, transcriptPath(sessionID), &tr, func(exists bool) error {
		now := t.now().UnixMilli()
		if !exists {
			tr = Transcript{SessionID: sessionID, Created: now}
		}
		for _, turn := range turns {
			if turn.Time == 0 {
				turn.Time = now
			}
			tr.Turns = append(tr.Turns, turn)
		}
		tr.Updated = now
		return nil
	})
}

// Get returns the session's transcript, or ErrNotFound.
func (t *Transcripts) Get(ctx context.Context, sessionID string) (*Transcript, error) {
	var tr Transcript
	if err := t.store.Get(ctx, transcriptPath(sessionID), &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// History returns the last limit turns as chat messages. Zero means all. A
// session with no transcript has no history.
func (t *Transcripts) History(ctx context.Context, sessionID string, limit int) ([]*schema.Message, error) {
	tr, err := t.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	turns := tr.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	msgs := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		msgs = append(msgs, &schema.Message{Role: turn.Role, Content: turn.Content})
	}
	return msgs, nil
}

// Delete removes the session's transcript.
func (t *Transcripts) Delete(ctx context.Context, sessionID string) error {
	return t.store.Delete(ctx, transcriptPath(sessionID))
}

// Sessions lists the IDs that have a transcript.
func (t *Transcripts) Sessions(ctx context.Context) ([]string, error) {
	return t.store.List(ctx, []string{"transcript"})
}
