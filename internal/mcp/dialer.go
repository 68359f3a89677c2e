package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/sandbox"
)

// stderrTail is how much sandbox stderr is kept for error reports.
const stderrTail = 4096

// SandboxDialer launches (or attaches to) a session's sandbox and connects
// to the MCP server inside it over stdio.
type SandboxDialer struct {
	Runtime sandbox.Runtime
	Image   string
	Env     map[string]string
	// HandshakeTimeout bounds the initialize exchange. Zero waits as long as
	// the runtime takes.
	HandshakeTimeout time.Duration
}

// Dial brings up the connection for an assignment. Handshake failures carry
// the tail of the sandbox's stderr, which is where servers report bad
// credentials.
func (d *SandboxDialer) Dial(ctx context.Context, a sandbox.Assignment) (*Connection, error) {
	cmd := d.Runtime.Command(a.Launch(d.Image, d.Env))
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	logging.Debug().Str("sandbox", a.Name).Bool("attach", a.Reused).Msg("dialing sandbox")
	conn, err := DialCommand(ctx, cmd, WithName(a.Name))
	if err != nil {
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return nil, fmt.Errorf("sandbox %s: %w: %s", a.Name, err, tail)
		}
		return nil, fmt.Errorf("sandbox %s: %w", a.Name, err)
	}

	if info := conn.ServerInfo(); info != nil {
		logging.Info().
			Str("sandbox", a.Name).
			Str("server", info.Name).
			Str("version", info.Version).
			Msg("mcp session initialized")
	}
	return conn, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
