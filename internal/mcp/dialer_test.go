package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergioferragut/data-chat/internal/sandbox"
	"github.com/sergioferragut/data-chat/pkg/mcpserver/fixture"
)

// TestHelperProcess is not a real test. The dialer tests re-exec the test
// binary with GO_WANT_HELPER_PROCESS set so it acts as the sandbox process.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv("GO_WANT_HELPER_PROCESS") {
	case "serve":
		if os.Getenv("FIXTURE_EXPECT_ENV") != "" && os.Getenv(os.Getenv("FIXTURE_EXPECT_ENV")) == "" {
			fmt.Fprintln(os.Stderr, "missing env", os.Getenv("FIXTURE_EXPECT_ENV"))
			os.Exit(2)
		}
		_ = server.ServeStdio(fixture.NewServer(fixture.DefaultCatalogue()))
		os.Exit(0)
	case "auth-fail":
		fmt.Fprintln(os.Stderr, "Error: Invalid domain for client id on api.firebolt.io")
		os.Exit(1)
	}
}

// helperRuntime launches the test binary in place of a container.
type helperRuntime struct {
	mode     string
	launched []sandbox.LaunchSpec
}

func (h *helperRuntime) Status(ctx context.Context, name string) (sandbox.Status, error) {
	return sandbox.Absent, nil
}

func (h *helperRuntime) List(ctx context.Context, prefix string) ([]sandbox.Handle, error) {
	return nil, nil
}

func (h *helperRuntime) Remove(ctx context.Context, name string) error { return nil }

func (h *helperRuntime) Command(spec sandbox.LaunchSpec) *exec.Cmd {
	h.launched = append(h.launched, spec)
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS="+h.mode, "FIXTURE_EXPECT_ENV=FIREBOLT_MCP_DISABLE_RESOURCES")
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd
}

func TestSandboxDialer_Dial(t *testing.T) {
	rt := &helperRuntime{mode: "serve"}
	d := &SandboxDialer{
		Runtime:          rt,
		Image:            "fixture:latest",
		Env:              map[string]string{"FIREBOLT_MCP_DISABLE_RESOURCES": "true"},
		HandshakeTimeout: 20 * time.Second,
	}

	conn, err := d.Dial(context.Background(), sandbox.Assignment{Name: "firebolt-mcp-dialtest"})
	require.NoError(t, err)
	defer conn.Close()

	require.Len(t, rt.launched, 1)
	assert.Equal(t, "firebolt-mcp-dialtest", rt.launched[0].Name)
	assert.Equal(t, "fixture:latest", rt.launched[0].Image)
	assert.False(t, rt.launched[0].Attach)

	tools, err := conn.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 3)

	require.NoError(t, conn.Close())
	assert.False(t, conn.Alive())
}

func TestSandboxDialer_ReusedAttaches(t *testing.T) {
	rt := &helperRuntime{mode: "serve"}
	d := &SandboxDialer{Runtime: rt, Env: map[string]string{"FIREBOLT_MCP_DISABLE_RESOURCES": "true"}}

	conn, err := d.Dial(context.Background(), sandbox.Assignment{Name: "firebolt-mcp-live", Reused: true})
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, rt.launched[0].Attach)
}

func TestSandboxDialer_HandshakeFailureCarriesStderr(t *testing.T) {
	rt := &helperRuntime{mode: "auth-fail"}
	d := &SandboxDialer{Runtime: rt, HandshakeTimeout: 20 * time.Second}

	_, err := d.Dial(context.Background(), sandbox.Assignment{Name: "firebolt-mcp-bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "firebolt-mcp-bad")
	assert.Contains(t, err.Error(), "Invalid domain")
}
