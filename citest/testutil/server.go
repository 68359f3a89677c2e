package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/sergioferragut/data-chat/internal/agent"
	"github.com/sergioferragut/data-chat/internal/config"
	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/gateway"
	"github.com/sergioferragut/data-chat/internal/mcp"
	"github.com/sergioferragut/data-chat/internal/provider"
	"github.com/sergioferragut/data-chat/internal/sandbox"
	"github.com/sergioferragut/data-chat/internal/server"
	"github.com/sergioferragut/data-chat/internal/session"
	"github.com/sergioferragut/data-chat/internal/storage"
)

// Environment read by StartTestServer.
const (
	// EnvImage names the sandbox image, built from cmd/fixture-mcp.
	EnvImage = "DATACHAT_E2E_IMAGE"
	// EnvDocker overrides the container CLI.
	EnvDocker = "DATACHAT_E2E_DOCKER"
)

// E2EPrefix namespaces the sandboxes the suite creates.
const E2EPrefix = "datachat-e2e-"

// TestServer is a gateway running on a local port with real sandboxes and
// a mock model.
type TestServer struct {
	Server   *server.Server
	Sessions *session.Manager
	Janitor  *sandbox.Janitor
	Runtime  sandbox.Runtime
	Bus      *event.Bus
	LLM      *MockLLMServer
	BaseURL  string
	TempDir  string
}

// TestServerOption configures StartTestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	envFile  string
	scenario *Scenario
	maxWait  time.Duration
}

// WithEnvFile sets the .env file to load.
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) { c.envFile = path }
}

// WithScenario sets the mock model's script.
func WithScenario(s *Scenario) TestServerOption {
	return func(c *testServerConfig) { c.scenario = s }
}

// LoadEnv loads path, or the usual .env locations when path is empty.
func LoadEnv(path string) {
	if path != "" {
		_ = godotenv.Load(path)
		return
	}
	_ = godotenv.Load("../../.env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load(".env")
}

// SkipReason explains why the suite cannot run here, or returns "".
func SkipReason() string {
	if os.Getenv(EnvImage) == "" {
		return EnvImage + " is not set"
	}
	binary := os.Getenv(EnvDocker)
	if binary == "" {
		binary = "docker"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return binary + " is not installed"
	}
	return ""
}

// StartTestServer builds the gateway the way the serve command does, with
// the model pointed at a MockLLMServer.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{maxWait: 2 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	LoadEnv(cfg.envFile)

	tempDir, err := os.MkdirTemp("", "datachat-e2e-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	llm := NewMockLLMServer(cfg.scenario)
	bus := event.NewBus()

	docker := sandbox.NewDocker(os.Getenv(EnvDocker), 30*time.Second)
	controller := sandbox.NewController(docker, sandbox.WithPrefix(E2EPrefix), sandbox.WithBus(bus))
	janitor := sandbox.NewJanitor(docker, E2EPrefix, 4, bus)

	wh := config.WarehouseConfig{Database: "data_chat_demo"}
	dialer := &mcp.SandboxDialer{
		Runtime:          docker,
		Image:            os.Getenv(EnvImage),
		Env:              wh.SandboxEnv(nil),
		HandshakeTimeout: time.Minute,
	}
	builder := &agent.Builder{
		NewModel: func(ctx context.Context) (model.ToolCallingChatModel, error) {
			return provider.NewChatModel(ctx, provider.Config{
				Provider: provider.OpenAI,
				Model:    "mock-gpt-4",
				APIKey:   "mock-api-key",
				BaseURL:  llm.URL() + "/v1",
			})
		},
		Instruction: agent.Instruction{Database: wh.Database},
	}

	sessions := session.NewManager(controller, session.MCPDialer(dialer), builder,
		session.WithPollInterval(100*time.Millisecond),
		session.WithMaxWait(cfg.maxWait),
		session.WithBus(bus),
	)
	transcripts := storage.NewTranscripts(storage.New(filepath.Join(tempDir, "storage")))
	gw := gateway.New(sessions,
		gateway.WithSweeper(janitor),
		gateway.WithHistory(transcripts, config.DefaultHistoryLimit),
		gateway.WithBus(bus),
	)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf("127.0.0.1:%d", port)
	srv := server.New(serverConfig, sessions, gw, transcripts, bus)

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	ts := &TestServer{
		Server:   srv,
		Sessions: sessions,
		Janitor:  janitor,
		Runtime:  docker,
		Bus:      bus,
		LLM:      llm,
		BaseURL:  baseURL,
		TempDir:  tempDir,
	}
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		ts.Stop()
		return nil, fmt.Errorf("server failed to start: %w", err)
	}
	return ts, nil
}

// Stop shuts the gateway down, removes its sandboxes and cleans up.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := ts.Server.Shutdown(ctx)
	ts.LLM.Close()
	ts.Bus.Close()

	handles, _ := ts.Runtime.List(ctx, E2EPrefix)
	for _, h := range handles {
		_ = ts.Runtime.Remove(ctx, h.Name)
	}
	os.RemoveAll(ts.TempDir)
	return err
}

// Client returns a client for this server.
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns an SSE client for this server.
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}
