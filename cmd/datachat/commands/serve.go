package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"github.com/sergioferragut/data-chat/internal/agent"
	"github.com/sergioferragut/data-chat/internal/config"
	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/gateway"
	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/mcp"
	"github.com/sergioferragut/data-chat/internal/provider"
	"github.com/sergioferragut/data-chat/internal/sandbox"
	"github.com/sergioferragut/data-chat/internal/server"
	"github.com/sergioferragut/data-chat/internal/session"
	"github.com/sergioferragut/data-chat/internal/storage"
	"github.com/sergioferragut/data-chat/internal/tool"
)

var (
	serveAddr string
	noWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway",
	Long: `Start the HTTP API. Sessions are created on demand and each gets its own
sandbox container. Sandboxes from earlier runs that have exited are removed
before the first session is built, and periodically when
sandbox.sweepIntervalMs is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config, :8080)")
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file when it changes")
}

// newBuilder wires the model settings and schema source into an agent builder.
func newBuilder(cfg *config.Config) *agent.Builder {
	mc := cfg.Model
	b := &agent.Builder{
		NewModel: func(ctx context.Context) (model.ToolCallingChatModel, error) {
			return provider.NewChatModel(ctx, provider.Config{
				Provider:        mc.Provider,
				Model:           mc.Model,
				MaxTokens:       mc.MaxTokens,
				Region:          mc.Region,
				Profile:         mc.Profile,
				AccessKeyID:     mc.AccessKeyID,
				SecretAccessKey: mc.SecretAccessKey,
				SessionToken:    mc.SessionToken,
				APIKey:          mc.APIKey,
				BaseURL:         mc.BaseURL,
			})
		},
		Instruction: agent.Instruction{Database: cfg.Warehouse.Database},
		MaxSteps:    mc.MaxSteps,
	}
	switch {
	case cfg.Warehouse.Schema != "":
		b.Schema = agent.StaticSchema(cfg.Warehouse.Schema)
	case cfg.Warehouse.SchemaTool != "":
		args, _ := json.Marshal(map[string]string{"database": cfg.Warehouse.Database})
		b.Schema = agent.ToolSchema{ToolID: cfg.Warehouse.SchemaTool, Args: args}
	}
	return b
}

func newRetrievalSource(cfg *config.Config) *tool.RetrievalSource {
	src := &tool.RetrievalSource{TopK: cfg.Retrieval.TopK}
	if cfg.Retrieval.Endpoint != "" {
		src.Retriever = tool.NewHTTPRetriever(cfg.Retrieval.Endpoint, config.Millis(cfg.Retrieval.TimeoutMs), cfg.Retrieval.Headers)
	}
	return src
}

func sandboxPrefix(cfg *config.Config) string {
	if cfg.Sandbox.Prefix != "" {
		return cfg.Sandbox.Prefix
	}
	return sandbox.DefaultPrefix
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logging.Info().Str("version", Version).Str("addr", cfg.Server.Addr).Msg("starting datachat")

	bus := event.NewBus()
	defer bus.Close()

	docker := sandbox.NewDocker(cfg.Sandbox.Docker, config.Millis(cfg.Sandbox.CallTimeoutMs))
	prefix := sandboxPrefix(cfg)
	controller := sandbox.NewController(docker, sandbox.WithPrefix(prefix), sandbox.WithBus(bus))
	janitor := sandbox.NewJanitor(docker, prefix, cfg.Sandbox.SweepConcurrency, bus)

	dialer := &mcp.SandboxDialer{
		Runtime:          docker,
		Image:            cfg.Sandbox.Image,
		Env:              cfg.Warehouse.SandboxEnv(cfg.Sandbox.Env),
		HandshakeTimeout: config.Millis(cfg.Sandbox.HandshakeTimeoutMs),
	}

	sessions := session.NewManager(controller, session.MCPDialer(dialer), newBuilder(cfg),
		session.WithPollInterval(config.Millis(cfg.Session.PollIntervalMs)),
		session.WithMaxWait(config.Millis(cfg.Session.MaxWaitMs)),
		session.WithToolSources(newRetrievalSource(cfg)),
		session.WithBus(bus),
	)

	transcripts := storage.NewTranscripts(storage.New(storageDir(cfg)))
	gw := gateway.New(sessions,
		gateway.WithSweeper(janitor),
		gateway.WithHistory(transcripts, cfg.Session.HistoryLimit),
		gateway.WithBus(bus),
	)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = cfg.Server.Addr
	if len(cfg.Server.CORSOrigins) > 0 {
		serverConfig.CORSOrigins = cfg.Server.CORSOrigins
	}
	srv := server.New(serverConfig, sessions, gw, transcripts, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := config.Millis(cfg.Sandbox.SweepIntervalMs); interval > 0 {
		go janitor.Run(ctx, interval)
	}

	if !noWatch {
		watcher, err := config.NewWatcher(configDirOrCwd(), func(next *config.Config) {
			if logLevel == "" {
				logging.SetLevel(logging.ParseLevel(next.LogLevel))
			}
			bus.Publish(event.Event{Type: event.ConfigReloaded, Data: event.ConfigReloadedData{
				Path:     configDirOrCwd(),
				LogLevel: next.LogLevel,
			}})
		})
		if err != nil {
			logging.Warn().Err(err).Msg("config watcher not started")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("shutdown finished with errors")
	}
	logging.Info().Msg("stopped")
	return nil
}

func configDirOrCwd() string {
	if configDir != "" {
		return configDir
	}
	dir, _ := os.Getwd()
	return dir
}
