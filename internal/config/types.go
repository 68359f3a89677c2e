package config

import (
	"strings"
	"time"
)

// Config is the gateway configuration.
type Config struct {
	Schema   string `json:"$schema,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`
	// DataDir holds transcripts. Defaults to the XDG data directory.
	DataDir string `json:"dataDir,omitempty"`

	Server    ServerConfig    `json:"server"`
	Model     ModelConfig     `json:"model"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Session   SessionConfig   `json:"session"`
	Warehouse WarehouseConfig `json:"warehouse"`
	Retrieval RetrievalConfig `json:"retrieval"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `json:"addr,omitempty"`
	CORSOrigins []string `json:"corsOrigins,omitempty"`
}

// ModelConfig selects and authenticates the chat model.
type ModelConfig struct {
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
	MaxTokens       int    `json:"maxTokens,omitempty"`
	Region          string `json:"region,omitempty"`
	Profile         string `json:"profile,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	BaseURL         string `json:"baseUrl,omitempty"`
	MaxSteps        int    `json:"maxSteps,omitempty"`
}

// SandboxConfig configures per-session sandbox containers.
type SandboxConfig struct {
	Image  string `json:"image,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Docker string `json:"docker,omitempty"`
	// Env is passed to every sandbox after the warehouse credentials.
	Env                map[string]string `json:"env,omitempty"`
	CallTimeoutMs      int64             `json:"callTimeoutMs,omitempty"`
	HandshakeTimeoutMs int64             `json:"handshakeTimeoutMs,omitempty"`
	SweepIntervalMs    int64             `json:"sweepIntervalMs,omitempty"`
	SweepConcurrency   int               `json:"sweepConcurrency,omitempty"`
}

// SessionConfig tunes session initialization and history replay.
type SessionConfig struct {
	PollIntervalMs int64 `json:"pollIntervalMs,omitempty"`
	MaxWaitMs      int64 `json:"maxWaitMs,omitempty"`
	HistoryLimit   int   `json:"historyLimit,omitempty"`
}

// WarehouseConfig holds the credentials the sandbox uses to reach the
// warehouse.
type WarehouseConfig struct {
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	APIURL       string `json:"apiUrl,omitempty"`
	AccountName  string `json:"accountName,omitempty"`
	Database     string `json:"database,omitempty"`
	Engine       string `json:"engine,omitempty"`
	// Schema is given to the agent verbatim. SchemaTool names a sandbox
	// tool whose output is used instead when Schema is empty.
	Schema     string `json:"schema,omitempty"`
	SchemaTool string `json:"schemaTool,omitempty"`
}

// RetrievalConfig points at the document search service.
type RetrievalConfig struct {
	Endpoint  string            `json:"endpoint,omitempty"`
	TopK      int               `json:"topK,omitempty"`
	TimeoutMs int64             `json:"timeoutMs,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

const (
	DefaultAddr         = ":8080"
	DefaultSandboxImage = "ghcr.io/firebolt-db/mcp-server:0.4.0"
	DefaultHistoryLimit = 20
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server:   ServerConfig{Addr: DefaultAddr},
		Sandbox: SandboxConfig{
			Image:              DefaultSandboxImage,
			CallTimeoutMs:      30_000,
			HandshakeTimeoutMs: 60_000,
			SweepConcurrency:   4,
		},
		Session: SessionConfig{
			PollIntervalMs: 1_000,
			MaxWaitMs:      30_000,
			HistoryLimit:   DefaultHistoryLimit,
		},
		Retrieval: RetrievalConfig{TopK: 10, TimeoutMs: 30_000},
	}
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SandboxEnv is the environment given to every sandbox: the warehouse
// credentials for the MCP server followed by extra.
func (w WarehouseConfig) SandboxEnv(extra map[string]string) map[string]string {
	env := map[string]string{
		"FIREBOLT_MCP_DISABLE_RESOURCES": "true",
	}
	set := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	set("FIREBOLT_MCP_CLIENT_ID", w.ClientID)
	set("FIREBOLT_MCP_CLIENT_SECRET", w.ClientSecret)
	set("FIREBOLT_MCP_ACCOUNT_NAME", w.AccountName)
	set("FIREBOLT_MCP_API_URL", w.APIURL)
	if w.Staging() {
		env["FIREBOLT_MCP_ENVIRONMENT"] = "staging.firebolt.io"
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

// Staging reports whether the API URL points at the staging environment.
func (w WarehouseConfig) Staging() bool {
	return strings.Contains(strings.ToLower(w.APIURL), "staging")
}
