package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Files lists the config files Load reads, lowest priority first. Files
// that do not exist are included.
func Files(directory string) []string {
	globalPath := GetPaths().Config
	files := []string{
		filepath.Join(globalPath, AppName+".json"),
		filepath.Join(globalPath, AppName+".jsonc"),
	}
	if directory != "" {
		files = append(files,
			filepath.Join(directory, AppName+".json"),
			filepath.Join(directory, AppName+".jsonc"),
		)
	}
	if configPath := os.Getenv("DATACHAT_CONFIG"); configPath != "" {
		files = append(files, configPath)
	}
	return files
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/datachat/)
// 2. Project config (directory)
// 3. DATACHAT_CONFIG file
// 4. DATACHAT_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped. A file that cannot be parsed is an error.
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	for _, path := range Files(directory) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			continue
		}
		err = loadConfigFile(path, config, filepath.Dir(path))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		loaded[absPath] = true
	}

	if content := os.Getenv("DATACHAT_CONFIG_CONTENT"); content != "" {
		data := interpolate(jsonc.ToJSON([]byte(content)), ".")
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("DATACHAT_CONFIG_CONTENT: %w", err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// loadConfigFile decodes a file over config, so it only overrides the keys
// it sets.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	return json.Unmarshal(data, config)
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return escapeJSON(os.Getenv(varName))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		return escapeJSON(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

// applyEnvOverrides applies environment variable overrides. Where two
// names are listed the first one set wins.
func applyEnvOverrides(config *Config) {
	str := func(target *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*target = v
				return
			}
		}
	}

	str(&config.LogLevel, "DATACHAT_LOG_LEVEL")
	str(&config.DataDir, "DATACHAT_DATA_DIR")
	str(&config.Server.Addr, "DATACHAT_ADDR")

	w := &config.Warehouse
	str(&w.ClientID, "FIREBOLT_ID")
	str(&w.ClientSecret, "FIREBOLT_SECRET")
	str(&w.APIURL, "FIREBOLT_MCP_API_URL")
	str(&w.AccountName, "FIREBOLT_ACCOUNT_NAME")
	str(&w.Database, "FIREBOLT_DATABASE")
	str(&w.Engine, "FIREBOLT_ENGINE_NAME")

	m := &config.Model
	str(&m.Provider, "DATACHAT_MODEL_PROVIDER")
	str(&m.Model, "BEDROCK_MODEL_ID")
	str(&m.Region, "AWS_REGION", "AWS_DEFAULT_REGION")
	str(&m.AccessKeyID, "AWS_ACCESS_KEY_ID", "AWS_KEY")
	str(&m.SecretAccessKey, "AWS_SECRET_ACCESS_KEY", "AWS_SECRET")
	str(&m.SessionToken, "AWS_SESSION_TOKEN")

	str(&config.Sandbox.Image, "DATACHAT_SANDBOX_IMAGE")
	str(&config.Retrieval.Endpoint, "DATACHAT_RETRIEVAL_URL")

	if v := os.Getenv("DATACHAT_SWEEP_INTERVAL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Sandbox.SweepIntervalMs = ms
		}
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
