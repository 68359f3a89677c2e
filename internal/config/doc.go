// Package config loads the gateway configuration.
//
// Load merges configuration from several sources, later ones overriding
// earlier ones key by key:
//
//  1. Global config (~/.config/datachat/datachat.json or .jsonc)
//  2. Project config (datachat.json or .jsonc in the working directory)
//  3. The file named by DATACHAT_CONFIG
//  4. Inline JSON in DATACHAT_CONFIG_CONTENT
//  5. Environment variables
//
// Files may contain comments (JSONC, stripped with tidwall/jsonc) and two
// kinds of placeholders inside string values:
//   - {env:VAR_NAME} expands to the environment variable
//   - {file:path} expands to the file's contents, JSON-escaped; relative
//     paths resolve against the config file's directory and ~/ against HOME
//
// The environment overrides use the names the deployment already exports:
// FIREBOLT_ID, FIREBOLT_SECRET, FIREBOLT_MCP_API_URL, FIREBOLT_ACCOUNT_NAME,
// FIREBOLT_DATABASE, FIREBOLT_ENGINE_NAME, AWS_ACCESS_KEY_ID (or AWS_KEY),
// AWS_SECRET_ACCESS_KEY (or AWS_SECRET), AWS_SESSION_TOKEN, AWS_REGION,
// BEDROCK_MODEL_ID, plus DATACHAT_LOG_LEVEL, DATACHAT_ADDR, DATACHAT_DATA_DIR,
// DATACHAT_MODEL_PROVIDER, DATACHAT_SANDBOX_IMAGE, DATACHAT_RETRIEVAL_URL and
// DATACHAT_SWEEP_INTERVAL_MS.
//
// # Example
//
//	{
//	  // Bedrock in us-west-2
//	  "model": {"provider": "bedrock", "region": "us-west-2"},
//	  "warehouse": {
//	    "clientId": "{env:FB_CLIENT}",
//	    "clientSecret": "{file:~/.secrets/firebolt}",
//	    "database": "sales"
//	  },
//	  "sandbox": {"sweepIntervalMs": 600000}
//	}
//
// A Watcher reloads the configuration when one of these files changes. Only
// settings read at use time, such as the log level, take effect without a
// restart.
package config
