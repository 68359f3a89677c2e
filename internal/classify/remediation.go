package classify

import (
	"fmt"
	"strings"
)

// Template is the user-facing text for one kind.
type Template struct {
	Title string
	Body  string
	Steps []string
	Note  string
}

// Templates holds the remediation text per kind. Unclassified has no entry
// and renders the raw error text.
var Templates = map[Kind]Template{
	InitializationTimeout: {
		Title: "Session Still Initializing",
		Body:  "Another request is still setting up this session's sandbox and did not finish in time.",
		Steps: []string{
			"Wait a few seconds and send your question again.",
			"If this keeps happening, check that the container runtime is healthy and the sandbox image can be pulled.",
		},
	},
	TransportBroken: {
		Title: "Connection Failed",
		Body:  "The connection to the data sandbox could not be established or was closed.",
		Steps: []string{
			"Refresh the page to start a new session.",
			"Check that the container runtime is running and the sandbox image is available.",
		},
	},
	CredentialExpired: {
		Title: "AWS Session Token Expired",
		Body:  "Your AWS session token has expired. Temporary AWS credentials usually last between 1 and 12 hours.",
		Steps: []string{
			"Get new AWS credentials, for example with `aws sso login` or from your AWS administrator.",
			"Update `AWS_ACCESS_KEY_ID`, `AWS_SECRET_ACCESS_KEY` and `AWS_SESSION_TOKEN` in your environment file.",
			"Restart the gateway so the new credentials are picked up.",
		},
		Note: "Permanent IAM user credentials carry no session token and should not hit this error.",
	},
	MarketplaceAccessDenied: {
		Title: "AWS Marketplace Access Error",
		Body:  "The configured model requires an AWS Marketplace subscription.",
		Steps: []string{
			"Subscribe to the model in AWS Marketplace, or ask your AWS administrator to allow the `aws-marketplace:Subscribe` action.",
			"Or pick another model with `BEDROCK_MODEL_ID`, for example `us.anthropic.claude-sonnet-4-20250514-v1:0`.",
		},
	},
	AuthDomainMismatch: {
		Title: "Firebolt Authentication Error",
		Body:  "The Firebolt client ID does not match the authentication domain.",
		Steps: []string{
			"Check that `FIREBOLT_ID` and `FIREBOLT_SECRET` belong to your Firebolt account.",
			"If you use a custom Firebolt domain, set `FIREBOLT_MCP_API_URL`.",
			"Contact Firebolt support if the credentials are correct but login still fails.",
		},
	},
	RelationNotFound: {
		Title: "Firebolt SQL Error: Relation Not Found",
		Body:  "The query referenced a table or index that does not exist in the database.",
		Steps: []string{
			"Verify the table or semantic index exists in the configured database.",
			"Semantic indexes are queried through `vector_search(INDEX <name>, ...)`, not selected from directly.",
			"Check that the session is connected to the expected database.",
		},
		Note: "This error came from the sandbox while executing SQL. The server logs contain the full query.",
	},
}

// Remediation renders the diagnosis and remediation steps for kind, quoting
// raw truncated to the kind's detail limit.
func Remediation(kind Kind, raw string) string {
	tpl, ok := Templates[kind]
	if !ok {
		return fmt.Sprintf("Error processing message: %s\n\nCheck server logs for details.", raw)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n%s\n", tpl.Title, tpl.Body)
	if len(tpl.Steps) > 0 {
		b.WriteString("\n**To fix this:**\n")
		for i, step := range tpl.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	if tpl.Note != "" {
		fmt.Fprintf(&b, "\n**Note:** %s\n", tpl.Note)
	}
	if raw != "" {
		fmt.Fprintf(&b, "\nError details: %s", truncate(raw, detailLimit(kind)))
	}
	return strings.TrimRight(b.String(), "\n")
}
