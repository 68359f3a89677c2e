package classify

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"expired token exception", "ExpiredTokenException: The security token included in the request is expired", CredentialExpired},
		{"expired lower-case", "credentials expired: session token no longer valid", CredentialExpired},
		{"expired without token", "certificate expired", Unclassified},
		{"marketplace", "AccessDeniedException: not authorized to perform aws-marketplace:ViewSubscriptions", MarketplaceAccessDenied},
		{"access denied elsewhere", "AccessDeniedException: s3:GetObject", Unclassified},
		{"firebolt domain", "Invalid domain for client on id.firebolt.io", AuthDomainMismatch},
		{"relation", `relation "pdf_chunks" does not exist`, RelationNotFound},
		{"connection closed", "Connection closed", TransportBroken},
		{"pipe closed", "write |1: file already closed", TransportBroken},
		{"timeout", "session: initialization timed out after 30s", InitializationTimeout},
		{"unrelated", "division by zero", Unclassified},
		{"empty", "", Unclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.raw))
		})
	}
}

func TestRuleOrder(t *testing.T) {
	// Matches both CredentialExpired and TransportBroken; the earlier rule wins.
	raw := "ExpiredTokenException: token expired, connection closed"
	assert.Equal(t, CredentialExpired, Text(raw))

	// A missing relation reported over a closing stream is still a SQL error.
	raw = `relation "t" does not exist (stream closed)`
	assert.Equal(t, RelationNotFound, Text(raw))

	assert.Equal(t, InitializationTimeout, Rules[0].Kind)
	assert.Equal(t, TransportBroken, Rules[len(Rules)-1].Kind)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	cause := errors.New(`relation "orders" does not exist`)
	ce := Classify(fmt.Errorf("run_query: %w", cause))
	require.NotNil(t, ce)
	assert.Equal(t, RelationNotFound, ce.Kind)
	assert.ErrorIs(t, ce, cause)

	// Already classified errors pass through untouched.
	wrapped := fmt.Errorf("handle: %w", &Error{Kind: InitializationTimeout, Cause: errors.New("waited 30s")})
	ce = Classify(wrapped)
	assert.Equal(t, InitializationTimeout, ce.Kind)
	assert.Equal(t, InitializationTimeout, KindOf(wrapped))
}

func TestAsFallback(t *testing.T) {
	ce := As(errors.New("exec: \"docker\": executable file not found in $PATH"), TransportBroken)
	assert.Equal(t, TransportBroken, ce.Kind)

	ce = As(errors.New("Invalid domain for firebolt client"), TransportBroken)
	assert.Equal(t, AuthDomainMismatch, ce.Kind)

	assert.Nil(t, As(nil, TransportBroken))
}

func TestRetryable(t *testing.T) {
	for kind := range kindNames {
		assert.Equal(t, kind == TransportBroken, kind.Retryable(), kind.String())
	}
}

func TestRemediation(t *testing.T) {
	t.Run("truncates detail", func(t *testing.T) {
		raw := "ExpiredTokenException token " + strings.Repeat("x", 400)
		msg := Remediation(CredentialExpired, raw)
		assert.True(t, strings.HasPrefix(msg, "**AWS Session Token Expired**"))
		assert.Contains(t, msg, "1. Get new AWS credentials")
		detail := msg[strings.Index(msg, "Error details: ")+len("Error details: "):]
		assert.Len(t, detail, 200)
	})

	t.Run("relation keeps longer detail", func(t *testing.T) {
		raw := `relation "x" does not exist ` + strings.Repeat("y", 600)
		msg := Remediation(RelationNotFound, raw)
		detail := msg[strings.Index(msg, "Error details: ")+len("Error details: "):]
		assert.Len(t, detail, 500)
	})

	t.Run("unclassified quotes raw text", func(t *testing.T) {
		msg := Remediation(Unclassified, "boom")
		assert.Equal(t, "Error processing message: boom\n\nCheck server logs for details.", msg)
	})

	t.Run("every kind renders", func(t *testing.T) {
		for kind := range kindNames {
			assert.NotEmpty(t, (&Error{Kind: kind, Cause: errors.New("cause")}).Message(), kind.String())
		}
	})
}

func TestKindMarshalText(t *testing.T) {
	b, err := TransportBroken.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "TransportBroken", string(b))
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
