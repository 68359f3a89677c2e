// Package classify maps raw failure text onto a small taxonomy of error kinds
// with user-facing remediation messages.
//
// Classification is an ordered list of substring rules. The first matching
// rule wins, so more specific diagnostics are listed before generic ones and
// Unclassified is the total fallback.
package classify

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is an error category.
type Kind int

const (
	Unclassified Kind = iota
	InitializationTimeout
	TransportBroken
	CredentialExpired
	MarketplaceAccessDenied
	AuthDomainMismatch
	RelationNotFound
)

var kindNames = map[Kind]string{
	Unclassified:            "Unclassified",
	InitializationTimeout:   "InitializationTimeout",
	TransportBroken:         "TransportBroken",
	CredentialExpired:       "CredentialExpired",
	MarketplaceAccessDenied: "MarketplaceAccessDenied",
	AuthDomainMismatch:      "AuthDomainMismatch",
	RelationNotFound:        "RelationNotFound",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText lets kinds appear by name in JSON payloads and log fields.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Retryable reports whether message handling may invalidate the session and
// try once more.
func (k Kind) Retryable() bool {
	return k == TransportBroken
}

// Rule matches raw error text to a Kind.
type Rule struct {
	Kind Kind
	// Match receives the raw text and its lower-cased form.
	Match func(raw, lower string) bool
	// DetailLimit caps how much raw text is quoted back to the user.
	// Zero quotes the full text.
	DetailLimit int
}

// Rules is the prioritized rule list. Order matters.
var Rules = []Rule{
	{
		Kind: InitializationTimeout,
		Match: func(_, lower string) bool {
			return strings.Contains(lower, "initialization timed out")
		},
	},
	{
		Kind: CredentialExpired,
		Match: func(raw, lower string) bool {
			return (strings.Contains(raw, "ExpiredTokenException") || strings.Contains(lower, "expired")) &&
				strings.Contains(lower, "token")
		},
		DetailLimit: 200,
	},
	{
		Kind: MarketplaceAccessDenied,
		Match: func(raw, lower string) bool {
			return strings.Contains(raw, "AccessDeniedException") && strings.Contains(lower, "aws-marketplace")
		},
		DetailLimit: 200,
	},
	{
		Kind: AuthDomainMismatch,
		Match: func(raw, lower string) bool {
			return strings.Contains(raw, "Invalid domain") && strings.Contains(lower, "firebolt")
		},
		DetailLimit: 300,
	},
	{
		Kind: RelationNotFound,
		Match: func(_, lower string) bool {
			return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
		},
		DetailLimit: 500,
	},
	{
		Kind: TransportBroken,
		Match: func(raw, lower string) bool {
			return strings.Contains(raw, "Connection closed") || strings.Contains(lower, "closed")
		},
	},
}

// Text classifies raw error text. It never fails.
func Text(raw string) Kind {
	lower := strings.ToLower(raw)
	for _, r := range Rules {
		if r.Match(raw, lower) {
			return r.Kind
		}
	}
	return Unclassified
}

// Error is a classified failure. Cause keeps the original error for logs and
// errors.Is checks.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Message renders the user-facing diagnosis and remediation.
func (e *Error) Message() string {
	raw := ""
	if e.Cause != nil {
		raw = e.Cause.Error()
	}
	return Remediation(e.Kind, raw)
}

// Classify wraps err in an *Error. An error that is already classified is
// returned unchanged. Returns nil for a nil error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Kind: Text(err.Error()), Cause: err}
}

// As classifies err with fallback used in place of Unclassified. Connection
// bring-up uses it so unexplained failures there surface as TransportBroken.
func As(err error, fallback Kind) *Error {
	ce := Classify(err)
	if ce != nil && ce.Kind == Unclassified {
		return &Error{Kind: fallback, Cause: ce.Cause}
	}
	return ce
}

// KindOf returns the kind of err, classifying it if needed.
func KindOf(err error) Kind {
	if ce := Classify(err); ce != nil {
		return ce.Kind
	}
	return Unclassified
}

func detailLimit(kind Kind) int {
	for _, r := range Rules {
		if r.Kind == kind {
			return r.DetailLimit
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
