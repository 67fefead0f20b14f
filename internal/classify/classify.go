// Package classify maps raw failure information from the analyzer pipeline
// onto a closed set of user-facing error categories. The mapping is advisory
// for UI copy only; nothing in the engine retries based on a category.
package classify

import "strings"

// Category is a user-facing error category.
type Category string

const (
	NotFound           Category = "not_found"
	PayloadTooLarge    Category = "payload_too_large"
	ServerFault        Category = "server_fault"
	ServiceUnavailable Category = "service_unavailable"
	Timeout            Category = "timeout"
	ResourceExhausted  Category = "resource_exhausted"
	UnsupportedFormat  Category = "unsupported_format"
	NetworkUnreachable Category = "network_unreachable"
	SessionExpired     Category = "session_expired"
	Unknown            Category = "unknown"
)

// Input carries the raw failure facts available at classification time.
type Input struct {
	HTTPStatus       int
	TransportFailure bool
	NoSession        bool
	RawMessage       string
}

// statusCategories maps exact HTTP status codes to categories. Checked before
// any message pattern.
var statusCategories = map[int]Category{
	404: NotFound,
	413: PayloadTooLarge,
	500: ServerFault,
	503: ServiceUnavailable,
}

// messageRule associates substring patterns with a category. Rules are checked
// in declaration order and the first matching pattern wins; backend messages
// can plausibly match more than one rule.
type messageRule struct {
	patterns []string
	category Category
}

var messageRules = []messageRule{
	{patterns: []string{"timeout", "timed out", "deadline exceeded"}, category: Timeout},
	{patterns: []string{"out of memory", "oom", "memory"}, category: ResourceExhausted},
	{patterns: []string{"unsupported format", "invalid format", "format", "codec", "mime"}, category: UnsupportedFormat},
}

// Classify maps raw failure information to its category. Precedence: exact
// HTTP status, then message patterns in table order, then transport failure,
// then missing session, then Unknown.
func Classify(in Input) Category {
	if c, ok := statusCategories[in.HTTPStatus]; ok {
		return c
	}

	msg := strings.ToLower(in.RawMessage)
	if msg != "" {
		for _, rule := range messageRules {
			for _, p := range rule.patterns {
				if strings.Contains(msg, p) {
					return rule.category
				}
			}
		}
	}

	if in.TransportFailure {
		return NetworkUnreachable
	}
	if in.NoSession {
		return SessionExpired
	}
	return Unknown
}
