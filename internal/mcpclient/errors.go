package mcpclient

import "fmt"

// NotConfiguredError is returned by operations referencing an unknown
// server name (spec.md §4.5.1 "Unknown server").
type NotConfiguredError struct{ Name string }

func (e *NotConfiguredError) Error() string { return fmt.Sprintf("server %q not configured", e.Name) }
func (e *NotConfiguredError) HTTPStatus() int { return 404 }

// DisabledServerError is returned when a server's config has Enabled ==
// false; ensureConnected checks this before any breaker or connect
// attempt (§4.5.1 "Disabled server").
type DisabledServerError struct{ Name string }

func (e *DisabledServerError) Error() string {
	return fmt.Sprintf("Server '%s' is disabled", e.Name)
}
func (e *DisabledServerError) HTTPStatus() int { return 409 }

// MCPError is the catch-all transport/protocol failure kind.
type MCPError struct{ Message string }

func (e *MCPError) Error() string   { return e.Message }
func (e *MCPError) HTTPStatus() int { return 500 }

// CircuitBreakerOpenError is returned when a server's breaker is open
// and its cooldown has not elapsed (§4.5.1).
type CircuitBreakerOpenError struct {
	Name       string
	RetryAfter float64 // seconds; 0 if unknown
}

func (e *CircuitBreakerOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker open for %q, retry after %.1fs", e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("circuit breaker open for %q", e.Name)
}
func (e *CircuitBreakerOpenError) HTTPStatus() int { return 503 }

// TransportError wraps a transport-level failure (connect/call/read)
// with the server and operation it happened during.
type TransportError struct {
	Server    string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp %s: %s: %v", e.Server, e.Operation, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) HTTPStatus() int { return 500 }
