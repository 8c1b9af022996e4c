package faults

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SwarmError is the domain error carried through the coordinator, the
// recovery engine and the error log. Created once, never mutated afterwards
// except to mark it recovered.
type SwarmError struct {
	ID          string         `json:"id"`
	Code        Code           `json:"code"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Retryable   bool           `json:"retryable"`
	Message     string         `json:"message"`
	Component   string         `json:"component,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	AgentRole   string         `json:"agent_role,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Recovered   bool           `json:"recovered"`
	CreatedAt   time.Time      `json:"created_at"`

	cause error
}

// New builds a SwarmError from the taxonomy, stamping identity and time.
func New(code Code) *SwarmError {
	def := lookup(code)
	return &SwarmError{
		ID:          uuid.New().String(),
		Code:        code,
		Category:    def.Category,
		Severity:    def.Severity,
		Recoverable: def.Recoverable,
		Retryable:   def.Retryable,
		Message:     def.Message,
		CreatedAt:   time.Now(),
	}
}

func (e *SwarmError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SwarmError) Unwrap() error {
	return e.cause
}

func (e *SwarmError) WithMessage(msg string) *SwarmError {
	e.Message = msg
	return e
}

func (e *SwarmError) WithComponent(component string) *SwarmError {
	e.Component = component
	return e
}

func (e *SwarmError) WithSession(sessionID string) *SwarmError {
	e.SessionID = sessionID
	return e
}

func (e *SwarmError) WithRole(role string) *SwarmError {
	e.AgentRole = role
	return e
}

func (e *SwarmError) WithCause(err error) *SwarmError {
	e.cause = err
	return e
}

// WithContext attaches a context map after redacting credential-like values.
func (e *SwarmError) WithContext(ctx map[string]any) *SwarmError {
	e.Context = Sanitize(ctx)
	return e
}

// As extracts a SwarmError from an error chain, or nil.
func As(err error) *SwarmError {
	var se *SwarmError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// CodeOf returns the code of err if it carries one, or empty.
func CodeOf(err error) Code {
	if se := As(err); se != nil {
		return se.Code
	}
	return ""
}

var sensitiveKeyParts = []string{
	"password", "secret", "token", "key", "credential", "auth", "bearer", "passphrase",
}

func sensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lk, part) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of ctx with credential-like values redacted,
// recursing into nested maps. The input map is not modified.
func Sanitize(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if sensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}
