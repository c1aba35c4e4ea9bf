// Package apperr defines the error taxonomy shared by the resolver, store, tracker and
// command layers. Every outward-facing failure is an *Error tagged with a Kind so callers
// can decide between "refuse", "try again" and "stop monitoring" without string matching.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes an error for propagation decisions.
type Kind int

const (
	// Internal is anything not otherwise classified. Never shown verbatim to users.
	Internal Kind = iota
	// NotFound means the identifier did not resolve to any server.
	NotFound
	// Unsupported means the server exists but is the wrong game or not official.
	Unsupported
	// TransientUpstream covers timeouts, 5xx and rate limiting from external services.
	TransientUpstream
	// PermanentDelivery means a notification target is unreachable for good.
	PermanentDelivery
	// DataInsufficient means a chart window has fewer points than required.
	DataInsufficient
)

// String returns a human-readable label for the kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Unsupported:
		return "unsupported"
	case TransientUpstream:
		return "transient_upstream"
	case PermanentDelivery:
		return "permanent_delivery"
	case DataInsufficient:
		return "data_insufficient"
	default:
		return "internal"
	}
}

// Error is a structured error with a kind, a user-safe message, an optional suggestion
// and an optional cause.
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Cause      error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// WithSuggestion returns a copy of e carrying an actionable hint.
func (e *Error) WithSuggestion(s string) *Error {
	cp := *e
	cp.Suggestion = s
	return &cp
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// KindOf reports the kind of err. Context deadline expiry counts as TransientUpstream.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientUpstream
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is worth retrying on a later tick.
func IsTransient(err error) bool { return Is(err, TransientUpstream) }

// ClassifyHTTPStatus maps an upstream HTTP status to a kind.
func ClassifyHTTPStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return TransientUpstream
	case code == http.StatusNotFound, code == http.StatusGone, code >= 400:
		return NotFound
	default:
		return Internal
	}
}

// UserMessage renders err as a single chat-safe line. Causes are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if !errors.As(err, &ae) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "The server directory took too long to answer. Try again in a moment."
		}
		return "Something went wrong while handling that command."
	}
	msg := ae.Message
	if msg == "" {
		msg = defaultMessage(ae.Kind)
	}
	if ae.Suggestion != "" {
		msg = strings.TrimRight(msg, ".") + ". " + ae.Suggestion
	}
	return msg
}

func defaultMessage(k Kind) string {
	switch k {
	case NotFound:
		return "That server was not found or is not available."
	case Unsupported:
		return "That server is not supported."
	case TransientUpstream:
		return "The server directory is not responding right now. Try again in a moment."
	case DataInsufficient:
		return "Not enough data yet. Check back later."
	default:
		return "Something went wrong while handling that command."
	}
}
