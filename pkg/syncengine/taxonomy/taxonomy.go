// Package taxonomy classifies every network/response failure the API
// client can produce into one of a closed set of variants (spec §4.7).
// It follows the constructor-per-variant shape of the teacher pack's
// infrastructure/errors/errors.go (ServiceError + one helper function per
// cause), but replaces that package's open, growable ErrorCode registry
// with a closed Kind enum and a single struct, since the spec fixes the
// variant set exactly and callers (the engine, the reconciler) dispatch
// on Kind with an exhaustive switch.
package taxonomy

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of failure variants.
type Kind string

const (
	Validation          Kind = "validation"
	Unauthorized         Kind = "unauthorized"
	PermissionDenied     Kind = "permission_denied"
	ResourceNotFound     Kind = "resource_not_found"
	Conflict             Kind = "conflict"
	PreconditionFailed   Kind = "precondition_failed"
	ClientVersionTooOld  Kind = "client_version"
	RateLimit            Kind = "rate_limit"
	Server               Kind = "server"
	ServiceUnavailable   Kind = "service_unavailable"
	Timeout              Kind = "timeout"
	Network              Kind = "network"
)

// Error is the taxonomy's single error type; Kind selects which of the
// variant-specific fields below are meaningful.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	TraceID    string

	// Validation
	Field      string
	Constraint string

	// PermissionDenied
	RequiredPermission string

	// ResourceNotFound
	ResourceType string
	ResourceID   string

	// Conflict
	ConflictType   string
	ServerVersion  string
	ClientVersion  string

	// PreconditionFailed
	CurrentETag  string
	ProvidedETag string

	// ClientVersionTooOld
	MinimumVersion string
	CurrentVersion string

	// RateLimit
	RetryAfter *time.Duration
	Limit      int
	Window     string
	ResetAt    *time.Time

	// ServiceUnavailable (RetryAfter reused; optional there)

	// Network
	ErrorType string
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return e.Message + " (" + string(e.Kind) + ", http " + strconv.Itoa(e.HTTPStatus) + ")"
	}
	return e.Message + " (" + string(e.Kind) + ")"
}

// Retryable reports whether the engine should retry the op that produced
// this error (spec §4.7 table). Unauthorized is handled specially by the
// engine (one refresh-then-retry) and is not itself retryable in the
// backoff sense.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case RateLimit, Server, ServiceUnavailable, Timeout, Network:
		return true
	default:
		return false
	}
}

// FromHTTPResponse classifies a parsed HTTP response into a taxonomy
// Error. body is the parsed JSON response object (possibly empty);
// fields it recognizes (field, constraint, resourceType, resourceId,
// etc.) are read out of it when present for the matching variant.
func FromHTTPResponse(status int, header http.Header, body map[string]any, traceID string, now time.Time) *Error {
	e := &Error{HTTPStatus: status, TraceID: traceID, Message: bodyString(body, "message")}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	switch {
	case status == 400 || status == 415 || status == 422:
		e.Kind = Validation
		e.Field = bodyString(body, "field")
		e.Constraint = bodyString(body, "constraint")
	case status == 401:
		e.Kind = Unauthorized
	case status == 403:
		e.Kind = PermissionDenied
		e.RequiredPermission = bodyString(body, "requiredPermission")
	case status == 404:
		e.Kind = ResourceNotFound
		e.ResourceType = bodyString(body, "resourceType")
		e.ResourceID = bodyString(body, "resourceId")
	case status == 409:
		e.Kind = Conflict
		e.ConflictType = bodyString(body, "conflictType")
		e.ServerVersion = bodyString(body, "serverVersion")
		e.ClientVersion = bodyString(body, "clientVersion")
	case status == 412:
		e.Kind = PreconditionFailed
		e.CurrentETag = bodyString(body, "currentETag")
		e.ProvidedETag = bodyString(body, "providedETag")
	case status == 426:
		e.Kind = ClientVersionTooOld
		e.MinimumVersion = bodyString(body, "minimumVersion")
		e.CurrentVersion = bodyString(body, "currentVersion")
	case status == 429:
		e.Kind = RateLimit
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
		e.Limit = bodyInt(body, "limit")
		e.Window = bodyString(body, "window")
		e.ResetAt = parseResetAt(body, "resetAt")
	case status == 503:
		e.Kind = ServiceUnavailable
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
	case status == 504:
		e.Kind = Timeout
	case status >= 500:
		e.Kind = Server
	default:
		e.Kind = Server
	}
	return e
}

// FromNetworkError classifies a transport-level error (no HTTP response
// was ever received) into the Network variant, tagging errorType with a
// coarse cause so logs/metrics can distinguish dns/tls/timeout/refused
// without a third-party classifier.
func FromNetworkError(err error, traceID string) *Error {
	e := &Error{Kind: Network, Message: err.Error(), TraceID: traceID}

	var netErr net.Error
	switch {
	case asNetError(err, &netErr) && netErr.Timeout():
		e.ErrorType = "timeout"
	case strings.Contains(err.Error(), "connection refused"):
		e.ErrorType = "connection_refused"
	case strings.Contains(err.Error(), "no such host"), strings.Contains(err.Error(), "lookup"):
		e.ErrorType = "dns"
	case strings.Contains(err.Error(), "x509"), strings.Contains(err.Error(), "tls"), strings.Contains(err.Error(), "certificate"):
		e.ErrorType = "tls"
	default:
		e.ErrorType = "unknown"
	}
	return e
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if !ok {
		return false
	}
	*target = ne
	return true
}

// parseRetryAfter accepts both integer-seconds and absolute HTTP-date
// forms (spec §4.7: "Retry-After parsing accepts both integer seconds
// and absolute HTTP dates"). It returns nil if header is empty or
// unparsable.
func parseRetryAfter(header string, now time.Time) *time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

func parseResetAt(body map[string]any, key string) *time.Time {
	s := bodyString(body, key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func bodyString(body map[string]any, key string) string {
	if body == nil {
		return ""
	}
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

func bodyInt(body map[string]any, key string) int {
	if body == nil {
		return 0
	}
	switch v := body[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
