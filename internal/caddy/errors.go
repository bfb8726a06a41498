package caddy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors. Match them with errors.Is; the concrete value is usually a
// *StoreError carrying the request details.
var (
	// ErrNotFound means the path or id does not resolve. Callers check
	// existence first precisely because absence is normal.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an object with the same @id or key already exists.
	ErrConflict = errors.New("already exists")
	// ErrStoreUnavailable covers transport failures, timeouts and 5xx
	// answers. It is never a statement about absence.
	ErrStoreUnavailable = errors.New("caddy admin API unavailable")
	// ErrRejected is any other client error returned by the admin API.
	ErrRejected = errors.New("rejected by caddy")
	// ErrInvalidRoute is returned before any request is made when a route
	// definition is malformed.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrVerification means a delete was acknowledged but the route is
	// still present after all re-checks.
	ErrVerification = errors.New("verification failed")
)

// StoreError describes a failed admin API call.
type StoreError struct {
	Op     string // get, add, delete, ...
	Path   string // admin path the request targeted
	Status int    // HTTP status, 0 when no response was received
	Msg    string // error message from Caddy or the transport
	Err    error  // one of the sentinels above
	Cause  error  // underlying transport or context error, if any
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *StoreError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IsNotFound reports whether err is an absence.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a duplicate.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsUnavailable reports whether the store could not be reached at all.
func IsUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// classify maps an admin API status and message onto a sentinel.
func classify(status int, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrStoreUnavailable
	case strings.Contains(lower, "duplicate id"), strings.Contains(lower, "already exists"):
		return ErrConflict
	case strings.Contains(lower, "unknown object id"),
		strings.Contains(lower, "invalid traversal path"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "out of bounds"):
		return ErrNotFound
	default:
		return ErrRejected
	}
}
