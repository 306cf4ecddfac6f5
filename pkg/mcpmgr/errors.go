package mcpmgr

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidServerName is returned when a server name is empty after
	// trimming.
	ErrInvalidServerName = errors.New("mcpmgr: server name must not be empty")
	// ErrUnknownServer is returned when an operation references a name with no
	// registered configuration.
	ErrUnknownServer = errors.New("mcpmgr: unknown server")
	// ErrInvalidConfig is returned for configurations missing required fields.
	ErrInvalidConfig = errors.New("mcpmgr: invalid server config")
	// ErrNotConnected is returned by accessors that need a live session.
	ErrNotConnected = errors.New("mcpmgr: server not connected")
	// ErrSessionIDUnsupported is returned by GetSessionIDByServer for stdio and
	// SSE sessions, which have no transport-level session id.
	ErrSessionIDUnsupported = errors.New("mcpmgr: session id is only available for streamable http")
	// ErrSessionIDUnavailable is returned when a streamable session has not
	// been assigned an id by the server.
	ErrSessionIDUnavailable = errors.New("mcpmgr: session id unavailable")
	// ErrTimeout marks connect and request failures caused by the effective
	// timeout expiring. Test with IsTimeout or errors.Is.
	ErrTimeout = errors.New("mcpmgr: timeout")
	// ErrElicitationUnsupported is returned to a server whose elicitation
	// request has no handler or callback to go to.
	ErrElicitationUnsupported = errors.New("mcpmgr: elicitation not supported")
)

// IsTimeout reports whether err carries the timeout marker.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// markTimeout tags err with ErrTimeout when ctx expired because of its
// deadline. Other errors are returned unchanged.
func markTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &timeoutError{cause: err}
	}
	return err
}

// timeoutError keeps the original message and chain while also matching
// ErrTimeout under both the standard and cockroachdb errors.Is.
type timeoutError struct {
	cause error
}

func (e *timeoutError) Error() string        { return e.cause.Error() }
func (e *timeoutError) Unwrap() error        { return e.cause }
func (e *timeoutError) Is(target error) bool { return target == ErrTimeout }

func unknownServer(name string) error {
	return errors.Wrapf(ErrUnknownServer, "%q", name)
}
