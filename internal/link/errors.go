package link

import (
	"errors"
	"fmt"
)

var (
	ErrReadTimeout    = errors.New("link: read timeout")
	ErrRemoteClosed   = errors.New("link: remote closed connection")
	ErrWriteFailed    = errors.New("link: write failed")
	ErrHeartbeatStale = errors.New("link: remote heartbeat stale")
	ErrUnknownTopo    = errors.New("link: unknown topology")
)

// ConnectionError ends one connection. The manager reconnects after it.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("link: connection closed (%s): %v", e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// reason maps a worker error onto a short metrics label.
func reason(err error) string {
	var ce *ConnectionError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, ErrHeartbeatStale):
		return "heartbeat_stale"
	case errors.Is(err, ErrReadTimeout):
		return "read_timeout"
	case errors.Is(err, ErrRemoteClosed):
		return "remote_closed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	default:
		return "read_error"
	}
}
