package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingToken is returned when the handshake carries no token.
	ErrMissingToken = errors.New("gateway: token query parameter is required")

	// ErrUnauthorized is returned when the authenticator rejects the token.
	ErrUnauthorized = errors.New("gateway: token rejected")

	// ErrRateLimited is returned when an identity opens connections too fast.
	ErrRateLimited = errors.New("gateway: too many connection attempts")

	// ErrShuttingDown is returned for handshakes that arrive during shutdown.
	ErrShuttingDown = errors.New("gateway: shutting down")

	// ErrSocketClosed is returned by Send on a socket that is not open.
	ErrSocketClosed = errors.New("gateway: socket closed")

	// ErrBufferFull is returned by Send when the outbound buffer is full and
	// the overflow policy closes the socket.
	ErrBufferFull = errors.New("gateway: outbound buffer full")
)

// HandshakeError rejects a connection attempt before the upgrade. The
// registry is never touched for a rejected handshake.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("gateway: handshake rejected (%d): %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func handshakeError(err error) *HandshakeError {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}
	return &HandshakeError{Status: status, Err: err}
}
