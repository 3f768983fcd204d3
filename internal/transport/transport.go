// Package transport defines the duplex, message-oriented connection used by
// session clients. Implementations live in sub-packages.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Read and Write once the connection has been
// closed, either locally or by the peer.
var ErrClosed = errors.New("transport closed")

// Conn abstracts a bidirectional frame connection to a single endpoint.
type Conn interface {
	// Read reads a single inbound message frame.
	// Returns an error wrapping ErrClosed when the peer closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single text frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
