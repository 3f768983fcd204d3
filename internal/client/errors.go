package client

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send once the transport is no longer open.
var ErrNotConnected = errors.New("not connected to server")

// ConnectError reports a transport that failed before it opened: refused
// connection, TLS failure, or a rejected upgrade.
type ConnectError struct {
	// Endpoint is the dialed URL with the credential redacted.
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
