// Package transport abstracts the byte link to one board: a UART
// serial port or a UDP socket. Transports only connect, move raw
// frames, and close; reconnection policy lives in the board.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks an expired receive window. It is not a link
// failure: the board keeps the session and moves on to the next tick.
var ErrTimeout = errors.New("transport: receive timeout")

// Transport is the link to one board. Send and Receive are only valid
// between a successful Connect and the next error; any hard I/O error
// invalidates the session and the owner must Connect again.
type Transport interface {
	Connect(ctx context.Context) error
	// Send transmits one frame.
	Send(data []byte) error
	// Receive blocks for up to timeout and returns one frame.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
	// Describe identifies the endpoint for logs.
	Describe() string
}
