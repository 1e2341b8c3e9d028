package domain

import "context"

// DuplexChannel is a single full-duplex message connection to a protocol peer.
//
// Send may be called from many goroutines at once. Incoming returns the same
// channel on every call; it delivers raw frames in arrival order and is closed
// when the underlying connection ends. Close must cause Incoming to be closed
// and must be safe to call more than once.
type DuplexChannel interface {
	Send(ctx context.Context, data []byte) error
	Incoming() <-chan []byte
	Close() error
}
