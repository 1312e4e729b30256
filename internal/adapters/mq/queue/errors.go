package queue

import "errors"

// Sentinel errors.
var (
	ErrFull   = errors.New("queue is full")
	ErrClosed = errors.New("queue is closed")
)
