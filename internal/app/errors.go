package service

import "errors"

var (
	// ErrNotStarted is returned when the service is used before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrInvalidItem rejects an item without a name.
	ErrInvalidItem = errors.New("invalid item")
	// ErrInvalidEvent rejects an experience event without a user or with a
	// non-positive amount.
	ErrInvalidEvent = errors.New("invalid experience event")
	// ErrDuplicateEvent is returned for an experience event id already queued.
	ErrDuplicateEvent = errors.New("experience event already queued")
	// ErrBackpressure is returned when the experience queue is full.
	ErrBackpressure = errors.New("experience queue is full")
)
