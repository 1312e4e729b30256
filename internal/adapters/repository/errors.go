package repository

import "errors"

// Sentinel errors shared by every Store implementation.
var (
	ErrNotFound      = errors.New("item not found")
	ErrAlreadyExists = errors.New("item already exists")
	ErrConflict      = errors.New("rating record changed concurrently")
	ErrDuplicate     = errors.New("already applied")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrInvalidAmount = errors.New("experience amount must be positive")
)
