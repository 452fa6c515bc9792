package state

import "errors"

// Errors
var (
	ErrInvalidEntityID = errors.New("invalid entity id")
	ErrInvalidState    = errors.New("invalid state")
	ErrEntityNotFound  = errors.New("entity not found")
	ErrUpdateTimeout   = errors.New("update timeout")
	ErrNilCallback     = errors.New("nil callback")
)
