package store

import "errors"

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	ErrInvalidDocument = errors.New("invalid document")
	ErrMissingID       = errors.New("document id is required")
)
