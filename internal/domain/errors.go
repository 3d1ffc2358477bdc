package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotInitialized      = errors.New("credits not initialized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateOperation  = errors.New("duplicate operation")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrStaleUpdate         = errors.New("stale update")
)
