package model

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrUnknownExchange      = errors.New("unknown exchange")
	ErrInvalidFilter        = errors.New("invalid opportunity filter")
	ErrPositionClosed       = errors.New("position is closed")
	ErrDuplicatePosition    = errors.New("open position already exists for leg pair")
	ErrRiskLimit            = errors.New("risk limit exceeded")
	ErrCollectionInProgress = errors.New("collection run already in progress")
	ErrNoAdapters           = errors.New("no exchange adapters registered")
	ErrLockHeld             = errors.New("lock held by another owner")
	ErrInvalidMetadata      = errors.New("invalid metadata value")
)
