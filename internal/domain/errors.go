package domain

import "errors"

var (
	ErrAuth               = errors.New("authentication failed")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrNotFound           = errors.New("not found")
	ErrDispatchFailure    = errors.New("push dispatch failed")
	ErrPersistenceFailure = errors.New("persistence failed")
	ErrInvalidEvent       = errors.New("invalid event")
)
