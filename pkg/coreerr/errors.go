// Package coreerr defines the closed set of failure kinds the core
// distinguishes internally, checked with errors.Is at call sites.
package coreerr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrExpired           = errors.New("proposal expired")
	ErrPaused            = errors.New("system paused")
	ErrUnauthorized      = errors.New("missing permission")
	ErrConfig            = errors.New("configuration error")
)
