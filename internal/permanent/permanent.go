// Package permanent marks failures that a retry cannot fix: a bad channel
// target, a 4xx from a provider, an undecodable snapshot. Transports stop
// their retry loops on it, and JetStream consumers ack instead of redelivering.
package permanent

import "errors"

// Error is a permanent failure with an optional machine-readable code.
type Error struct {
	Code string
	Err  error
}

func (e Error) Error() string {
	if e.Err == nil {
		if e.Code != "" {
			return "permanent error: " + e.Code
		}
		return "permanent error"
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// Mark wraps err without a code. Nil stays nil.
func Mark(err error) error {
	return WithCode("", err)
}

// WithCode wraps err with the marker and a code surfaced on notification outcomes.
// Params: code such as "invalid_recipient" and source error.
// Returns: wrapped error or nil.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return Error{Code: code, Err: err}
}

// Is reports whether the chain carries the marker.
func Is(err error) bool {
	var marked Error
	return errors.As(err, &marked)
}

// Code returns the code of the outermost marker, or "" when none is set.
func Code(err error) string {
	var marked Error
	if !errors.As(err, &marked) {
		return ""
	}
	return marked.Code
}
