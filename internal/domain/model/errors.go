package model

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the parent of every ValidationError. Requests failing
// validation are rejected before any remote call is made.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotAuthorized is returned when no credential is stored for a shop. The
// caller should send the merchant through the OAuth install flow.
var ErrNotAuthorized = errors.New("shop has not authorized the app")

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RemoteOp distinguishes reads from writes against the remote platform.
type RemoteOp string

const (
	RemoteRead  RemoteOp = "read"
	RemoteWrite RemoteOp = "write"
)

// RemoteError is a failed round trip to the commerce platform. StatusCode is
// zero when the request never produced a response.
type RemoteError struct {
	Op         RemoteOp
	Ref        MetafieldRef
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %s failed: status %d: %s", e.Op, e.Ref, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("remote %s %s failed: %v", e.Op, e.Ref, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
