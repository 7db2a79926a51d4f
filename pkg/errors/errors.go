// Package errors provides sentinel errors shared by the node's packages.
package errors

import stderrors "errors"

var (
	// ErrNotFound indicates the requested entry, key or route was not found.
	ErrNotFound = stderrors.New("not found")

	// ErrClosed indicates the component has been closed.
	ErrClosed = stderrors.New("closed")

	// ErrInvalidInput indicates the input is invalid.
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrAlreadyExists indicates the entry already exists.
	ErrAlreadyExists = stderrors.New("already exists")

	// ErrNotConnected indicates a required link to a counterpart is not established.
	ErrNotConnected = stderrors.New("not connected")

	// ErrTimeout indicates an operation did not complete before its deadline.
	ErrTimeout = stderrors.New("timeout")
)
