package mediator

import (
	"errors"

	"github.com/c360studio/discoverer/description"
	"github.com/c360studio/discoverer/query"
	"github.com/c360studio/discoverer/registry"
)

// Mediator errors. Every error returned by a Mediator operation wraps one
// of these (or description.ErrInvalidData) so CodeOf can classify it.
var (
	// ErrInvalidData is returned for malformed descriptions, deltas or queries.
	ErrInvalidData = errors.New("invalid data")

	// ErrUnknownComponent is returned when the referenced component is not
	// registered.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrLease is returned when a lease cannot be renewed.
	ErrLease = errors.New("lease error")

	// ErrIO is returned when the journal cannot be read or written.
	ErrIO = errors.New("io failure")
)

// Code is the wire form of an error kind.
type Code string

// Wire error codes.
const (
	CodeNoError          Code = "NO_ERROR"
	CodeInvalidData      Code = "INVALID_DATA"
	CodeUnknownComponent Code = "UNKNOWN_COMPONENT"
	CodeLeaseError       Code = "LEASE_ERROR"
	CodeIOFailure        Code = "IO_FAILURE"
)

// CodeOf maps an error to its wire code. Unclassified errors report
// IO_FAILURE.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeNoError
	case errors.Is(err, ErrInvalidData),
		errors.Is(err, description.ErrInvalidData),
		errors.Is(err, query.ErrInvalidQuery):
		return CodeInvalidData
	case errors.Is(err, ErrUnknownComponent), errors.Is(err, registry.ErrNotFound):
		return CodeUnknownComponent
	case errors.Is(err, ErrLease):
		return CodeLeaseError
	default:
		return CodeIOFailure
	}
}
