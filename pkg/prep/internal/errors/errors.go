// Package errors holds the sentinel errors shared by the preparation engine.
// Callers match them with [errors.Is]; the wrapping error names the offending
// unit, operator or columns.
package errors

import "errors"

var (
	// ErrContractViolation is returned when an operator lacks a required
	// capability (fit or fit-transform, and transform).
	ErrContractViolation = errors.New("operator contract violation")

	// ErrResolution is returned when a resolvable operator fails to select a
	// concrete operator.
	ErrResolution = errors.New("operator resolution failed")

	// ErrInverseUnavailable is returned when the bound operator cannot invert
	// its transformation.
	ErrInverseUnavailable = errors.New("inverse transform unavailable")

	// ErrAmbiguousColumns is returned when dropping provenance would produce
	// duplicate column names.
	ErrAmbiguousColumns = errors.New("ambiguous column names")

	ErrNotFitted          = errors.New("operator is not fitted")
	ErrOverlappingColumns = errors.New("overlapping column groups")
	ErrDuplicateName      = errors.New("duplicate operator name")
	ErrUnknownClass       = errors.New("unknown operator class")
	ErrRowMismatch        = errors.New("row count mismatch")
)
