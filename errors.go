package lbcore

import "github.com/zeebo/errs"

var (
	// Error is the class of errors returned by this package.
	Error = errs.Class("lbcore")

	// NotFound is returned when an oracle sample does not exist.
	NotFound = errs.Class("not found")

	// RangeError is returned when a value does not fit the field it is
	// written to and silently truncating it would corrupt state.
	RangeError = errs.Class("out of range")

	// LookupTooOld is returned when a lookup asks for a time before the
	// oldest sample still held by the oracle.
	LookupTooOld = errs.Class("lookup timestamp too old")

	// InvariantError is returned by Tree.Verify when the levels disagree.
	InvariantError = errs.Class("tree invariant")

	// StorageError wraps failures of a Store.
	StorageError = errs.Class("storage")
)
