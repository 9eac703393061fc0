// Package simerr defines the error kinds shared across the simulation core.
//
// Every failure in the engine falls into one of a small set of kinds so that
// callers can branch with errors.Is without depending on the package that
// produced the error. There are no retryable faults in a deterministic
// simulation: a fault is either a setup defect, a broken artifact, or a
// request outside the recorded range.
package simerr

import "errors"

var (
	// ErrConfig marks malformed or inconsistent field/scenario metadata.
	// Fatal at setup, never recovered.
	ErrConfig = errors.New("config error")

	// ErrStorage marks an unwritable artifact directory or a path conflict.
	// Surfaced before the simulation starts.
	ErrStorage = errors.New("storage error")

	// ErrCorruption marks a checksum mismatch or malformed delta/checkpoint
	// encountered on read. Reconstruction for that run fails; nothing is
	// silently patched.
	ErrCorruption = errors.New("corruption error")

	// ErrNotFound marks a query or hydration target outside the recorded
	// range, or a missing artifact file.
	ErrNotFound = errors.New("not found")

	// ErrState marks a read against a facade with no tick loaded.
	ErrState = errors.New("state error")
)
