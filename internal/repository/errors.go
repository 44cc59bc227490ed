// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios.
// ErrConflict covers every non-retriable transition failure: acting on a
// reveal in the wrong state, on a reveal owned by a different user, or on
// a reveal that does not exist. The three cases are deliberately
// collapsed: the caller's remedy is the same for all of them, and
// distinguishing "missing" from "not yours" would leak existence
// information.
package repository

import "errors"

// ErrConflict is returned when a transition predicate does not match and
// the row is not already past the requested state. Handlers should
// translate this into an HTTP 409 response and callers must not retry.
var ErrConflict = errors.New("conflict")

// ErrMatchExists is returned when the detector attempts to create a match
// for a pair that already has one. The unique index on the canonical pair
// enforces this at the database level.
var ErrMatchExists = errors.New("match already exists")
