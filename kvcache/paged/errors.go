package paged

import "errors"

// ErrNoFreeBlocks is returned by Allocator.Allocate when the free list is
// empty. Callers are expected to check CanAllocate before calling Allocate;
// this error exists for the callers that don't.
var ErrNoFreeBlocks = errors.New("paged: no free blocks available")

// PreconditionError reports a caller bug: a violated precondition that the
// core treats as fatal rather than recoverable (spec: "PreconditionViolation").
// Methods that detect one call panic(PreconditionError{...}) rather than
// returning it, since the only defined recovery is "the process terminates"
// (or the caller recover()s at a request boundary and tears down the whole
// sequence/session, never the cache alone).
type PreconditionError struct {
	Op  string
	Msg string
}

func (e PreconditionError) Error() string {
	return "paged: " + e.Op + ": " + e.Msg
}

func precondition(op, msg string) {
	panic(PreconditionError{Op: op, Msg: msg})
}
