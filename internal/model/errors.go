package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeObjectNotFound: a local write or create targets a container absent from the document.
	CodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"

	// CodeUnknownObject: a change references an object its history never created.
	CodeUnknownObject ErrorCode = "UNKNOWN_OBJECT"

	// CodeMissingDependency: a change's causal predecessors are not present.
	CodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"

	// CodeMalformedOperation: unknown op type or value kind, or an inconsistent op.
	CodeMalformedOperation ErrorCode = "MALFORMED_OPERATION"

	// CodeDecodeError: corrupted serialized state.
	CodeDecodeError ErrorCode = "DECODE_ERROR"

	// CodeDuplicateSeq: two different changes claim the same (actor, seq).
	CodeDuplicateSeq ErrorCode = "DUPLICATE_SEQ"

	// CodeIndexOutOfRange: a list position outside the visible list.
	CodeIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"

	// CodeWrongObjectType: a map operation on a list or the reverse.
	CodeWrongObjectType ErrorCode = "WRONG_OBJECT_TYPE"
)

// Error is the structured error returned by the document and sync layers.
// Compare with errors.Is against the Err* sentinels; only Code is matched.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Hash identifies the affected change, if any.
	Hash ChangeHash

	// Obj identifies the affected object, if any.
	Obj ObjID

	// Missing lists absent dependency hashes (MISSING_DEPENDENCY only).
	Missing []ChangeHash

	// Err is the underlying cause.
	Err error
}

// Sentinels for errors.Is.
var (
	ErrObjectNotFound     = &Error{Code: CodeObjectNotFound, Message: "object not found"}
	ErrUnknownObject      = &Error{Code: CodeUnknownObject, Message: "unknown object"}
	ErrMissingDependency  = &Error{Code: CodeMissingDependency, Message: "missing dependency"}
	ErrMalformedOperation = &Error{Code: CodeMalformedOperation, Message: "malformed operation"}
	ErrDecode             = &Error{Code: CodeDecodeError, Message: "decode error"}
	ErrDuplicateSeq       = &Error{Code: CodeDuplicateSeq, Message: "duplicate sequence number"}
	ErrIndexOutOfRange    = &Error{Code: CodeIndexOutOfRange, Message: "index out of range"}
	ErrWrongObjectType    = &Error{Code: CodeWrongObjectType, Message: "wrong object type"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	switch {
	case e.Hash != "" && e.Obj != "":
		fmt.Fprintf(&b, " (change=%s, obj=%s)", shortHash(e.Hash), e.Obj)
	case e.Hash != "":
		fmt.Fprintf(&b, " (change=%s)", shortHash(e.Hash))
	case e.Obj != "":
		fmt.Fprintf(&b, " (obj=%s)", e.Obj)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func shortHash(h ChangeHash) string {
	if len(h) > 12 {
		return string(h[:12])
	}
	return string(h)
}

// NewObjectNotFound creates an OBJECT_NOT_FOUND error.
func NewObjectNotFound(obj ObjID) *Error {
	return &Error{Code: CodeObjectNotFound, Message: "object does not exist in document", Obj: obj}
}

// NewUnknownObject creates an UNKNOWN_OBJECT error for an op in change hash.
func NewUnknownObject(obj ObjID, hash ChangeHash) *Error {
	return &Error{Code: CodeUnknownObject, Message: "operation targets an object never created", Obj: obj, Hash: hash}
}

// NewMissingDependency creates a MISSING_DEPENDENCY error.
func NewMissingDependency(hash ChangeHash, missing []ChangeHash) *Error {
	return &Error{
		Code:    CodeMissingDependency,
		Message: fmt.Sprintf("%d causal predecessor(s) not present", len(missing)),
		Hash:    hash,
		Missing: missing,
	}
}

// NewMalformedOperation creates a MALFORMED_OPERATION error.
func NewMalformedOperation(message string) *Error {
	return &Error{Code: CodeMalformedOperation, Message: message}
}

// NewDecodeError creates a DECODE_ERROR wrapping cause.
func NewDecodeError(message string, cause error) *Error {
	return &Error{Code: CodeDecodeError, Message: message, Err: cause}
}

// NewIndexOutOfRange creates an INDEX_OUT_OF_RANGE error.
func NewIndexOutOfRange(obj ObjID, index, length int) *Error {
	return &Error{
		Code:    CodeIndexOutOfRange,
		Message: fmt.Sprintf("index %d out of range for length %d", index, length),
		Obj:     obj,
	}
}

// NewWrongObjectType creates a WRONG_OBJECT_TYPE error.
func NewWrongObjectType(obj ObjID, want, got ObjType) *Error {
	return &Error{
		Code:    CodeWrongObjectType,
		Message: fmt.Sprintf("expected %s, object is a %s", want, got),
		Obj:     obj,
	}
}

// IsObjectNotFound returns true if err is an OBJECT_NOT_FOUND error.
// Uses errors.Is to handle wrapped errors.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsMalformed returns true if err is a MALFORMED_OPERATION error.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedOperation)
}

// IsDecodeError returns true if err is a DECODE_ERROR.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDecode)
}
