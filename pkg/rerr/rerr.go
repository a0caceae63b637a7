// Package rerr defines resembl's typed error kinds. Errors that carry one
// of these let the orchestrator and CLI branch on Kind rather than
// string-matching error messages; packages such as lsh, minhash and config
// return plain errors.
package rerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories the core boundary returns.
type Kind int

const (
	Unknown Kind = iota
	// NotFound: no snippet / collection / tag matches.
	NotFound
	// Ambiguous: a prefix or name matches more than one row.
	Ambiguous
	// AlreadyExists: a unique constraint would be violated.
	AlreadyExists
	// EmptyAliasSet: removing a name would leave zero names.
	EmptyAliasSet
	// StaleIndex: index parameters disagree with stored MinHashes.
	StaleIndex
	// CorruptCache: recovered by rebuild; a warning, not a hard error.
	CorruptCache
	// TransientStorageError: caller may retry.
	TransientStorageError
	// PermanentStorageError: fatal.
	PermanentStorageError
	// BadInput: invalid config value, non-UTF-8 code, unsupported params.
	BadInput
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Ambiguous:
		return "ambiguous"
	case AlreadyExists:
		return "already_exists"
	case EmptyAliasSet:
		return "empty_alias_set"
	case StaleIndex:
		return "stale_index"
	case CorruptCache:
		return "corrupt_cache"
	case TransientStorageError:
		return "transient_storage_error"
	case PermanentStorageError:
		return "permanent_storage_error"
	case BadInput:
		return "bad_input"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carrying a Kind, a human-readable
// message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var target *Error
	if !errors.As(err, &target) {
		return false
	}
	return target.Kind == kind
}
