package resembl

import "github.com/maci0/resembl/pkg/rerr"

// Kind re-exports pkg/rerr's error classification so callers outside the
// storage layer never need to import rerr directly.
type Kind = rerr.Kind

const (
	NotFound               = rerr.NotFound
	Ambiguous              = rerr.Ambiguous
	AlreadyExists          = rerr.AlreadyExists
	EmptyAliasSet          = rerr.EmptyAliasSet
	StaleIndex             = rerr.StaleIndex
	CorruptCache           = rerr.CorruptCache
	TransientStorageError  = rerr.TransientStorageError
	PermanentStorageError  = rerr.PermanentStorageError
	BadInput               = rerr.BadInput
)

// Error re-exports pkg/rerr's concrete error type.
type Error = rerr.Error

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return rerr.Is(err, kind)
}
