package sync

import "errors"

// Kind classifies the errors the engine itself can raise, as distinct
// from opaque errors bubbling up from a RemoteStore, LocalBackupStore,
// FileAccessor, or Strategy implementation.
type Kind int

const (
	// KindIncompatible means the remote envelope's version exceeds the
	// strategy's declared version, or the envelope could not be parsed.
	KindIncompatible Kind = iota
	// KindPreconditionFailed means the remote store rejected a write
	// because the supplied ref no longer matches the server's.
	KindPreconditionFailed
	// KindLocalPreconditionFailed means the local file changed since the
	// snapshot the strategy read it at.
	KindLocalPreconditionFailed
	// KindNetwork marks a transient transport failure from the remote
	// store; the caller decides whether to retry.
	KindNetwork
	// KindTooManyRetries means performSync's precondition-retry loop hit
	// MaxPreconditionRetries without converging.
	KindTooManyRetries
)

func (k Kind) String() string {
	switch k {
	case KindIncompatible:
		return "Incompatible"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindLocalPreconditionFailed:
		return "LocalPreconditionFailed"
	case KindNetwork:
		return "NetworkError"
	case KindTooManyRetries:
		return "TooManyRetries"
	default:
		return "Unknown"
	}
}

// Error is the error type the engine returns for the kinds above. It
// wraps an optional cause so callers can errors.As/errors.Is through to
// the underlying transport or filesystem error while still switching on
// Kind.
type Error struct {
	Kind     Kind
	Resource Resource
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		if e.Cause != nil {
			return string(e.Resource) + ": " + e.Kind.String() + ": " + e.Cause.Error()
		}
		return string(e.Resource) + ": " + e.Kind.String()
	}
	return string(e.Resource) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, resource Resource, message string, cause error) *Error {
	return &Error{Kind: kind, Resource: resource, Message: message, Cause: cause}
}

// NewError constructs an exported *Error, for use by external
// RemoteStore/LocalBackupStore/FileAccessor/Strategy implementations
// that need to raise a specific Kind the engine understands (e.g. a
// RemoteStore.Write implementation reporting KindPreconditionFailed).
func NewError(kind Kind, resource Resource, message string, cause error) error {
	return newError(kind, resource, message, cause)
}

// NewPreconditionFailedError is sugar for NewError(KindPreconditionFailed, ...).
func NewPreconditionFailedError(resource Resource, message string, cause error) error {
	return newError(KindPreconditionFailed, resource, message, cause)
}

// NewNetworkError is sugar for NewError(KindNetwork, ...).
func NewNetworkError(resource Resource, message string, cause error) error {
	return newError(KindNetwork, resource, message, cause)
}

// IsKind reports whether err is a *Error of the given kind, unwrapping
// as needed.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// ErrTooManyRetries is returned (wrapped in a *Error with KindTooManyRetries)
// when performSync's precondition-retry loop exceeds MaxPreconditionRetries.
var ErrTooManyRetries = errors.New("sync: too many precondition retries")

// File service error sentinels. internal/localstore.Files returns these
// (wrapped as appropriate) so the engine can translate them into
// KindLocalPreconditionFailed.
var (
	ErrFileNotFound      = errors.New("sync: file not found")
	ErrFileModifiedSince = errors.New("sync: file modified since snapshot")
)
