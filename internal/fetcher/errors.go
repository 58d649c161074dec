package fetcher

import (
	"errors"
	"fmt"

	"github.com/jgoulah/gmpfetcher/internal/gmp"
)

// Kind classifies why a cycle failed.
type Kind int

const (
	// KindNone is returned by KindOf for nil or unclassified errors.
	KindNone Kind = iota
	// KindUpstream is any failure talking to or authenticating against the usage API.
	KindUpstream
	// KindPersistence is any failure writing the snapshot document.
	KindPersistence
	// KindUnhandled is anything else that escaped a cycle, such as a panic.
	KindUnhandled
)

func (k Kind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	case KindUnhandled:
		return "unhandled"
	default:
		return "none"
	}
}

// Error is the typed failure of one cycle.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the next scheduled cycle can be expected to
// succeed without operator action. Rejected credentials are not.
func (e *Error) Retryable() bool {
	var authErr *gmp.AuthError
	return !errors.As(e.Err, &authErr)
}

// KindOf returns the kind of a cycle error, or KindNone.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
