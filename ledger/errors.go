package ledger

import "fmt"

// Kind classifies a deterministic ledger-level failure. The zero value means
// the error did not originate in the state machine.
type Kind uint32

const (
	KindValidation Kind = iota + 1
	KindAlreadyExists
	KindNotFound
	KindAlreadyConsumed
	KindExpired

	// KindInternal covers store failures inside the state machine. These are
	// not part of the caller-visible taxonomy and abort the transaction.
	KindInternal Kind = 10
)

// Error is a deterministic state machine failure. The reason string travels
// back to the caller verbatim through the invocation interface.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the ledger error kind, or 0 for non-ledger errors.
func KindOf(err error) Kind {
	if lerr, ok := err.(*Error); ok {
		return lerr.Kind
	}
	return 0
}

// ABCICode maps an error to the code recorded in the transaction result.
func ABCICode(err error) uint32 {
	if kind := KindOf(err); kind != 0 {
		return uint32(kind)
	}
	return uint32(KindInternal)
}

// FromCode reconstructs a ledger error from a transaction result code and
// its log line. Used on the client side of the invocation interface.
func FromCode(code uint32, log string) error {
	if code == 0 {
		return nil
	}
	kind := Kind(code)
	switch kind {
	case KindValidation, KindAlreadyExists, KindNotFound, KindAlreadyConsumed, KindExpired:
		return &Error{Kind: kind, Reason: log}
	default:
		return &Error{Kind: KindInternal, Reason: log}
	}
}
