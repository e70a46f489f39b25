package exchange

import (
	"errors"
	"fmt"
)

// Kind categorises exchange failures by recovery policy rather than by
// HTTP status code.
type Kind string

const (
	KindTransient           Kind = "transient"
	KindAuth                Kind = "auth"
	KindBadSymbol           Kind = "bad_symbol"
	KindFilterReject        Kind = "filter_reject"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindUnavailable         Kind = "unavailable"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the error kind, or KindTransient for errors the client
// could not classify (network-level failures mostly).
func KindOf(err error) Kind {
	var ex *Error
	if errors.As(err, &ex) {
		return ex.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retriable reports whether a read operation may be retried. Order
// submission is never retried regardless of kind.
func Retriable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindUnavailable
}
