package provider

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrUnsupported is reported for operations a platform SDK does not offer.
var ErrUnsupported = errors.New("operation not supported by provider")

// PanicError is a provider panic converted to an error.
type PanicError struct {
	Op    string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("provider panic in %s: %v", e.Op, e.Value)
}

// Guard runs fn and converts a panic raised inside it into a *PanicError.
func Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Op: op, Value: r}
		}
	}()
	return fn()
}

// Once wraps c so that only the first outcome reaches it. SDKs that invoke a
// completion more than once, or report a failure after a success, are
// reduced to a single outcome.
func Once[T any](c Continuation[T]) Continuation[T] {
	return &once[T]{c: c}
}

type once[T any] struct {
	c     Continuation[T]
	fired atomic.Bool
}

func (o *once[T]) OnSuccess(value T) {
	if o.fired.CompareAndSwap(false, true) {
		o.c.OnSuccess(value)
	}
}

func (o *once[T]) OnFailure(err error) {
	if o.fired.CompareAndSwap(false, true) {
		o.c.OnFailure(err)
	}
}
