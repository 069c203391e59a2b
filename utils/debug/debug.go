// Package debug turns panics raised while decoding or producing into
// errors carrying the offending message.
package debug

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	ErrPanic = errors.New("panic")
)

type PanicErrorMessage struct {
	Msg        interface{}
	Inner      string
	Stacktrace []byte
}

func (e *PanicErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", ErrPanic.Error(), e.Inner)
}

func (e *PanicErrorMessage) Unwrap() []error {
	return []error{ErrPanic}
}

func newPanicError(msg interface{}, pErr interface{}) *PanicErrorMessage {
	return &PanicErrorMessage{Msg: msg, Inner: fmt.Sprint(pErr), Stacktrace: debug.Stack()}
}
