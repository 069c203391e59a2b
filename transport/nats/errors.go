package nats

import (
	"fmt"

	"github.com/netsampler/ipfixcol/transport"
)

type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("nats transport: %s", e.Err.Error())
}

func (e *TransportError) Unwrap() []error {
	return []error{transport.ErrTransport, e.Err}
}
