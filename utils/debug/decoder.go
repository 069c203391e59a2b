package debug

import (
	"github.com/netsampler/ipfixcol/utils"
)

// PanicDecoderWrapper recovers from a panic of the wrapped decoder. The
// received payload is copied into the error since its buffer is reused.
func PanicDecoderWrapper(wrapped utils.DecoderFunc) utils.DecoderFunc {
	return func(msg interface{}) (err error) {
		defer func() {
			if pErr := recover(); pErr != nil {
				if pkt, ok := msg.(*utils.Message); ok {
					cp := *pkt
					cp.Payload = append([]byte(nil), pkt.Payload...)
					msg = &cp
				}
				err = newPanicError(msg, pErr)
			}
		}()
		return wrapped(msg)
	}
}
