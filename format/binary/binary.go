// Package binary renders messages with their MarshalBinary. Messages of
// the forward producer come out as IPFIX Messages.
package binary

import (
	"encoding"

	"github.com/netsampler/ipfixcol/format"
)

type BinaryDriver struct{}

func (d *BinaryDriver) Prepare() error {
	return nil
}

func (d *BinaryDriver) Init() error {
	return nil
}

func (d *BinaryDriver) Format(data interface{}) ([]byte, []byte, error) {
	dataIf, ok := data.(encoding.BinaryMarshaler)
	if !ok {
		return nil, nil, format.ErrNoSerializer
	}
	out, err := dataIf.MarshalBinary()
	return format.MessageKey(data), out, err
}

func init() {
	d := &BinaryDriver{}
	format.RegisterFormatDriver("bin", d)
}
