// Package protobuf renders messages in protobuf wire format, optionally
// length-delimited for streams.
package protobuf

import (
	"encoding"
	"flag"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/netsampler/ipfixcol/format"
	"github.com/netsampler/ipfixcol/format/common"
)

// WireAppender is implemented by messages encoding themselves with
// protowire.
type WireAppender interface {
	AppendBinary(b []byte) []byte
}

type ProtobufDriver struct {
	fixedLen bool
}

func (d *ProtobufDriver) Prepare() error {
	common.HashFlag()
	flag.BoolVar(&d.fixedLen, "format.protobuf.fixedlen", false, "Prefix the protobuf with message length")
	return nil
}

func (d *ProtobufDriver) Init() error {
	return common.ManualHashInit()
}

func (d *ProtobufDriver) Format(data interface{}) ([]byte, []byte, error) {
	key := common.HashKeyLocal(data)
	var b []byte
	switch msg := data.(type) {
	case WireAppender:
		b = msg.AppendBinary(nil)
	case encoding.BinaryMarshaler:
		var err error
		if b, err = msg.MarshalBinary(); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, format.ErrNoSerializer
	}
	if d.fixedLen {
		b = append(protowire.AppendVarint(make([]byte, 0, len(b)+protowire.SizeVarint(uint64(len(b)))), uint64(len(b))), b...)
	}
	return key, b, nil
}

func init() {
	d := &ProtobufDriver{}
	format.RegisterFormatDriver("pb", d)
}
