// Package text renders messages as one line of text each.
package text

import (
	"encoding"
	"fmt"

	"github.com/netsampler/ipfixcol/format"
	"github.com/netsampler/ipfixcol/format/common"
)

type TextDriver struct{}

func (d *TextDriver) Prepare() error {
	common.HashFlag()
	return nil
}

func (d *TextDriver) Init() error {
	return common.ManualHashInit()
}

func (d *TextDriver) Format(data interface{}) ([]byte, []byte, error) {
	key := common.HashKeyLocal(data)
	switch dataIf := data.(type) {
	case encoding.TextMarshaler:
		out, err := dataIf.MarshalText()
		return key, out, err
	case fmt.Stringer:
		return key, []byte(dataIf.String()), nil
	}
	return nil, nil, format.ErrNoSerializer
}

func init() {
	d := &TextDriver{}
	format.RegisterFormatDriver("text", d)
}
