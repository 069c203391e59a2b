// Package json renders messages with their MarshalJSON.
package json

import (
	"encoding/json"

	"github.com/netsampler/ipfixcol/format"
)

type JsonDriver struct{}

func (d *JsonDriver) Prepare() error {
	return nil
}

func (d *JsonDriver) Init() error {
	return nil
}

func (d *JsonDriver) Format(data interface{}) ([]byte, []byte, error) {
	output, err := json.Marshal(data)
	return format.MessageKey(data), output, err
}

func init() {
	d := &JsonDriver{}
	format.RegisterFormatDriver("json", d)
}
