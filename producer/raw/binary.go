package rawproducer

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers of the binary encoding.
const (
	pbOptions        = 1
	pbTimeReceived   = 2
	pbSrcAddr        = 3
	pbSrcPort        = 4
	pbExportTime     = 5
	pbSequenceNumber = 6
	pbObsDomainId    = 7
	pbTemplateId     = 8
	pbField          = 9

	pbFieldId    = 1
	pbFieldPen   = 2
	pbFieldScope = 3
	pbFieldValue = 4
)

func appendField(b []byte, f *RecordField) []byte {
	b = protowire.AppendTag(b, pbFieldId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if f.PenProvided {
		b = protowire.AppendTag(b, pbFieldPen, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Pen))
	}
	if f.Scope {
		b = protowire.AppendTag(b, pbFieldScope, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = protowire.AppendTag(b, pbFieldValue, protowire.BytesType)
	return protowire.AppendBytes(b, f.Value)
}

// AppendBinary appends the protobuf wire encoding of the record.
func (m *RecordMessage) AppendBinary(b []byte) []byte {
	if m.Options {
		b = protowire.AppendTag(b, pbOptions, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = protowire.AppendTag(b, pbTimeReceived, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.TimeReceived.UnixNano()))
	if m.Src.IsValid() {
		addr := m.Src.Addr().As16()
		b = protowire.AppendTag(b, pbSrcAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, addr[:])
		b = protowire.AppendTag(b, pbSrcPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Src.Port()))
	}
	b = protowire.AppendTag(b, pbExportTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ExportTime))
	b = protowire.AppendTag(b, pbSequenceNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SequenceNumber))
	b = protowire.AppendTag(b, pbObsDomainId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ObservationDomainId))
	b = protowire.AppendTag(b, pbTemplateId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.TemplateId))

	var field []byte
	for i := range m.Fields {
		field = appendField(field[:0], &m.Fields[i])
		b = protowire.AppendTag(b, pbField, protowire.BytesType)
		b = protowire.AppendBytes(b, field)
	}
	return b
}

func (m *RecordMessage) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, 64+len(m.buf)+8*len(m.Fields))), nil
}
