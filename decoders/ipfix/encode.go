package ipfix

import (
	"encoding/binary"
	"fmt"
)

// MessageBuilder assembles an IPFIX Message set by set. Lengths are filled
// in when a set is closed and when the message is finalized.
type MessageBuilder struct {
	buf      []byte
	setStart int
	sets     int
}

// NewMessageBuilder starts a message with the given header. Version and
// Length are set by the builder.
func NewMessageBuilder(h MessageHeader) *MessageBuilder {
	b := &MessageBuilder{buf: make([]byte, 0, 1500), setStart: -1}
	b.buf = binary.BigEndian.AppendUint16(b.buf, Version)
	b.buf = binary.BigEndian.AppendUint16(b.buf, 0)
	b.buf = binary.BigEndian.AppendUint32(b.buf, h.ExportTime)
	b.buf = binary.BigEndian.AppendUint32(b.buf, h.SequenceNumber)
	b.buf = binary.BigEndian.AppendUint32(b.buf, h.ObservationDomainId)
	return b
}

// BeginSet opens a new set, closing the previous one.
func (b *MessageBuilder) BeginSet(id uint16) {
	b.EndSet()
	b.setStart = len(b.buf)
	b.buf = binary.BigEndian.AppendUint16(b.buf, id)
	b.buf = binary.BigEndian.AppendUint16(b.buf, 0)
}

// EndSet closes the open set, if any. Empty sets are dropped.
func (b *MessageBuilder) EndSet() {
	if b.setStart < 0 {
		return
	}
	if len(b.buf)-b.setStart == SetHeaderLength {
		b.buf = b.buf[:b.setStart]
	} else {
		binary.BigEndian.PutUint16(b.buf[b.setStart+2:], uint16(len(b.buf)-b.setStart))
		b.sets++
	}
	b.setStart = -1
}

// AppendTemplate writes a template record under the given id.
func (b *MessageBuilder) AppendTemplate(t *Template, id uint16) {
	start := len(b.buf)
	b.buf = t.AppendRecord(b.buf)
	binary.BigEndian.PutUint16(b.buf[start:], id)
}

// AppendWithdrawal writes a Template Withdrawal Record.
func (b *MessageBuilder) AppendWithdrawal(id uint16) {
	b.buf = binary.BigEndian.AppendUint16(b.buf, id)
	b.buf = binary.BigEndian.AppendUint16(b.buf, 0)
}

// AppendRecord copies a Data Record into the open set.
func (b *MessageBuilder) AppendRecord(record []byte) {
	b.buf = append(b.buf, record...)
}

// Len returns the current size of the message.
func (b *MessageBuilder) Len() int {
	return len(b.buf)
}

// Sets returns the number of non-empty sets written so far.
func (b *MessageBuilder) Sets() int {
	return b.sets
}

// Bytes closes the open set and returns the encoded message.
func (b *MessageBuilder) Bytes() ([]byte, error) {
	b.EndSet()
	if len(b.buf) > MaxMessageLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum message length", ErrMalformedMessage, len(b.buf))
	}
	binary.BigEndian.PutUint16(b.buf[2:4], uint16(len(b.buf)))
	return b.buf, nil
}

// AppendWithdrawalSet writes a Template Set withdrawing ids onto dst.
func AppendWithdrawalSet(dst []byte, kind TemplateKind, ids []uint16) []byte {
	if len(ids) == 0 {
		return dst
	}
	dst = binary.BigEndian.AppendUint16(dst, kind.SetID())
	dst = binary.BigEndian.AppendUint16(dst, uint16(SetHeaderLength+len(ids)*withdrawalRecordLength))
	for _, id := range ids {
		dst = binary.BigEndian.AppendUint16(dst, id)
		dst = binary.BigEndian.AppendUint16(dst, 0)
	}
	return dst
}
