package ipfix

import (
	"encoding/binary"
)

// VariableLength reads the length prefix of a variable-length field: one
// octet below 255, or 255 followed by a 16-bit length.
func VariableLength(b []byte) (uint32, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrTruncatedRecord
	}
	if b[0] < 255 {
		return uint32(b[0]), 1, nil
	}
	if len(b) < 3 {
		return 0, 0, ErrTruncatedRecord
	}
	return uint32(binary.BigEndian.Uint16(b[1:3])), 3, nil
}

// AppendVariableLength writes the length prefix of a variable-length field.
func AppendVariableLength(dst []byte, length uint16) []byte {
	if length < 255 {
		return append(dst, byte(length))
	}
	dst = append(dst, 255)
	return binary.BigEndian.AppendUint16(dst, length)
}

// RecordLength returns the length of the Data Record at the start of record.
// Fixed-length templates are answered without reading the record.
func RecordLength(record []byte, t *Template) (uint32, error) {
	if !t.HasVariableLength {
		return t.FixedLength, nil
	}
	var offset uint32
	for _, f := range t.Fields {
		if !f.Variable() {
			offset += uint32(f.Length)
			continue
		}
		if offset >= uint32(len(record)) {
			return 0, ErrTruncatedRecord
		}
		length, octets, err := VariableLength(record[offset:])
		if err != nil {
			return 0, err
		}
		offset += uint32(octets) + length
	}
	return offset, nil
}

// NextRecordOffset returns the offset of the record following the one that
// starts at offset in set.
func NextRecordOffset(set []byte, offset uint32, t *Template) (uint32, error) {
	if offset > uint32(len(set)) {
		return 0, ErrTruncatedRecord
	}
	length, err := RecordLength(set[offset:], t)
	if err != nil {
		return 0, err
	}
	next := offset + length
	if next > uint32(len(set)) {
		return 0, ErrTruncatedRecord
	}
	return next, nil
}

// FieldGet returns the value of an Information Element inside a Data Record,
// without its variable-length prefix.
func FieldGet(record []byte, t *Template, enterprise uint32, id uint16) ([]byte, bool) {
	if offset, ok := t.FieldOffset(enterprise, id); ok {
		for _, f := range t.Fields {
			if f.Is(enterprise, id) {
				end := offset + uint32(f.Length)
				if f.Variable() || end > uint32(len(record)) {
					break
				}
				return record[offset:end], true
			}
		}
	}

	var offset uint32
	for _, f := range t.Fields {
		start, length := offset, uint32(f.Length)
		if f.Variable() {
			if offset >= uint32(len(record)) {
				return nil, false
			}
			l, octets, err := VariableLength(record[offset:])
			if err != nil {
				return nil, false
			}
			start, length = offset+uint32(octets), l
		}
		end := start + length
		if end > uint32(len(record)) {
			return nil, false
		}
		if f.Is(enterprise, id) {
			return record[start:end], true
		}
		offset = end
	}
	return nil, false
}

// AppendFieldValues appends the value of every field of a Data Record to dst,
// in template order and without variable-length prefixes.
func AppendFieldValues(dst [][]byte, record []byte, t *Template) ([][]byte, error) {
	var offset uint32
	for _, f := range t.Fields {
		start, length := offset, uint32(f.Length)
		if f.Variable() {
			if offset >= uint32(len(record)) {
				return dst, ErrTruncatedRecord
			}
			l, octets, err := VariableLength(record[offset:])
			if err != nil {
				return dst, err
			}
			start, length = offset+uint32(octets), l
		}
		end := start + length
		if end > uint32(len(record)) {
			return dst, ErrTruncatedRecord
		}
		dst = append(dst, record[start:end])
		offset = end
	}
	return dst, nil
}

// RecordIterator walks the Data Records of a Data Set. It is restartable with
// Reset. Trailing bytes shorter than the template's minimum record are
// padding.
type RecordIterator struct {
	set      []byte
	template *Template
	offset   uint32
	record   []byte
	count    int
	err      error
}

// NewRecordIterator returns an iterator over the records of a Data Set
// payload (without its Set header).
func NewRecordIterator(set []byte, t *Template) *RecordIterator {
	return &RecordIterator{set: set, template: t}
}

// Next advances to the next record and reports whether one is available.
func (it *RecordIterator) Next() bool {
	if it.err != nil || it.template == nil {
		return false
	}
	remaining := uint32(len(it.set)) - it.offset
	min := it.template.MinRecordLength()
	if remaining == 0 || remaining < min || min == 0 {
		it.record = nil
		return false
	}
	next, err := NextRecordOffset(it.set, it.offset, it.template)
	if err != nil {
		it.err = err
		it.record = nil
		return false
	}
	it.record = it.set[it.offset:next:next]
	it.offset = next
	it.count++
	return true
}

// Record returns the current record.
func (it *RecordIterator) Record() []byte {
	return it.record
}

// Template returns the template records are read with.
func (it *RecordIterator) Template() *Template {
	return it.template
}

// Err returns the error that stopped the iteration, if any.
func (it *RecordIterator) Err() error {
	return it.err
}

// Count returns the number of records returned so far.
func (it *RecordIterator) Count() int {
	return it.count
}

// Reset rewinds the iterator to the first record.
func (it *RecordIterator) Reset() {
	it.offset = 0
	it.record = nil
	it.count = 0
	it.err = nil
}
