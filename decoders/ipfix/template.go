package ipfix

import (
	"bytes"
	"encoding/binary"
	"time"
)

// noStaticOffset marks a field placed after a variable-length field.
const noStaticOffset = ^uint32(0)

// Template is the decoded form of a Template Record or an Options Template
// Record. Fields are immutable once created; lifecycle fields (LastSeen,
// LastMessageSeq) are updated by the TemplateStore under its lock.
type Template struct {
	OriginalID uint16       `json:"original-id"`
	AssignedID uint16       `json:"assigned-id"`
	Kind       TemplateKind `json:"kind"`
	ODID       uint32       `json:"odid"`

	Fields          []Field `json:"fields"`
	ScopeFieldCount uint16  `json:"scope-field-count"`

	// FixedLength sums the lengths of non variable-length fields.
	FixedLength       uint32 `json:"fixed-length"`
	HasVariableLength bool   `json:"has-variable-length"`

	FirstSeen      time.Time `json:"first-seen"`
	LastSeen       time.Time `json:"last-seen"`
	LastMessageSeq uint32    `json:"last-message-seq"`

	raw     []byte
	offsets []uint32
	varCnt  uint32

	store *TemplateStore
	refs  int
	older *Template
	newer *Template
	// current is false once the template left the store table.
	current bool
}

// TemplateRecordLength returns the number of octets the (Options) Template
// Record at the start of raw occupies, including withdrawal records.
func TemplateRecordLength(raw []byte, kind TemplateKind) (int, error) {
	if len(raw) < 4 {
		return 0, malformed("record header needs 4 bytes, got %d", len(raw))
	}
	count := int(binary.BigEndian.Uint16(raw[2:4]))
	if count == 0 {
		return withdrawalRecordLength, nil
	}
	offset := 4
	if kind == KindOptionsTemplate {
		offset = 6
	}
	for i := 0; i < count; i++ {
		if offset+4 > len(raw) {
			return 0, malformed("field %d of %d overruns record (%d bytes)", i, count, len(raw))
		}
		id := binary.BigEndian.Uint16(raw[offset : offset+2])
		offset += 4
		if id&EnterpriseBit != 0 {
			offset += 4
		}
	}
	if offset > len(raw) {
		return 0, malformed("enterprise number overruns record (%d bytes)", len(raw))
	}
	return offset, nil
}

// CreateTemplate parses the (Options) Template Record at the start of raw.
// len(raw) bounds the parse so a record can never be read past its Set.
func CreateTemplate(raw []byte, kind TemplateKind, odid uint32) (*Template, error) {
	size, err := TemplateRecordLength(raw, kind)
	if err != nil {
		return nil, err
	}
	id := binary.BigEndian.Uint16(raw[0:2])
	count := binary.BigEndian.Uint16(raw[2:4])
	if count == 0 {
		return nil, malformed("template %d is a withdrawal", id)
	}
	if id < MinDataSetID {
		return nil, malformed("template id %d is reserved", id)
	}

	t := &Template{
		OriginalID: id,
		AssignedID: id,
		Kind:       kind,
		ODID:       odid,
		Fields:     make([]Field, count),
		offsets:    make([]uint32, count),
		raw:        bytes.Clone(raw[:size]),
	}

	offset := 4
	if kind == KindOptionsTemplate {
		t.ScopeFieldCount = binary.BigEndian.Uint16(raw[4:6])
		if t.ScopeFieldCount == 0 {
			return nil, malformed("options template %d has no scope field", id)
		}
		if t.ScopeFieldCount > count {
			return nil, malformed("options template %d has %d scope fields out of %d", id, t.ScopeFieldCount, count)
		}
		offset = 6
	}

	static := uint32(0)
	for i := range t.Fields {
		f := &t.Fields[i]
		f.Type = binary.BigEndian.Uint16(raw[offset:offset+2]) &^ EnterpriseBit
		f.Length = binary.BigEndian.Uint16(raw[offset+2 : offset+4])
		if raw[offset]&0x80 != 0 {
			f.PenProvided = true
			f.Pen = binary.BigEndian.Uint32(raw[offset+4 : offset+8])
		}
		offset += f.wireLength()

		t.offsets[i] = static
		if f.Variable() {
			t.HasVariableLength = true
			t.varCnt++
			static = noStaticOffset
			continue
		}
		t.FixedLength += uint32(f.Length)
		if static != noStaticOffset {
			static += uint32(f.Length)
		}
	}
	return t, nil
}

// Raw returns the Template Record bytes as received.
func (t *Template) Raw() []byte {
	return t.raw
}

// Body returns the record without its Template ID.
func (t *Template) Body() []byte {
	return t.raw[2:]
}

// AppendRecord encodes the Template Record with its AssignedID onto dst.
func (t *Template) AppendRecord(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, t.AssignedID)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(t.Fields)))
	if t.Kind == KindOptionsTemplate {
		dst = binary.BigEndian.AppendUint16(dst, t.ScopeFieldCount)
	}
	for _, f := range t.Fields {
		id := f.Type
		if f.PenProvided {
			id |= EnterpriseBit
		}
		dst = binary.BigEndian.AppendUint16(dst, id)
		dst = binary.BigEndian.AppendUint16(dst, f.Length)
		if f.PenProvided {
			dst = binary.BigEndian.AppendUint32(dst, f.Pen)
		}
	}
	return dst
}

// FieldCount returns the number of Field Specifiers.
func (t *Template) FieldCount() int {
	return len(t.Fields)
}

// MinRecordLength is the smallest possible Data Record: every variable-length
// field takes at least its 1-octet length prefix.
func (t *Template) MinRecordLength() uint32 {
	return t.FixedLength + t.varCnt
}

// FieldOffset returns the static offset of an Information Element within
// every record of the template. It reports false when the element is absent
// or placed after a variable-length field; callers then use FieldGet.
func (t *Template) FieldOffset(enterprise uint32, id uint16) (uint32, bool) {
	for i, f := range t.Fields {
		if f.Is(enterprise, id) {
			if t.offsets[i] == noStaticOffset {
				return 0, false
			}
			return t.offsets[i], true
		}
	}
	return 0, false
}

// Expired tells if a template received over UDP went stale: not refreshed
// for lifetime, or not refreshed during the last lifePackets messages. A zero
// value disables the matching check.
func (t *Template) Expired(now time.Time, seq uint32, lifetime time.Duration, lifePackets uint32) bool {
	if t.store != nil {
		t.store.lock.RLock()
		defer t.store.lock.RUnlock()
	}
	if lifetime > 0 && now.Sub(t.LastSeen) > lifetime {
		return true
	}
	if lifePackets > 0 && seq-t.LastMessageSeq > lifePackets {
		return true
	}
	return false
}

// Older returns the previous version of the template while it is still
// referenced, nil otherwise.
func (t *Template) Older() *Template {
	if t.store != nil {
		t.store.lock.RLock()
		defer t.store.lock.RUnlock()
	}
	return t.older
}

// References returns the number of live TemplateRefs on this version.
func (t *Template) References() int {
	if t.store != nil {
		t.store.lock.RLock()
		defer t.store.lock.RUnlock()
	}
	return t.refs
}

func (t *Template) sameContent(raw []byte) bool {
	return bytes.Equal(t.raw, raw)
}
