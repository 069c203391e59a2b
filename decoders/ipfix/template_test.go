package ipfix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTemplate(t *testing.T) {
	tmpl, err := CreateTemplate(templateRecord(256, flowTemplate...), KindTemplate, 7)
	require.NoError(t, err)
	assert.Equal(t, uint16(256), tmpl.OriginalID)
	assert.Equal(t, uint16(256), tmpl.AssignedID)
	assert.Equal(t, uint32(7), tmpl.ODID)
	assert.Equal(t, 3, tmpl.FieldCount())
	assert.Equal(t, uint32(16), tmpl.FixedLength)
	assert.False(t, tmpl.HasVariableLength)
	assert.Equal(t, uint32(16), tmpl.MinRecordLength())

	offset, ok := tmpl.FieldOffset(0, 1)
	require.True(t, ok)
	assert.Equal(t, uint32(8), offset)
}

func TestTemplateRoundTrip(t *testing.T) {
	records := []struct {
		name string
		kind TemplateKind
		raw  []byte
	}{
		{"template", KindTemplate, templateRecord(300,
			fieldSpec{0, 8, 4},
			fieldSpec{29305, 1, VarLength},
			fieldSpec{0, 12, 4},
			fieldSpec{9, 100, 2},
		)},
		{"options", KindOptionsTemplate, optionsTemplateRecord(301, 1,
			fieldSpec{0, 149, 4},
			fieldSpec{6871, 4, 8},
			fieldSpec{0, 41, 8},
		)},
	}
	for _, r := range records {
		t.Run(r.name, func(t *testing.T) {
			tmpl, err := CreateTemplate(r.raw, r.kind, 1)
			require.NoError(t, err)
			assert.Equal(t, r.raw, tmpl.AppendRecord(nil))
			assert.Equal(t, r.raw, tmpl.Raw())

			size, err := TemplateRecordLength(append(r.raw, 0, 0, 0, 0), r.kind)
			require.NoError(t, err)
			assert.Equal(t, len(r.raw), size)
		})
	}
}

func TestTemplateEnterpriseFields(t *testing.T) {
	tmpl, err := CreateTemplate(templateRecord(300, fieldSpec{29305, 1, 4}, fieldSpec{0, 1, 8}), KindTemplate, 1)
	require.NoError(t, err)
	require.True(t, tmpl.Fields[0].PenProvided)
	assert.Equal(t, uint32(29305), tmpl.Fields[0].Pen)
	assert.Equal(t, uint16(1), tmpl.Fields[0].Type)

	offset, ok := tmpl.FieldOffset(0, 1)
	require.True(t, ok)
	assert.Equal(t, uint32(4), offset)
	offset, ok = tmpl.FieldOffset(29305, 1|EnterpriseBit)
	require.True(t, ok)
	assert.Equal(t, uint32(0), offset)
}

func TestCreateTemplateMalformed(t *testing.T) {
	full := templateRecord(256, flowTemplate...)
	cases := []struct {
		name string
		kind TemplateKind
		raw  []byte
	}{
		{"empty", KindTemplate, nil},
		{"truncated", KindTemplate, full[:len(full)-2]},
		{"count-overrun", KindTemplate, []byte{1, 0, 0, 9, 0, 8, 0, 4}},
		{"enterprise-truncated", KindTemplate, templateRecord(256, fieldSpec{9, 1, 4})[:10]},
		{"reserved-id", KindTemplate, templateRecord(255, flowTemplate...)},
		{"withdrawal", KindTemplate, withdrawalRecord(256)},
		{"no-scope", KindOptionsTemplate, optionsTemplateRecord(256, 0, flowTemplate...)},
		{"scope-overrun", KindOptionsTemplate, optionsTemplateRecord(256, 4, flowTemplate...)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := CreateTemplate(c.raw, c.kind, 1)
			assert.ErrorIs(t, err, ErrMalformedTemplate)
		})
	}
}

func TestTemplateExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tmpl := &Template{LastSeen: now, LastMessageSeq: 10}

	assert.False(t, tmpl.Expired(now.Add(time.Minute), 11, 30*time.Minute, 0))
	assert.True(t, tmpl.Expired(now.Add(31*time.Minute), 11, 30*time.Minute, 0))
	assert.False(t, tmpl.Expired(now, 15, 0, 5))
	assert.True(t, tmpl.Expired(now, 16, 0, 5))
	assert.False(t, tmpl.Expired(now.Add(time.Hour), 1000, 0, 0))
}
