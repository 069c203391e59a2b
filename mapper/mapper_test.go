package mapper

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id uint16, fields ...[2]uint16) []byte {
	b := binary.BigEndian.AppendUint16(nil, id)
	b = binary.BigEndian.AppendUint16(b, uint16(len(fields)))
	for _, f := range fields {
		b = binary.BigEndian.AppendUint16(b, f[0])
		b = binary.BigEndian.AppendUint16(b, f[1])
	}
	return b
}

func optionsRecord(id uint16, scope uint16, fields ...[2]uint16) []byte {
	b := binary.BigEndian.AppendUint16(nil, id)
	b = binary.BigEndian.AppendUint16(b, uint16(len(fields)))
	b = binary.BigEndian.AppendUint16(b, scope)
	for _, f := range fields {
		b = binary.BigEndian.AppendUint16(b, f[0])
		b = binary.BigEndian.AppendUint16(b, f[1])
	}
	return b
}

var (
	sourceA = ipfix.SourceKey{ODID: 10, Fingerprint: 0xa}
	sourceB = ipfix.SourceKey{ODID: 10, Fingerprint: 0xb}
	flow    = [][2]uint16{{8, 4}, {12, 4}, {1, 8}}
)

func TestIdenticalTemplatesShareID(t *testing.T) {
	m := New()
	action, idA, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.Equal(t, ActionPass, action)

	action, idB, err := m.ProcessTemplate(sourceB, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.Contains(t, []Action{ActionPass, ActionDrop}, action)
	assert.Equal(t, idA, idB)

	c, ok := m.Template(10, idA)
	require.True(t, ok)
	assert.Equal(t, 2, c.References)

	remapA, ok := m.RemapDataSet(sourceA, 300)
	require.True(t, ok)
	remapB, ok := m.RemapDataSet(sourceB, 300)
	require.True(t, ok)
	assert.Equal(t, idA, remapA)
	assert.Equal(t, idA, remapB)
}

func TestReannouncementDropped(t *testing.T) {
	m := New()
	_, id, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)

	action, again, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.Equal(t, ActionDrop, action)
	assert.Equal(t, id, again)

	c, _ := m.Template(10, id)
	assert.Equal(t, 1, c.References)
}

func TestDifferentTemplatesDistinctIDs(t *testing.T) {
	m := New()
	_, first, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	_, second, err := m.ProcessTemplate(sourceB, record(300, flow[:2]...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	remapA, _ := m.RemapDataSet(sourceA, 300)
	remapB, _ := m.RemapDataSet(sourceB, 300)
	assert.Equal(t, first, remapA)
	assert.Equal(t, second, remapB)
	assert.Len(t, m.GetTemplates(10, ipfix.KindTemplate), 2)
}

func TestSameBodyDifferentIDs(t *testing.T) {
	m := New()
	_, first, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	_, second, err := m.ProcessTemplate(sourceB, record(512, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	c, ok := m.Template(10, first)
	require.True(t, ok)
	assert.Equal(t, first, binary.BigEndian.Uint16(c.Raw[0:2]))
	assert.Equal(t, first, c.Template.AssignedID)
}

func TestKindsDoNotMerge(t *testing.T) {
	m := New()
	_, tid, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	_, oid, err := m.ProcessTemplate(sourceA, optionsRecord(301, 1, flow...), ipfix.KindOptionsTemplate)
	require.NoError(t, err)
	assert.NotEqual(t, tid, oid)
	assert.Len(t, m.GetTemplates(10, ipfix.KindOptionsTemplate), 1)
}

func TestRemoveSourceWithdrawsOnce(t *testing.T) {
	m := New()
	_, id, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	_, _, err = m.ProcessTemplate(sourceB, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)

	require.NoError(t, m.RemoveSource(sourceA))
	assert.Empty(t, m.WithdrawIDs(10, ipfix.KindTemplate))
	_, ok := m.RemapDataSet(sourceA, 300)
	assert.False(t, ok)

	require.NoError(t, m.RemoveSource(sourceB))
	assert.Equal(t, []uint16{id}, m.WithdrawIDs(10, ipfix.KindTemplate))
	assert.Empty(t, m.WithdrawIDs(10, ipfix.KindTemplate))

	assert.ErrorIs(t, m.RemoveSource(sourceB), ErrUnknownSource)
	assert.Empty(t, m.GetODIDs())
}

func TestPendingTemplateRevived(t *testing.T) {
	m := New()
	_, id, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	require.NoError(t, m.RemoveSource(sourceA))

	action, again, err := m.ProcessTemplate(sourceB, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.Equal(t, ActionPass, action)
	assert.Equal(t, id, again)
	assert.Empty(t, m.WithdrawIDs(10, ipfix.KindTemplate))
}

func TestIDsNotReusedWhilePending(t *testing.T) {
	m := New()
	_, first, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	require.NoError(t, m.RemoveSource(sourceA))

	_, second, err := m.ProcessTemplate(sourceB, record(300, flow[:1]...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []uint16{first}, m.WithdrawIDs(10, ipfix.KindTemplate))
}

func TestMismatchIsNewVersion(t *testing.T) {
	m := New()
	_, first, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)

	action, second, err := m.ProcessTemplate(sourceA, record(300, flow[:2]...), ipfix.KindTemplate)
	assert.ErrorIs(t, err, ipfix.ErrMapperMismatch)
	assert.Equal(t, ActionPass, action)
	assert.NotEqual(t, first, second)

	remap, ok := m.RemapDataSet(sourceA, 300)
	require.True(t, ok)
	assert.Equal(t, second, remap)
	assert.Equal(t, []uint16{first}, m.WithdrawIDs(10, ipfix.KindTemplate))
}

func TestProcessWithdrawal(t *testing.T) {
	m := New()
	_, id, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	_, _, err = m.ProcessTemplate(sourceA, record(301, flow[:1]...), ipfix.KindTemplate)
	require.NoError(t, err)

	assert.Equal(t, 1, m.ProcessWithdrawal(sourceA, 300, ipfix.KindTemplate))
	assert.Equal(t, 0, m.ProcessWithdrawal(sourceA, 300, ipfix.KindTemplate))
	assert.Equal(t, []uint16{id}, m.WithdrawIDs(10, ipfix.KindTemplate))

	assert.Equal(t, 1, m.ProcessWithdrawal(sourceA, ipfix.TemplateSetID, ipfix.KindTemplate))
	assert.Len(t, m.WithdrawIDs(10, ipfix.KindTemplate), 1)
}

func TestInvalidTemplate(t *testing.T) {
	m := New()
	action, _, err := m.ProcessTemplate(sourceA, optionsRecord(300, 0, flow...), ipfix.KindOptionsTemplate)
	assert.Equal(t, ActionInvalid, action)
	assert.ErrorIs(t, err, ipfix.ErrMalformedTemplate)
}

func TestODIDsIsolated(t *testing.T) {
	m := New()
	other := ipfix.SourceKey{ODID: 11, Fingerprint: 0xa}
	_, first, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
	require.NoError(t, err)
	_, second, err := m.ProcessTemplate(other, record(300, flow[:1]...), ipfix.KindTemplate)
	require.NoError(t, err)
	assert.Equal(t, first, second, "each domain allocates from its own space")
	assert.Equal(t, []uint32{10, 11}, m.GetODIDs())
}

func TestSharded(t *testing.T) {
	s := NewSharded()
	var wg sync.WaitGroup
	for odid := uint32(1); odid <= 4; odid++ {
		wg.Add(1)
		go func(odid uint32) {
			defer wg.Done()
			for fp := uint32(0); fp < 50; fp++ {
				src := ipfix.SourceKey{ODID: odid, Fingerprint: fp}
				s.Do(odid, func(m *Mapper) {
					m.ProcessTemplate(src, record(300, flow...), ipfix.KindTemplate)
				})
			}
		}(odid)
	}
	wg.Wait()
	assert.Equal(t, []uint32{1, 2, 3, 4}, s.GetODIDs())
	s.Do(2, func(m *Mapper) {
		templates := m.GetTemplates(2, ipfix.KindTemplate)
		require.Len(t, templates, 1)
		assert.Equal(t, 50, templates[0].References)
	})
}

func TestShardedDropsEmptyDomains(t *testing.T) {
	s := NewSharded()
	s.Do(sourceA.ODID, func(m *Mapper) {
		_, _, err := m.ProcessTemplate(sourceA, record(300, flow...), ipfix.KindTemplate)
		require.NoError(t, err)
	})
	require.Equal(t, 1, s.Len())

	s.Do(sourceA.ODID, func(m *Mapper) {
		require.NoError(t, m.RemoveSource(sourceA))
		assert.True(t, m.HasDomain(sourceA.ODID))
		assert.Equal(t, []uint16{256}, m.WithdrawIDs(sourceA.ODID, ipfix.KindTemplate))
		assert.False(t, m.HasDomain(sourceA.ODID))
	})
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.GetODIDs())

	// lookups of unknown domains leave nothing behind
	s.Do(99, func(m *Mapper) {
		_, ok := m.Template(99, 256)
		assert.False(t, ok)
	})
	assert.Equal(t, 0, s.Len())
}
