package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

// countingState records writes to the wrapped table.
type countingState struct {
	State[string, []ipfix.TemplateEntry]
	adds, deletes int
}

func (s *countingState) Add(key string, value []ipfix.TemplateEntry) error {
	s.adds++
	return s.State.Add(key, value)
}

func (s *countingState) Delete(key string) error {
	s.deletes++
	return s.State.Delete(key)
}

func TestTemplateSink(t *testing.T) {
	sink, err := NewTemplateSink("memory://")
	require.NoError(t, err)
	db := &countingState{State: sink.db}
	sink.db = db
	defer sink.Close()

	srcA := ipfix.SourceKey{ODID: 1, Fingerprint: 1}
	srcB := ipfix.SourceKey{ODID: 1, Fingerprint: 2}
	store := ipfix.NewTemplateStore()
	tmpl := []byte{1, 0, 0, 1, 0, 8, 0, 4}
	_, err = store.AddTemplate(srcA.Template(256), tmpl, ipfix.KindTemplate, 0)
	require.NoError(t, err)
	_, err = store.AddTemplate(srcB.Template(256), tmpl, ipfix.KindTemplate, 0)
	require.NoError(t, err)

	snapshot := store.Snapshot()
	require.NoError(t, sink.Save(snapshot))
	assert.Equal(t, 2, db.adds)

	// unchanged sources are skipped
	require.NoError(t, sink.Save(snapshot))
	assert.Equal(t, 2, db.adds)

	store.RemoveSource(srcB)
	require.NoError(t, sink.Save(store.Snapshot()))
	assert.Equal(t, 2, db.adds)
	assert.Equal(t, 1, db.deletes)

	entries, err := sink.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, srcA.Template(256), entries[0].Key)

	restored := ipfix.NewTemplateStore()
	n, err := restored.Restore(entries)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
