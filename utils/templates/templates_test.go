package templates

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

var (
	// template 256: sourceIPv4Address, destinationIPv4Address
	testTemplate  = []byte{1, 0, 0, 2, 0, 8, 0, 4, 0, 12, 0, 4}
	testTemplate2 = []byte{1, 0, 0, 1, 0, 8, 0, 4}
	testSource    = ipfix.SourceKey{ODID: 1, Fingerprint: 0xabcd}
)

type memorySink struct {
	lock    sync.Mutex
	entries []ipfix.TemplateEntry
	saves   int
}

func (s *memorySink) Load() ([]ipfix.TemplateEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.entries, nil
}

func (s *memorySink) Save(entries []ipfix.TemplateEntry) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = entries
	s.saves++
	return nil
}

func (s *memorySink) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.saves
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "templates.json")
	sink := NewFileSink(path)

	entries, err := sink.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)

	store := ipfix.NewTemplateStore()
	_, err = store.AddTemplate(testSource.Template(256), testTemplate, ipfix.KindTemplate, 0)
	require.NoError(t, err)
	require.NoError(t, sink.Save(store.Snapshot()))

	_, err = os.Stat(path + "_tmp")
	assert.True(t, os.IsNotExist(err))

	entries, err = sink.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testSource.Template(256), entries[0].Key)
	assert.Equal(t, testTemplate, entries[0].Raw)

	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"templates":[]}`), 0o644))
	_, err = sink.Load()
	assert.Error(t, err)
}

func TestSnapshotterRestore(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "templates.json"))

	store := ipfix.NewTemplateStore()
	_, err := store.AddTemplate(testSource.Template(256), testTemplate, ipfix.KindTemplate, 0)
	require.NoError(t, err)
	require.NoError(t, NewSnapshotter(store, sink).Close())

	restored := ipfix.NewTemplateStore()
	n, err := NewSnapshotter(restored, sink).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	tmpl, err := restored.GetTemplate(testSource.Template(256))
	require.NoError(t, err)
	assert.Len(t, tmpl.Fields, 2)
}

func TestSnapshotterDebounce(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &memorySink{}
	s := NewSnapshotter(ipfix.NewTemplateStore(), sink, WithFlushInterval(20*time.Millisecond), WithLogger(logger))
	s.Start()

	for i := 0; i < 5; i++ {
		s.Notify()
	}
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	assert.Equal(t, 2, sink.count())
	// closing twice does not flush again
	require.NoError(t, s.Close())
	assert.Equal(t, 2, sink.count())
}

func TestSnapshotterImmediate(t *testing.T) {
	sink := &memorySink{}
	s := NewSnapshotter(ipfix.NewTemplateStore(), sink, WithFlushInterval(0))
	s.Start()
	s.Notify()
	assert.Equal(t, 1, sink.count())
}

func TestChangeTracker(t *testing.T) {
	var changes int
	store := NewChangeTracker(ipfix.NewTemplateStore(), func() { changes++ })
	key := testSource.Template(256)

	_, err := store.AddTemplate(key, testTemplate, ipfix.KindTemplate, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, changes)

	// refresh
	_, err = store.AddTemplate(key, testTemplate, ipfix.KindTemplate, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, changes)

	// redefinition
	_, err = store.AddTemplate(key, testTemplate2, ipfix.KindTemplate, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, changes)

	_, err = store.RemoveTemplate(key)
	require.NoError(t, err)
	assert.Equal(t, 3, changes)

	_, err = store.RemoveTemplate(key)
	assert.ErrorIs(t, err, ipfix.ErrorTemplateNotFound)
	assert.Equal(t, 3, changes)

	assert.Equal(t, 0, store.RemoveSource(testSource))
	assert.Equal(t, 3, changes)

	// only templates of UDP sources expire
	store.OpenSource(testSource, ipfix.SourceUDP)
	_, err = store.AddTemplate(key, testTemplate, ipfix.KindTemplate, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, store.ExpireBefore(ipfix.KindTemplate, time.Now().Add(time.Hour)))
	assert.Equal(t, 5, changes)
}
