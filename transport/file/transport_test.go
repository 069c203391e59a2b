package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDriver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "out.ipfix")
	d := &FileDriver{
		fileDestination: path,
		logger:          logger,
		lock:            &sync.RWMutex{},
	}
	require.NoError(t, d.Init())

	require.NoError(t, d.Send(nil, []byte{0, 10, 0, 16}))
	require.NoError(t, d.Send(nil, []byte{0, 10}))

	// a rotated file is picked up on reopen
	rotated := path + ".1"
	require.NoError(t, os.Rename(path, rotated))
	require.NoError(t, d.reopen())
	require.NoError(t, d.Send(nil, []byte("next")))
	require.NoError(t, d.Close())

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 10, 0, 16, 0, 10}, old)
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "next", string(current))
}

func TestFileDriverSeparator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	d := &FileDriver{
		fileDestination: path,
		lineSeparator:   "\n",
		lock:            &sync.RWMutex{},
	}
	require.NoError(t, d.Init())
	require.NoError(t, d.Send(nil, []byte(`{"a":1}`)))
	require.NoError(t, d.Send(nil, []byte(`{"a":2}`)))
	require.NoError(t, d.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(out))
}
