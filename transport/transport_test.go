package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDriver struct {
	initErr error
	sent    [][]byte
	closed  bool
}

func (d *testDriver) Prepare() error { return nil }
func (d *testDriver) Init() error    { return d.initErr }
func (d *testDriver) Close() error {
	d.closed = true
	return nil
}

func (d *testDriver) Send(key, data []byte) error {
	if data == nil {
		return errors.New("empty message")
	}
	d.sent = append(d.sent, data)
	return nil
}

func TestTransportRegistry(t *testing.T) {
	d := &testDriver{}
	RegisterTransportDriver("test-ok", d)
	RegisterTransportDriver("test-broken", &testDriver{initErr: errors.New("no route")})

	tr, err := FindTransport("test-ok")
	require.NoError(t, err)
	assert.Equal(t, "test-ok", tr.Name())
	require.NoError(t, tr.Send(nil, []byte("a")))
	assert.Len(t, d.sent, 1)

	err = tr.Send(nil, nil)
	var driverErr *DriverTransportError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, "test-ok", driverErr.Driver)
	assert.ErrorIs(t, err, ErrTransport)

	require.NoError(t, tr.Close())
	assert.True(t, d.closed)

	_, err = FindTransport("test-broken")
	assert.ErrorIs(t, err, ErrTransport)
	_, err = FindTransport("missing")
	assert.ErrorIs(t, err, ErrTransportNotFound)

	names := GetTransports()
	assert.Contains(t, names, "test-ok")
	assert.IsIncreasing(t, names)
}
