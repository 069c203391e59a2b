package nats

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsampler/ipfixcol/transport"
)

func TestDriverOptions(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := &Driver{timeout: time.Second, logger: logger}
	opts, err := d.options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	d.tlsCertFile = "client.pem"
	_, err = d.options()
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestDriverSendUninitialized(t *testing.T) {
	d := &Driver{}
	err := d.Send([]byte{1}, []byte("data"))
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.NoError(t, d.Close())
}

func TestContainsSubject(t *testing.T) {
	assert.True(t, containsSubject([]string{"a", "b"}, "b"))
	assert.False(t, containsSubject([]string{"a"}, "c"))
}
