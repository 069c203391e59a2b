package listen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListenAddresses(t *testing.T) {
	cfgs, err := ParseListenAddresses("ipfix://:4739?count=4, ipfix://[::1]?blocking=true,ipfix://127.0.0.1:9995?workers=3&queue_size=10")
	require.NoError(t, err)
	require.Len(t, cfgs, 3)

	assert.Equal(t, ListenerConfig{Scheme: "ipfix", Port: 4739, NumSockets: 4, NumWorkers: 8, QueueSize: 1000000}, cfgs[0])
	assert.Equal(t, ListenerConfig{Scheme: "ipfix", Hostname: "::1", Port: DefaultPort, NumSockets: 1, NumWorkers: 2, Blocking: true}, cfgs[1])
	assert.Equal(t, ListenerConfig{Scheme: "ipfix", Hostname: "127.0.0.1", Port: 9995, NumSockets: 1, NumWorkers: 3, QueueSize: 10}, cfgs[2])

	assert.Equal(t, "ipfix://[::1]:4739", cfgs[1].String())
	assert.Equal(t, "ipfix://127.0.0.1:9995", cfgs[2].String())
}

func TestParseListenAddressesErrors(t *testing.T) {
	for _, spec := range []string{
		"netflow://:2055",
		"ipfix://:notaport",
		"ipfix://:4739?count=-1",
		"ipfix://:4739?blocking=maybe",
		"ipfix://:4739?queue_size=x",
	} {
		_, err := ParseListenAddresses(spec)
		assert.Error(t, err, spec)
	}
}
