package protobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type wireMessage []byte

func (m wireMessage) AppendBinary(b []byte) []byte {
	return protowire.AppendBytes(protowire.AppendTag(b, 1, protowire.BytesType), m)
}

func TestFixedLen(t *testing.T) {
	d := &ProtobufDriver{fixedLen: true}
	require.NoError(t, d.Init())

	_, out, err := d.Format(wireMessage(make([]byte, 200)))
	require.NoError(t, err)
	size, n := protowire.ConsumeVarint(out)
	require.Greater(t, n, 0)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(len(out)-n), size)
}
