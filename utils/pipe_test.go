package utils

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/producer"
)

func ipfixMessage(odid, seq uint32, sets ...[]byte) []byte {
	b := []byte{0, 10, 0, 0}
	b = binary.BigEndian.AppendUint32(b, 1700000000)
	b = binary.BigEndian.AppendUint32(b, seq)
	b = binary.BigEndian.AppendUint32(b, odid)
	for _, s := range sets {
		b = append(b, s...)
	}
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)))
	return b
}

var (
	// template 256: sourceIPv4Address, destinationIPv4Address
	testTemplateSet = []byte{0, 2, 0, 16, 1, 0, 0, 2, 0, 8, 0, 4, 0, 12, 0, 4}
	testDataSet     = []byte{1, 0, 0, 20, 10, 0, 0, 1, 10, 0, 0, 2, 10, 0, 0, 3, 10, 0, 0, 4}
)

type produced struct {
	args    producer.ProduceArgs
	records int
}

type recordingProducer struct {
	produced []produced
	removed  []ipfix.SourceKey
}

func (p *recordingProducer) Produce(msg interface{}, args *producer.ProduceArgs) ([]producer.ProducerMessage, error) {
	packet := msg.(*ipfix.Message)
	p.produced = append(p.produced, produced{*args, packet.Stats.DataRecords})
	return nil, nil
}

func (p *recordingProducer) RemoveSource(src ipfix.SourceKey) ([]producer.ProducerMessage, error) {
	p.removed = append(p.removed, src)
	return nil, nil
}

func (p *recordingProducer) Commit([]producer.ProducerMessage) {}

func (p *recordingProducer) Close() {}

var testExporter = netip.MustParseAddrPort("192.0.2.10:4739")

func TestIPFIXPipeDecode(t *testing.T) {
	logger, _ := test.NewNullLogger()
	prod := &recordingProducer{}
	store := ipfix.NewTemplateStore()
	p := NewIPFIXPipe(&PipeConfig{
		Producer:   prod,
		Templates:  store,
		SourceType: ipfix.SourceTCP,
		Logger:     logger,
	})
	defer p.Close()

	require.NoError(t, p.DecodeFlow(&Message{
		Src:     testExporter,
		Payload: ipfixMessage(1, 0, testTemplateSet, testDataSet),
	}))
	require.NoError(t, p.DecodeFlow(&Message{
		Src:     testExporter,
		Payload: ipfixMessage(1, 10, testDataSet),
	}))
	assert.Equal(t, 1, store.Len())

	require.Len(t, prod.produced, 2)
	first, second := prod.produced[0], prod.produced[1]
	assert.Equal(t, 2, first.records)
	assert.Equal(t, ipfix.StatusNew, first.args.Source.Status)
	assert.Equal(t, int64(0), first.args.MissingRecords)
	assert.Equal(t, ipfix.StatusOpened, second.args.Source.Status)
	assert.Equal(t, uint32(1), second.args.Source.Sequence)
	// two records were expected before sequence number 10
	assert.Equal(t, int64(8), second.args.MissingRecords)
	assert.Equal(t, SourceFingerprint(ipfix.SourceTCP, testExporter), first.args.Source.Fingerprint)

	sources := p.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, testExporter, sources[0].Addr)
}

func TestIPFIXPipeErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	prod := &recordingProducer{}
	p := NewIPFIXPipe(&PipeConfig{Producer: prod, SourceType: ipfix.SourceTCP, Logger: logger})
	defer p.Close()

	err := p.DecodeFlow(&Message{Src: testExporter, Payload: []byte{0, 9, 0, 16}})
	var pipeErr *PipeMessageError
	require.True(t, errors.As(err, &pipeErr))
	assert.ErrorIs(t, err, ipfix.ErrMalformedMessage)
	assert.Empty(t, prod.produced)

	// data without template is reported but the message still goes through
	err = p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testDataSet)})
	assert.ErrorIs(t, err, ipfix.ErrorTemplateNotFound)
	assert.Len(t, prod.produced, 1)

	assert.Error(t, p.DecodeFlow("not a message"))
}

func TestIPFIXPipeCloseSource(t *testing.T) {
	logger, _ := test.NewNullLogger()
	prod := &recordingProducer{}
	store := ipfix.NewTemplateStore()
	p := NewIPFIXPipe(&PipeConfig{Producer: prod, Templates: store, SourceType: ipfix.SourceTCP, Logger: logger})
	defer p.Close()

	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testTemplateSet)}))
	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(2, 0, testTemplateSet)}))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, p.CloseSource(testExporter))
	assert.Equal(t, 0, store.Len())
	assert.Len(t, prod.removed, 2)
	assert.Empty(t, p.Sources())

	// unknown sources are ignored
	assert.NoError(t, p.CloseSource(netip.MustParseAddrPort("192.0.2.99:4739")))
}

type closingProducer struct {
	recordingProducer
	sources  func() []ipfix.SourceInfo
	statuses []ipfix.SourceStatus
}

func (p *closingProducer) RemoveSource(src ipfix.SourceKey) ([]producer.ProducerMessage, error) {
	for _, info := range p.sources() {
		p.statuses = append(p.statuses, info.Status)
	}
	return p.recordingProducer.RemoveSource(src)
}

func TestIPFIXPipeCloseSourceStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	prod := &closingProducer{}
	p := NewIPFIXPipe(&PipeConfig{Producer: prod, SourceType: ipfix.SourceTCP, Logger: logger})
	defer p.Close()
	prod.sources = p.Sources

	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testTemplateSet)}))
	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 1, testTemplateSet)}))
	require.Equal(t, ipfix.StatusOpened, p.Sources()[0].Status)

	require.NoError(t, p.CloseSource(testExporter))
	assert.Equal(t, []ipfix.SourceStatus{ipfix.StatusClosed}, prod.statuses)
	assert.Len(t, prod.removed, 1)
	assert.Empty(t, p.Sources())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "closed", hook.LastEntry().Data["status"])

	// a new message reopens the session from scratch
	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testTemplateSet)}))
	require.Len(t, p.Sources(), 1)
	assert.Equal(t, ipfix.StatusNew, p.Sources()[0].Status)
}

func TestIPFIXPipeSweep(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	prod := &recordingProducer{}
	store := ipfix.NewTemplateStore()
	p := NewIPFIXPipe(&PipeConfig{
		Producer:         prod,
		Templates:        store,
		SourceType:       ipfix.SourceUDP,
		Logger:           logger,
		TemplateLifetime: 30 * time.Minute,
		SourceTimeout:    time.Hour,
		SweepInterval:    time.Hour,
	})
	defer p.Close()

	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testTemplateSet)}))
	require.Equal(t, 1, store.Len())

	// templates go stale before the session does
	start := time.Now()
	p.now = func() time.Time { return start.Add(45 * time.Minute) }
	p.Sweep()
	assert.Equal(t, 0, store.Len())
	assert.Len(t, p.Sources(), 1)
	assert.Equal(t, "expired templates", hook.LastEntry().Message)

	p.now = func() time.Time { return start.Add(2 * time.Hour) }
	p.Sweep()
	assert.Empty(t, p.Sources())
	assert.Len(t, prod.removed, 1)
}

func TestIPFIXPipeExpiredWarning(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewIPFIXPipe(&PipeConfig{
		Producer:            &recordingProducer{},
		SourceType:          ipfix.SourceUDP,
		Logger:              logger,
		TemplateLifePackets: 1,
		ErrCnt:              10,
		ErrInt:              time.Minute,
	})
	defer p.Close()

	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testTemplateSet)}))
	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 0, testDataSet)}))
	assert.Empty(t, hook.AllEntries())

	// the template was last refreshed two messages ago
	require.NoError(t, p.DecodeFlow(&Message{Src: testExporter, Payload: ipfixMessage(1, 2, testDataSet)}))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
