// Package rawproducer turns every Data Record into a self-describing
// message: the Field Specifiers of its template next to the field values.
package rawproducer

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/producer"
)

// RawProducer emits one RecordMessage per decoded Data Record.
type RawProducer struct {
	// SkipOptions drops records described by Options Templates.
	SkipOptions bool
}

// RecordField is the value of one Information Element.
type RecordField struct {
	ipfix.Field
	Scope bool
	Value []byte
}

// RecordMessage is a Data Record detached from the IPFIX Message it was
// read from. Values are copied, the message outlives template references.
type RecordMessage struct {
	Options             bool
	TimeReceived        time.Time
	Src                 netip.AddrPort
	Dst                 netip.AddrPort
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainId uint32
	TemplateId          uint16
	Fields              []RecordField

	buf []byte
}

var recordPool = sync.Pool{
	New: func() any {
		return &RecordMessage{}
	},
}

func (m *RecordMessage) reset() {
	fields := m.Fields[:0]
	buf := m.buf[:0]
	*m = RecordMessage{}
	m.Fields = fields
	m.buf = buf
}

// Key groups the records of one exporter and Observation Domain.
func (m *RecordMessage) Key() []byte {
	addr := m.Src.Addr().As16()
	key := make([]byte, 0, 22)
	key = append(key, addr[:]...)
	key = binary.BigEndian.AppendUint16(key, m.Src.Port())
	return binary.BigEndian.AppendUint32(key, m.ObservationDomainId)
}

func (m *RecordMessage) kind() string {
	if m.Options {
		return "options"
	}
	return "data"
}

type jsonField struct {
	Id    uint16 `json:"id"`
	Pen   uint32 `json:"pen,omitempty"`
	Scope bool   `json:"scope,omitempty"`
	Value string `json:"value"`
}

func (m *RecordMessage) MarshalJSON() ([]byte, error) {
	fields := make([]jsonField, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = jsonField{
			Id:    f.Type,
			Pen:   f.Pen,
			Scope: f.Scope,
			Value: hex.EncodeToString(f.Value),
		}
	}
	return json.Marshal(struct {
		Type                string      `json:"type"`
		TimeReceived        time.Time   `json:"time_received"`
		Src                 string      `json:"sampler_address"`
		ExportTime          uint32      `json:"export_time"`
		SequenceNumber      uint32      `json:"sequence_number"`
		ObservationDomainId uint32      `json:"observation_domain_id"`
		TemplateId          uint16      `json:"template_id"`
		Fields              []jsonField `json:"fields"`
	}{
		Type:                m.kind(),
		TimeReceived:        m.TimeReceived,
		Src:                 m.Src.String(),
		ExportTime:          m.ExportTime,
		SequenceNumber:      m.SequenceNumber,
		ObservationDomainId: m.ObservationDomainId,
		TemplateId:          m.TemplateId,
		Fields:              fields,
	})
}

func (m *RecordMessage) MarshalText() ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s odid=%d tid=%d:", m.TimeReceived.Format(time.RFC3339Nano), m.Src.String(), m.kind(), m.ObservationDomainId, m.TemplateId)
	for _, f := range m.Fields {
		if f.PenProvided {
			fmt.Fprintf(&b, " %d.%d=%x", f.Pen, f.Type, f.Value)
		} else {
			fmt.Fprintf(&b, " %d=%x", f.Type, f.Value)
		}
	}
	return []byte(b.String()), nil
}

func (p *RawProducer) Produce(msg interface{}, args *producer.ProduceArgs) ([]producer.ProducerMessage, error) {
	packet, ok := msg.(*ipfix.Message)
	if !ok {
		return nil, fmt.Errorf("message is not *ipfix.Message")
	}

	flowMessageSet := make([]producer.ProducerMessage, 0, len(packet.Metadata))
	var values [][]byte
	for _, meta := range packet.Metadata {
		t := meta.Template
		options := t.Kind == ipfix.KindOptionsTemplate
		if options && p.SkipOptions {
			continue
		}
		var err error
		values, err = ipfix.AppendFieldValues(values[:0], meta.Record, t)
		if err != nil {
			p.Commit(flowMessageSet)
			return nil, &ipfix.FlowError{Type: "DataSet", ObsDomainId: t.ODID, TemplateId: t.OriginalID, Err: err}
		}

		rec := recordPool.Get().(*RecordMessage)
		rec.reset()
		rec.Options = options
		rec.TimeReceived = args.TimeReceived
		rec.Src = args.Src
		rec.Dst = args.Dst
		rec.ExportTime = packet.Header.ExportTime
		rec.SequenceNumber = packet.Header.SequenceNumber
		rec.ObservationDomainId = packet.Header.ObservationDomainId
		rec.TemplateId = t.OriginalID

		rec.buf = append(rec.buf, meta.Record...)
		for i, f := range t.Fields {
			// values alias meta.Record: their capacity gives the offset in the copy
			start := cap(meta.Record) - cap(values[i])
			end := start + len(values[i])
			rec.Fields = append(rec.Fields, RecordField{
				Field: f,
				Scope: i < int(t.ScopeFieldCount),
				Value: rec.buf[start:end:end],
			})
		}
		flowMessageSet = append(flowMessageSet, rec)
	}
	return flowMessageSet, nil
}

// Commit returns the messages to the pool once they have been sent.
func (p *RawProducer) Commit(flowMessageSet []producer.ProducerMessage) {
	for _, msg := range flowMessageSet {
		if rec, ok := msg.(*RecordMessage); ok {
			recordPool.Put(rec)
		}
	}
}

func (p *RawProducer) Close() {}
