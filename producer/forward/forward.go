// Package forward re-exports IPFIX Messages from many exporters as one
// stream. Template IDs of every source are remapped onto a canonical ID
// space per Observation Domain; Data Sets follow their template's new ID.
package forward

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/mapper"
	"github.com/netsampler/ipfixcol/producer"
)

// Counters hands out named counters, such as metrics.Metric.
type Counters interface {
	Counter(name string) prometheus.Counter
}

// ForwardMessage is an IPFIX Message of the merged stream.
type ForwardMessage struct {
	ObservationDomainId uint32
	Src                 netip.AddrPort
	Data                []byte
}

// Key keeps the messages of an Observation Domain in order on keyed
// transports.
func (m *ForwardMessage) Key() []byte {
	return binary.BigEndian.AppendUint32(nil, m.ObservationDomainId)
}

func (m *ForwardMessage) MarshalBinary() ([]byte, error) {
	return m.Data, nil
}

type ForwardProducer struct {
	// ResendInterval is how often every canonical template of a domain is
	// written again ahead of its next message, so collectors expiring
	// templates keep decoding the stream. Zero disables it.
	ResendInterval time.Duration

	mapper   *mapper.Sharded
	counters Counters

	seqLock  *sync.Mutex
	sequence map[uint32]uint32
	resent   map[uint32]time.Time

	now func() time.Time
}

func NewForwardProducer(counters Counters) *ForwardProducer {
	return &ForwardProducer{
		mapper:   mapper.NewSharded(),
		counters: counters,
		seqLock:  &sync.Mutex{},
		sequence: make(map[uint32]uint32),
		resent:   make(map[uint32]time.Time),
		now:      time.Now,
	}
}

// Mapper exposes the canonical template state.
func (p *ForwardProducer) Mapper() *mapper.Sharded {
	return p.mapper
}

func (p *ForwardProducer) count(name string, n int) {
	if p.counters != nil && n > 0 {
		p.counters.Counter(name).Add(float64(n))
	}
}

// nextSequence returns the Sequence Number of the next message of a domain
// and accounts for the records it carries.
func (p *ForwardProducer) nextSequence(odid uint32, records int) uint32 {
	p.seqLock.Lock()
	defer p.seqLock.Unlock()
	seq := p.sequence[odid]
	p.sequence[odid] = seq + uint32(records)
	return seq
}

// forget drops the sequence and resend state of a domain left without
// canonical templates.
func (p *ForwardProducer) forget(m *mapper.Mapper, odid uint32) {
	if m.HasDomain(odid) {
		return
	}
	p.seqLock.Lock()
	defer p.seqLock.Unlock()
	delete(p.sequence, odid)
	delete(p.resent, odid)
}

// resendDue tells whether the templates of a domain must be written again,
// starting a new interval if so.
func (p *ForwardProducer) resendDue(odid uint32) bool {
	if p.ResendInterval <= 0 {
		return false
	}
	now := p.now()
	p.seqLock.Lock()
	defer p.seqLock.Unlock()
	last, ok := p.resent[odid]
	if ok && now.Sub(last) < p.ResendInterval {
		return false
	}
	p.resent[odid] = now
	return ok
}

func appendTemplates(b *ipfix.MessageBuilder, m *mapper.Mapper, odid uint32) int {
	var written int
	for _, kind := range []ipfix.TemplateKind{ipfix.KindTemplate, ipfix.KindOptionsTemplate} {
		templates := m.GetTemplates(odid, kind)
		if len(templates) == 0 {
			continue
		}
		b.BeginSet(kind.SetID())
		for _, c := range templates {
			b.AppendTemplate(c.Template, c.ID)
		}
		written += len(templates)
	}
	return written
}

func appendWithdrawals(b *ipfix.MessageBuilder, m *mapper.Mapper, odid uint32) int {
	var withdrawn int
	for _, kind := range []ipfix.TemplateKind{ipfix.KindTemplate, ipfix.KindOptionsTemplate} {
		ids := m.WithdrawIDs(odid, kind)
		if len(ids) == 0 {
			continue
		}
		b.BeginSet(kind.SetID())
		for _, id := range ids {
			b.AppendWithdrawal(id)
		}
		withdrawn += len(ids)
	}
	return withdrawn
}

// remap writes the Sets of packet under canonical IDs. It returns the
// number of Data Records written.
func (p *ForwardProducer) remap(b *ipfix.MessageBuilder, m *mapper.Mapper, packet *ipfix.Message) (int, error) {
	src := packet.SourceKey()
	var errs []error
	var records int

	passTemplate := func(raw []byte, kind ipfix.TemplateKind, t *ipfix.Template) (uint16, bool) {
		action, id, err := m.ProcessTemplate(src, raw, kind)
		if err != nil {
			errs = append(errs, err)
		}
		switch action {
		case mapper.ActionPass:
			b.AppendTemplate(t, id)
			p.count("template_pass", 1)
		case mapper.ActionDrop:
			p.count("template_drop", 1)
		default:
			return 0, false
		}
		return id, true
	}

	for _, ref := range packet.Sets {
		switch ref.Id {
		case ipfix.TemplateSetID, ipfix.OptionsTemplateSetID:
			set := packet.TemplateSets
			if ref.Id == ipfix.OptionsTemplateSetID {
				set = packet.OptionsTemplateSets
			}
			ts := set[ref.Index]
			b.BeginSet(ref.Id)
			for _, rec := range ts.Records {
				if rec.Withdrawal {
					if packet.Source.Type != ipfix.SourceUDP {
						p.count("template_withdraw", m.ProcessWithdrawal(src, rec.TemplateId, ts.Kind))
					}
					continue
				}
				if rec.Template == nil {
					continue
				}
				passTemplate(rec.Raw, ts.Kind, rec.Template)
			}
		default:
			ds := &packet.DataSets[ref.Index]
			t := ds.Template()
			id, ok := m.RemapDataSet(src, ds.Id)
			if !ok {
				// known to the store but not forwarded yet, eg. restored templates
				b.BeginSet(t.Kind.SetID())
				if id, ok = passTemplate(t.Raw(), t.Kind, t); !ok {
					p.count("data_drop", 1)
					continue
				}
			}
			b.BeginSet(id)
			it := ds.Records()
			for it.Next() {
				b.AppendRecord(it.Record())
			}
			records += it.Count()
		}
	}
	p.count("withdraw", appendWithdrawals(b, m, src.ODID))
	return records, errors.Join(errs...)
}

// Produce returns at most one message: the input with its templates and
// Data Sets remapped and withdrawals of canonical templates left unused.
func (p *ForwardProducer) Produce(msg interface{}, args *producer.ProduceArgs) ([]producer.ProducerMessage, error) {
	packet, ok := msg.(*ipfix.Message)
	if !ok {
		return nil, fmt.Errorf("message is not *ipfix.Message")
	}
	odid := packet.Header.ObservationDomainId

	var data []byte
	var err error
	p.mapper.Do(odid, func(m *mapper.Mapper) {
		b := ipfix.NewMessageBuilder(ipfix.MessageHeader{
			ExportTime:          packet.Header.ExportTime,
			ObservationDomainId: odid,
		})
		defer p.forget(m, odid)
		if p.resendDue(odid) {
			p.count("template_resend", appendTemplates(b, m, odid))
		}
		var records int
		records, err = p.remap(b, m, packet)
		out, buildErr := b.Bytes()
		if buildErr != nil {
			err = errors.Join(err, buildErr)
			return
		}
		if len(out) == ipfix.MessageHeaderLength {
			return
		}
		binary.BigEndian.PutUint32(out[8:12], p.nextSequence(odid, records))
		p.count("records", records)
		data = out
	})
	if data == nil {
		return nil, err
	}
	return []producer.ProducerMessage{&ForwardMessage{
		ObservationDomainId: odid,
		Src:                 args.Src,
		Data:                data,
	}}, err
}

// RemoveSource releases the mappings of a closed source and returns the
// withdrawals of canonical templates nobody else uses.
func (p *ForwardProducer) RemoveSource(src ipfix.SourceKey) ([]producer.ProducerMessage, error) {
	var data []byte
	var err error
	p.mapper.Do(src.ODID, func(m *mapper.Mapper) {
		if err = m.RemoveSource(src); err != nil {
			return
		}
		defer p.forget(m, src.ODID)
		b := ipfix.NewMessageBuilder(ipfix.MessageHeader{
			ExportTime:          uint32(p.now().Unix()),
			ObservationDomainId: src.ODID,
		})
		n := appendWithdrawals(b, m, src.ODID)
		if n == 0 {
			return
		}
		p.count("withdraw", n)
		if data, err = b.Bytes(); err != nil {
			return
		}
		binary.BigEndian.PutUint32(data[8:12], p.nextSequence(src.ODID, 0))
	})
	if errors.Is(err, mapper.ErrUnknownSource) {
		return nil, nil
	}
	if err != nil || data == nil {
		return nil, err
	}
	return []producer.ProducerMessage{&ForwardMessage{
		ObservationDomainId: src.ODID,
		Data:                data,
	}}, nil
}

func (p *ForwardProducer) Commit(flowMessageSet []producer.ProducerMessage) {}

func (p *ForwardProducer) Close() {}
