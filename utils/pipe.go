// Package utils provides the receiving and decoding pipeline.
package utils

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/format"
	"github.com/netsampler/ipfixcol/producer"
	"github.com/netsampler/ipfixcol/transport"
)

// FlowPipe describes a decoder/formatter pipeline.
type FlowPipe interface {
	DecodeFlow(msg interface{}) error
	Close()
}

// TemplateStore is the template state a pipe works on.
type TemplateStore interface {
	ipfix.TemplateSystem
	OpenSource(src ipfix.SourceKey, typ ipfix.SourceType)
	RemoveSource(src ipfix.SourceKey) int
	ExpireBefore(kind ipfix.TemplateKind, cutoff time.Time) int
}

type flowpipe struct {
	format    format.FormatInterface
	transport transport.TransportInterface
	producer  producer.ProducerInterface
}

// PipeConfig wires formatter, transport, and producer dependencies.
type PipeConfig struct {
	Format    format.FormatInterface
	Transport transport.TransportInterface
	Producer  producer.ProducerInterface

	Templates  TemplateStore
	SourceType ipfix.SourceType
	Logger     logrus.FieldLogger

	// Lifetimes of templates received over UDP, by time and by number of
	// messages of the source. Zero disables the check.
	TemplateLifetime           time.Duration
	OptionsTemplateLifetime    time.Duration
	TemplateLifePackets        uint32
	OptionsTemplateLifePackets uint32

	SweepInterval time.Duration
	// SourceTimeout closes the sessions of UDP exporters silent for longer.
	SourceTimeout time.Duration

	ErrCnt int
	ErrInt time.Duration
}

func (p *flowpipe) formatSend(flowMessageSet []producer.ProducerMessage) error {
	for _, msg := range flowMessageSet {
		if p.format == nil {
			continue
		}
		key, data, err := p.format.Format(msg)
		if err != nil {
			return err
		}
		if p.transport != nil {
			if err = p.transport.Send(key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// PipeMessageError wraps a decode/produce error with source message metadata.
type PipeMessageError struct {
	Message *Message
	Err     error
}

func (e *PipeMessageError) Error() string {
	return fmt.Sprintf("message from %s %s", e.Message.Src.String(), e.Err.Error())
}

func (e *PipeMessageError) Unwrap() error {
	return e.Err
}

type session struct {
	info     ipfix.SourceInfo
	odids    map[uint32]struct{}
	lastSeen time.Time
}

// IPFIXPipe decodes IPFIX messages of one transport and forwards them to a
// producer. Each exporter address is a Transport Session.
type IPFIXPipe struct {
	flowpipe
	stopper

	templates  TemplateStore
	sourceType ipfix.SourceType
	logger     logrus.FieldLogger
	mute       *BatchMute
	sequences  *SequenceTracker

	lifetimes   [2]time.Duration
	lifePackets [2]uint32

	sweepInterval time.Duration
	sourceTimeout time.Duration

	sessionsLock *sync.Mutex
	sessions     map[netip.AddrPort]*session

	now func() time.Time
}

func NewIPFIXPipe(cfg *PipeConfig) *IPFIXPipe {
	p := &IPFIXPipe{
		flowpipe: flowpipe{
			format:    cfg.Format,
			transport: cfg.Transport,
			producer:  cfg.Producer,
		},
		templates:     cfg.Templates,
		sourceType:    cfg.SourceType,
		logger:        cfg.Logger,
		mute:          NewBatchMute(cfg.ErrInt, cfg.ErrCnt),
		sequences:     NewSequenceTracker(1000),
		sweepInterval: cfg.SweepInterval,
		sourceTimeout: cfg.SourceTimeout,
		sessionsLock:  &sync.Mutex{},
		sessions:      make(map[netip.AddrPort]*session),
		now:           time.Now,
	}
	p.lifetimes[ipfix.KindTemplate] = cfg.TemplateLifetime
	p.lifetimes[ipfix.KindOptionsTemplate] = cfg.OptionsTemplateLifetime
	p.lifePackets[ipfix.KindTemplate] = cfg.TemplateLifePackets
	p.lifePackets[ipfix.KindOptionsTemplate] = cfg.OptionsTemplateLifePackets
	if p.templates == nil {
		p.templates = ipfix.NewTemplateStore()
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	if p.sweepInterval <= 0 {
		p.sweepInterval = time.Minute
	}
	if p.sourceType == ipfix.SourceUDP && (p.lifetimes[0] > 0 || p.lifetimes[1] > 0 || p.sourceTimeout > 0) {
		if err := p.start(); err == nil {
			go p.sweepLoop(p.stopCh)
		}
	}
	return p
}

// session returns the state of the exporter, marking a new Observation
// Domain as opened in the template store.
func (p *IPFIXPipe) session(addr netip.AddrPort, odid uint32) ipfix.SourceInfo {
	p.sessionsLock.Lock()
	defer p.sessionsLock.Unlock()

	s, ok := p.sessions[addr]
	if !ok || s.info.Status == ipfix.StatusClosed {
		s = &session{
			info: ipfix.SourceInfo{
				Type:        p.sourceType,
				Status:      ipfix.StatusNew,
				Addr:        addr,
				Fingerprint: SourceFingerprint(p.sourceType, addr),
			},
			odids: make(map[uint32]struct{}),
		}
		p.sessions[addr] = s
	} else {
		s.info.Status = ipfix.StatusOpened
		s.info.Sequence++
	}
	s.lastSeen = p.now()
	if _, ok := s.odids[odid]; !ok {
		s.odids[odid] = struct{}{}
		p.templates.OpenSource(ipfix.SourceKey{ODID: odid, Fingerprint: s.info.Fingerprint}, p.sourceType)
	}
	return s.info
}

// DecodeFlow decodes an IPFIX payload and emits producer messages.
// Recoverable decoding errors are returned once the message went through.
func (p *IPFIXPipe) DecodeFlow(msg interface{}) error {
	pkt, ok := msg.(*Message)
	if !ok {
		return fmt.Errorf("flow is not *Message")
	}

	header, err := ipfix.DecodeMessageHeader(pkt.Payload)
	if err != nil {
		return &PipeMessageError{pkt, &ipfix.DecoderError{Decoder: "IPFIX", Err: err}}
	}
	info := p.session(pkt.Src, header.ObservationDomainId)

	packet, decodeErr := ipfix.DecodeMessage(pkt.Payload, info, p.templates)
	if packet == nil {
		return &PipeMessageError{pkt, decodeErr}
	}
	defer packet.Release()

	p.checkExpired(packet, info)

	missing, reset := p.sequences.Track(packet.SourceKey(), header.SequenceNumber, packet.Stats.DataRecords)
	if reset > 0 {
		p.logger.WithFields(logrus.Fields{
			"router": pkt.Src.String(),
			"odid":   header.ObservationDomainId,
		}).Debug("sequence number reset")
	}

	if p.producer == nil {
		return p.wrap(pkt, decodeErr)
	}

	args := producer.ProduceArgs{
		Src:            pkt.Src,
		Dst:            pkt.Dst,
		Source:         info,
		TimeReceived:   pkt.Received,
		MissingRecords: missing,
	}
	flowMessageSet, err := p.producer.Produce(packet, &args)
	defer p.producer.Commit(flowMessageSet)
	sendErr := p.formatSend(flowMessageSet)
	return p.wrap(pkt, errors.Join(decodeErr, err, sendErr))
}

func (p *IPFIXPipe) wrap(pkt *Message, err error) error {
	if err == nil {
		return nil
	}
	return &PipeMessageError{pkt, err}
}

// checkExpired warns about Data Sets decoded with a UDP template that
// should have been refreshed. The template is still used.
func (p *IPFIXPipe) checkExpired(packet *ipfix.Message, info ipfix.SourceInfo) {
	if info.Type != ipfix.SourceUDP {
		return
	}
	now := p.now()
	for i := range packet.DataSets {
		t := packet.DataSets[i].Template()
		if t == nil || !t.Expired(now, info.Sequence, p.lifetimes[t.Kind], p.lifePackets[t.Kind]) {
			continue
		}
		p.mute.Log(p.logger, "expired template warnings", func(l logrus.FieldLogger) {
			l.WithFields(logrus.Fields{
				"router":      info.Addr.String(),
				"odid":        t.ODID,
				"template_id": t.OriginalID,
			}).Warn("data decoded with an expired template")
		})
	}
}

// CloseSource ends the Transport Session of an exporter: its templates are
// removed and the producer forgets it. The session is listed as closed until
// the teardown is done.
func (p *IPFIXPipe) CloseSource(addr netip.AddrPort) error {
	p.sessionsLock.Lock()
	s, ok := p.sessions[addr]
	if !ok || s.info.Status == ipfix.StatusClosed {
		p.sessionsLock.Unlock()
		return nil
	}
	s.info.Status = ipfix.StatusClosed
	odids := make([]uint32, 0, len(s.odids))
	for odid := range s.odids {
		odids = append(odids, odid)
	}
	p.sessionsLock.Unlock()

	defer func() {
		p.sessionsLock.Lock()
		if p.sessions[addr] == s {
			delete(p.sessions, addr)
		}
		p.sessionsLock.Unlock()
	}()

	var errs []error
	for _, odid := range odids {
		key := ipfix.SourceKey{ODID: odid, Fingerprint: s.info.Fingerprint}
		removed := p.templates.RemoveSource(key)
		p.sequences.Remove(key)
		p.logger.WithFields(logrus.Fields{
			"router":    addr.String(),
			"odid":      odid,
			"templates": removed,
			"status":    ipfix.StatusClosed.String(),
		}).Debug("closed source")

		remover, ok := p.producer.(producer.SourceRemover)
		if !ok {
			continue
		}
		flowMessageSet, err := remover.RemoveSource(key)
		if err != nil {
			errs = append(errs, err)
		}
		if err := p.formatSend(flowMessageSet); err != nil {
			errs = append(errs, err)
		}
		p.producer.Commit(flowMessageSet)
	}
	return errors.Join(errs...)
}

// Sources lists the exporters with a Transport Session, including those being
// closed.
func (p *IPFIXPipe) Sources() []ipfix.SourceInfo {
	p.sessionsLock.Lock()
	defer p.sessionsLock.Unlock()
	sources := make([]ipfix.SourceInfo, 0, len(p.sessions))
	for _, s := range p.sessions {
		sources = append(sources, s.info)
	}
	return sources
}

func (p *IPFIXPipe) sweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Sweep expires stale UDP templates and closes silent sessions.
func (p *IPFIXPipe) Sweep() {
	now := p.now()
	for _, kind := range []ipfix.TemplateKind{ipfix.KindTemplate, ipfix.KindOptionsTemplate} {
		if p.lifetimes[kind] <= 0 {
			continue
		}
		if n := p.templates.ExpireBefore(kind, now.Add(-p.lifetimes[kind])); n > 0 {
			p.logger.WithFields(logrus.Fields{
				"kind":  kind.String(),
				"count": n,
			}).Debug("expired templates")
		}
	}

	if p.sourceTimeout <= 0 {
		return
	}
	var stale []netip.AddrPort
	p.sessionsLock.Lock()
	for addr, s := range p.sessions {
		if now.Sub(s.lastSeen) > p.sourceTimeout {
			stale = append(stale, addr)
		}
	}
	p.sessionsLock.Unlock()
	for _, addr := range stale {
		if err := p.CloseSource(addr); err != nil {
			p.logger.WithError(err).WithField("router", addr.String()).Error("error closing source")
		}
	}
}

// Close stops the background sweeper. Templates are kept so they can be
// persisted.
func (p *IPFIXPipe) Close() {
	p.Shutdown()
}
