package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/producer"
)

// PromProducerWrapper records per-exporter statistics of the decoded
// Messages before handing them to the wrapped producer.
type PromProducerWrapper struct {
	wrapped producer.ProducerInterface
}

func WrapPromProducer(wrapped producer.ProducerInterface) *PromProducerWrapper {
	return &PromProducerWrapper{wrapped: wrapped}
}

func recordMessageMetrics(packet *ipfix.Message, args *producer.ProduceArgs) {
	router := args.Src.Addr().Unmap().String()
	odid := strconv.FormatUint(uint64(packet.Header.ObservationDomainId), 10)
	IPFIXStats.With(prometheus.Labels{"router": router, "obs_domain_id": odid}).Inc()

	add := func(vec *prometheus.CounterVec, typ string, n int) {
		if n > 0 {
			vec.With(prometheus.Labels{"router": router, "obs_domain_id": odid, "type": typ}).Add(float64(n))
		}
	}
	stats := packet.Stats
	add(IPFIXSetRecordsStatsSum, "template", stats.TemplateRecords)
	add(IPFIXSetRecordsStatsSum, "options_template", stats.OptionsTemplateRecords)
	add(IPFIXSetRecordsStatsSum, "data", stats.DataRecords)
	add(IPFIXSetRecordsStatsSum, "withdrawal", stats.Withdrawals)
	add(IPFIXSkippedStatsSum, "template", stats.SkippedTemplates)
	add(IPFIXSkippedStatsSum, "data_set", stats.SkippedDataSets)
	add(IPFIXSkippedStatsSum, "record", stats.SkippedRecords)

	IPFIXMissingRecords.With(prometheus.Labels{"router": router, "obs_domain_id": odid}).Set(float64(args.MissingRecords))

	if !args.TimeReceived.IsZero() {
		exported := time.Unix(int64(packet.Header.ExportTime), 0)
		IPFIXDelaySum.With(prometheus.Labels{"router": router}).Observe(args.TimeReceived.Sub(exported).Seconds())
	}
}

func (p *PromProducerWrapper) Produce(msg interface{}, args *producer.ProduceArgs) ([]producer.ProducerMessage, error) {
	if packet, ok := msg.(*ipfix.Message); ok {
		recordMessageMetrics(packet, args)
	}
	return p.wrapped.Produce(msg, args)
}

func (p *PromProducerWrapper) RemoveSource(src ipfix.SourceKey) ([]producer.ProducerMessage, error) {
	if remover, ok := p.wrapped.(producer.SourceRemover); ok {
		return remover.RemoveSource(src)
	}
	return nil, nil
}

func (p *PromProducerWrapper) Commit(flowMessageSet []producer.ProducerMessage) {
	p.wrapped.Commit(flowMessageSet)
}

func (p *PromProducerWrapper) Close() {
	p.wrapped.Close()
}
