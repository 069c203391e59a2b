// Package metrics exposes Prometheus collectors for the receivers, the
// decoder, the template store and the producers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	NAMESPACE = "ipfixcol"
)

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

var (
	MetricTrafficBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_traffic_bytes",
			Help:      "Bytes received by the application.",
			Namespace: NAMESPACE,
		},
		[]string{"remote_ip", "local_ip", "local_port", "type"},
	)
	MetricTrafficPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_traffic_packets",
			Help:      "Packets received by the application.",
			Namespace: NAMESPACE},
		[]string{"remote_ip", "local_ip", "local_port", "type"},
	)
	MetricPacketSizeSum = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "flow_traffic_summary_size_bytes",
			Help:       "Summary of packet size.",
			Namespace:  NAMESPACE,
			Objectives: objectives,
		},
		[]string{"remote_ip", "local_ip", "local_port", "type"},
	)
	MetricReceivedDroppedPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_dropped_packets",
			Help:      "Packets dropped before processing.",
			Namespace: NAMESPACE},
		[]string{"remote_ip", "local_ip", "local_port"},
	)
	MetricReceivedDroppedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_dropped_bytes",
			Help:      "Bytes dropped before processing.",
			Namespace: NAMESPACE},
		[]string{"remote_ip", "local_ip", "local_port"},
	)
	DecoderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_decoder_error_count",
			Help:      "Decoder errors by class.",
			Namespace: NAMESPACE},
		[]string{"router", "error"},
	)
	DecoderTime = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "flow_summary_decoding_time_us",
			Help:       "Decoding time summary.",
			Namespace:  NAMESPACE,
			Objectives: objectives,
		},
		[]string{"name"},
	)
	IPFIXStats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_process_ipfix_count",
			Help:      "IPFIX Messages processed.",
			Namespace: NAMESPACE},
		[]string{"router", "obs_domain_id"},
	)
	IPFIXSetRecordsStatsSum = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_process_ipfix_records_sum",
			Help:      "IPFIX records processed, by type.",
			Namespace: NAMESPACE},
		[]string{"router", "obs_domain_id", "type"}, // template, options_template, data, withdrawal
	)
	IPFIXSkippedStatsSum = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_process_ipfix_skipped_sum",
			Help:      "IPFIX structures skipped while decoding, by type.",
			Namespace: NAMESPACE},
		[]string{"router", "obs_domain_id", "type"}, // template, data_set, record
	)
	IPFIXMissingRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:      "flow_process_ipfix_missing_records",
			Help:      "Data Records lost in the Transport Session, from sequence numbers.",
			Namespace: NAMESPACE},
		[]string{"router", "obs_domain_id"},
	)
	IPFIXDelaySum = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "flow_process_ipfix_delay_summary_seconds",
			Help:       "Time difference between export and reception of IPFIX Messages.",
			Namespace:  NAMESPACE,
			Objectives: objectives,
		},
		[]string{"router"},
	)
	IPFIXTemplatesStats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_process_ipfix_templates_count",
			Help:      "IPFIX templates received.",
			Namespace: NAMESPACE},
		[]string{"source", "obs_domain_id", "template_id", "type"}, // options_template/template
	)
	IPFIXTemplatesRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flow_process_ipfix_templates_removed_count",
			Help:      "IPFIX templates withdrawn, expired or dropped with their source.",
			Namespace: NAMESPACE},
		[]string{"reason"}, // withdrawal, expired, source_closed
	)
)

func init() {
	prometheus.MustRegister(MetricTrafficBytes)
	prometheus.MustRegister(MetricTrafficPackets)
	prometheus.MustRegister(MetricPacketSizeSum)
	prometheus.MustRegister(MetricReceivedDroppedPackets)
	prometheus.MustRegister(MetricReceivedDroppedBytes)

	prometheus.MustRegister(DecoderErrors)
	prometheus.MustRegister(DecoderTime)

	prometheus.MustRegister(IPFIXStats)
	prometheus.MustRegister(IPFIXSetRecordsStatsSum)
	prometheus.MustRegister(IPFIXSkippedStatsSum)
	prometheus.MustRegister(IPFIXMissingRecords)
	prometheus.MustRegister(IPFIXDelaySum)
	prometheus.MustRegister(IPFIXTemplatesStats)
	prometheus.MustRegister(IPFIXTemplatesRemoved)
}
