package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/utils"
	"github.com/netsampler/ipfixcol/utils/debug"
)

var errorClasses = []struct {
	err   error
	label string
}{
	{ipfix.ErrorTemplateNotFound, "template_not_found"},
	{ipfix.ErrMalformedTemplate, "malformed_template"},
	{ipfix.ErrTruncatedRecord, "truncated_record"},
	{ipfix.ErrMapperMismatch, "mapper_mismatch"},
	{ipfix.ErrUDPWithdrawal, "udp_withdrawal"},
	{ipfix.ErrMalformedMessage, "malformed_message"},
	{ipfix.ErrUnknownVersion, "unknown_version"},
	{debug.ErrPanic, "panic"},
}

// ErrorClasses returns the labels of every known error inside err, or
// error_decoding when none is known.
func ErrorClasses(err error) []string {
	var classes []string
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			classes = append(classes, c.label)
		}
	}
	if len(classes) == 0 {
		classes = append(classes, "error_decoding")
	}
	return classes
}

// PromDecoderWrapper counts traffic and decoding time, and classifies the
// errors returned by wrapped.
func PromDecoderWrapper(wrapped utils.DecoderFunc, name string) utils.DecoderFunc {
	return func(msg interface{}) error {
		pkt, ok := msg.(*utils.Message)
		if !ok {
			return fmt.Errorf("flow is not *Message")
		}
		remote := pkt.Src.Addr().Unmap().String()
		labels := prometheus.Labels{
			"remote_ip":  remote,
			"local_ip":   pkt.Dst.Addr().Unmap().String(),
			"local_port": strconv.Itoa(int(pkt.Dst.Port())),
			"type":       name,
		}
		size := float64(len(pkt.Payload))
		MetricTrafficBytes.With(labels).Add(size)
		MetricTrafficPackets.With(labels).Inc()
		MetricPacketSizeSum.With(labels).Observe(size)

		timeTrackStart := time.Now()
		err := wrapped(msg)
		DecoderTime.With(prometheus.Labels{"name": name}).
			Observe(float64(time.Since(timeTrackStart).Nanoseconds()) / 1000)

		if err != nil {
			for _, class := range ErrorClasses(err) {
				DecoderErrors.With(prometheus.Labels{"router": remote, "error": class}).Inc()
			}
		}
		return err
	}
}
