package builder

import (
	"fmt"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/format"
	"github.com/netsampler/ipfixcol/metrics"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/config"
	"github.com/netsampler/ipfixcol/producer"
	"github.com/netsampler/ipfixcol/producer/forward"
	rawproducer "github.com/netsampler/ipfixcol/producer/raw"
	"github.com/netsampler/ipfixcol/state"
	"github.com/netsampler/ipfixcol/transport"
	"github.com/netsampler/ipfixcol/utils/templates"
)

// BuildFormatter resolves a formatter by name.
func BuildFormatter(name string) (format.FormatInterface, error) {
	formatter, err := format.FindFormat(name)
	if err != nil {
		return nil, fmt.Errorf("build formatter %s: %w", name, err)
	}
	return formatter, nil
}

// BuildTransport resolves a transport by name.
func BuildTransport(name string) (*transport.Transport, error) {
	t, err := transport.FindTransport(name)
	if err != nil {
		return nil, fmt.Errorf("build transport %s: %w", name, err)
	}
	return t, nil
}

// BuildProducer resolves a producer based on configuration.
func BuildProducer(cfg *config.Config) (producer.ProducerInterface, error) {
	switch cfg.Produce {
	case "raw":
		return &rawproducer.RawProducer{SkipOptions: cfg.SkipOptions}, nil
	case "forward":
		counters, err := metrics.GetOrCreate("forward")
		if err != nil {
			return nil, fmt.Errorf("forward metrics: %w", err)
		}
		p := forward.NewForwardProducer(counters)
		p.ResendInterval = cfg.TemplateResend
		return p, nil
	default:
		return nil, fmt.Errorf("producer does not exist: %s", cfg.Produce)
	}
}

type timedSink struct {
	templates.Sink
	metric *metrics.Metric
}

func (s *timedSink) Save(entries []ipfix.TemplateEntry) error {
	defer metrics.TimeMeasureNow().MeasureTime(s.metric.Metric("flush_time_ms"))
	err := s.Sink.Save(entries)
	if err != nil {
		s.metric.Counter("flush_errors").Inc()
	} else {
		s.metric.Metric("entries").Set(float64(len(entries)))
	}
	return err
}

func (s *timedSink) Close() error {
	if c, ok := s.Sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// BuildTemplateSink returns where templates are kept across restarts, or nil
// when persistence is disabled.
func BuildTemplateSink(cfg *config.Config) (templates.Sink, error) {
	var sink templates.Sink
	switch {
	case cfg.TemplatesFile != "":
		sink = templates.NewFileSink(cfg.TemplatesFile)
	case cfg.TemplatesState != "":
		s, err := state.NewTemplateSink(cfg.TemplatesState)
		if err != nil {
			return nil, fmt.Errorf("build template state %s: %w", cfg.TemplatesState, err)
		}
		sink = s
	default:
		return nil, nil
	}
	metric, err := metrics.GetOrCreate("templates")
	if err != nil {
		return nil, err
	}
	return &timedSink{Sink: sink, metric: metric}, nil
}
