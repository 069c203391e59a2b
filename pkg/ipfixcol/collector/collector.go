// Package collector runs the IPFIX receivers and their pipes on a shared
// template store.
package collector

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/format"
	"github.com/netsampler/ipfixcol/metrics"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/listen"
	"github.com/netsampler/ipfixcol/producer"
	"github.com/netsampler/ipfixcol/transport"
	"github.com/netsampler/ipfixcol/utils"
	"github.com/netsampler/ipfixcol/utils/debug"
	"github.com/netsampler/ipfixcol/utils/templates"
)

// Config configures a Collector.
type Config struct {
	Listeners []listen.ListenerConfig
	Formatter format.FormatInterface
	Transport *transport.Transport
	Producer  producer.ProducerInterface
	ErrCnt    int
	ErrInt    time.Duration
	Logger    logrus.FieldLogger

	TemplateLifetime           time.Duration
	OptionsTemplateLifetime    time.Duration
	TemplateLifePackets        uint32
	OptionsTemplateLifePackets uint32
	SweepInterval              time.Duration
	SourceTimeout              time.Duration

	// TemplateSink keeps templates across restarts when set.
	TemplateSink           templates.Sink
	TemplatesFlushInterval time.Duration
}

// Collector manages receivers and IPFIX pipes.
type Collector struct {
	cfg    Config
	logger logrus.FieldLogger

	store       *ipfix.TemplateStore
	snapshotter *templates.Snapshotter
	receivers   []*utils.UDPReceiver
	pipes       []*utils.IPFIXPipe

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Collector from config.
func New(cfg Config) (*Collector, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Collector{
		cfg:    cfg,
		logger: cfg.Logger,
		store:  ipfix.NewTemplateStore(),
	}, nil
}

// templateStore restores the last snapshot and returns the store the pipes
// work on.
func (c *Collector) templateStore() utils.TemplateStore {
	var store utils.TemplateStore = c.store
	if c.cfg.TemplateSink != nil {
		c.snapshotter = templates.NewSnapshotter(c.store, c.cfg.TemplateSink,
			templates.WithFlushInterval(c.cfg.TemplatesFlushInterval),
			templates.WithLogger(c.logger),
		)
		restored, err := c.snapshotter.Load()
		if err != nil {
			c.logger.WithError(err).Warn("error restoring templates")
		}
		if restored > 0 {
			c.logger.WithField("count", restored).Info("restored templates")
		}
		store = templates.NewChangeTracker(store, c.snapshotter.Notify)
		c.snapshotter.Start()

		c.wg.Add(1)
		go c.persistenceStatus(c.snapshotter.Errors())
	}
	return metrics.NewPromTemplateSystem(store)
}

// persistenceStatus exposes whether the last failed save has been followed
// by a successful one.
func (c *Collector) persistenceStatus(errCh <-chan error) {
	defer c.wg.Done()
	status, err := metrics.GetOrCreate("templates")
	if err != nil {
		c.logger.WithError(err).Error("error creating templates metrics")
		return
	}
	status.Status("persistence", metrics.StatusOK)
	for {
		select {
		case <-c.stopCh:
			return
		case err := <-errCh:
			if err == nil {
				continue
			}
			status.Status("persistence", metrics.StatusErr)
		}
	}
}

// Start launches receivers and error handlers.
func (c *Collector) Start() error {
	c.stopCh = make(chan struct{})
	store := c.templateStore()

	var transporter transport.TransportInterface
	if c.cfg.Transport != nil {
		transporter = c.cfg.Transport
	}

	for _, listenCfg := range c.cfg.Listeners {
		logger := c.logger.WithFields(logrus.Fields{
			"scheme":     listenCfg.Scheme,
			"hostname":   listenCfg.Hostname,
			"port":       listenCfg.Port,
			"count":      listenCfg.NumSockets,
			"workers":    listenCfg.NumWorkers,
			"blocking":   listenCfg.Blocking,
			"queue_size": listenCfg.QueueSize,
		})
		logger.Info("starting collection")

		recv, err := utils.NewUDPReceiver(&utils.UDPReceiverConfig{
			Sockets:          listenCfg.NumSockets,
			Workers:          listenCfg.NumWorkers,
			QueueSize:        listenCfg.QueueSize,
			Blocking:         listenCfg.Blocking,
			ReceiverCallback: metrics.NewReceiverMetric(),
		})
		if err != nil {
			return err
		}

		p := utils.NewIPFIXPipe(&utils.PipeConfig{
			Format:                     c.cfg.Formatter,
			Transport:                  transporter,
			Producer:                   c.cfg.Producer,
			Templates:                  store,
			SourceType:                 ipfix.SourceUDP,
			Logger:                     logger,
			TemplateLifetime:           c.cfg.TemplateLifetime,
			OptionsTemplateLifetime:    c.cfg.OptionsTemplateLifetime,
			TemplateLifePackets:        c.cfg.TemplateLifePackets,
			OptionsTemplateLifePackets: c.cfg.OptionsTemplateLifePackets,
			SweepInterval:              c.cfg.SweepInterval,
			SourceTimeout:              c.cfg.SourceTimeout,
			ErrCnt:                     c.cfg.ErrCnt,
			ErrInt:                     c.cfg.ErrInt,
		})
		c.pipes = append(c.pipes, p)

		decodeFunc := p.DecodeFlow
		decodeFunc = debug.PanicDecoderWrapper(decodeFunc)
		decodeFunc = metrics.PromDecoderWrapper(decodeFunc, listenCfg.Scheme)

		if err := recv.Start(listenCfg.Hostname, listenCfg.Port, decodeFunc); err != nil {
			return err
		}
		c.receivers = append(c.receivers, recv)

		c.wg.Add(1)
		go c.receiverErrors(recv, logger)
	}

	c.wg.Add(1)
	go c.transportErrors()

	return nil
}

func (c *Collector) receiverErrors(recv *utils.UDPReceiver, logger logrus.FieldLogger) {
	defer c.wg.Done()
	bm := utils.NewBatchMute(c.cfg.ErrInt, c.cfg.ErrCnt)
	for {
		select {
		case <-c.stopCh:
			return
		case err := <-recv.Errors():
			if errors.Is(err, net.ErrClosed) {
				logger.Info("closed receiver")
				continue
			}
			bm.Log(logger, "receiver messages", func(l logrus.FieldLogger) {
				l = l.WithError(err)
				var pErrMsg *debug.PanicErrorMessage
				switch {
				case errors.As(err, &pErrMsg):
					l.WithFields(logrus.Fields{
						"message":    pErrMsg.Msg,
						"stacktrace": string(pErrMsg.Stacktrace),
					}).Error("intercepted panic")
				case errors.Is(err, ipfix.ErrorTemplateNotFound):
					l.Warn("template error")
				case errors.Is(err, ipfix.ErrMalformedMessage), errors.Is(err, ipfix.ErrUnknownVersion):
					l.Warn("dropped message")
				default:
					l.Error("error")
				}
			})
		}
	}
}

func (c *Collector) transportErrors() {
	defer c.wg.Done()

	var transportErr <-chan error
	if c.cfg.Transport != nil {
		if transportErrorFct, ok := c.cfg.Transport.TransportDriver.(interface {
			Errors() <-chan error
		}); ok {
			transportErr = transportErrorFct.Errors()
		}
	}

	bm := utils.NewBatchMute(c.cfg.ErrInt, c.cfg.ErrCnt)
	for {
		select {
		case <-c.stopCh:
			return
		case err, ok := <-transportErr:
			if !ok || err == nil {
				return
			}
			bm.Log(c.logger, "transport errors", func(l logrus.FieldLogger) {
				l.WithError(err).Error("transport error")
			})
		}
	}
}

// Stop stops receivers and pipes, saves the templates, then waits for
// goroutines.
func (c *Collector) Stop() {
	if c.stopCh != nil {
		close(c.stopCh)
	}

	for _, recv := range c.receivers {
		if err := recv.Stop(); err != nil {
			c.logger.WithError(err).Error("error stopping receiver")
		}
	}
	for _, pipe := range c.pipes {
		pipe.Close()
	}
	if c.snapshotter != nil {
		if err := c.snapshotter.Close(); err != nil {
			c.logger.WithError(err).Error("error saving templates")
		}
	}
	if closer, ok := c.cfg.TemplateSink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.WithError(err).Error("error closing template state")
		}
	}
	c.wg.Wait()
}

// Templates returns a copy of the stored templates.
func (c *Collector) Templates() []ipfix.TemplateEntry {
	return c.store.Snapshot()
}

// Sources lists the exporters with an open Transport Session.
func (c *Collector) Sources() []ipfix.SourceInfo {
	var sources []ipfix.SourceInfo
	for _, p := range c.pipes {
		sources = append(sources, p.Sources()...)
	}
	return sources
}
