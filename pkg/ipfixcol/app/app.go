// Package app wires and runs the collector.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/metrics"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/builder"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/collector"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/config"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/httpserver"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/listen"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/logging"
	"github.com/netsampler/ipfixcol/utils"
	"github.com/netsampler/ipfixcol/utils/debug"
)

// App wires and runs the collector.
type App struct {
	cfg        *config.Config
	logger     *logrus.Logger
	collector  *collector.Collector
	transport  interface{ Close() error }
	producer   interface{ Close() }
	server     *http.Server
	serverErr  chan error
	collecting atomic.Bool

	pushStop chan struct{}
	pushWg   sync.WaitGroup
}

// New constructs a new App from config.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFmt)
	if err != nil {
		return nil, err
	}

	formatter, err := builder.BuildFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}
	transporter, err := builder.BuildTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	flowProducer, err := builder.BuildProducer(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := builder.BuildTemplateSink(cfg)
	if err != nil {
		return nil, err
	}

	flowProducer = debug.WrapPanicProducer(flowProducer)
	flowProducer = metrics.WrapPromProducer(flowProducer)

	listeners, err := listen.ParseListenAddresses(cfg.ListenAddresses)
	if err != nil {
		return nil, err
	}

	coll, err := collector.New(collector.Config{
		Listeners:                  listeners,
		Formatter:                  formatter,
		Transport:                  transporter,
		Producer:                   flowProducer,
		ErrCnt:                     cfg.ErrCnt,
		ErrInt:                     cfg.ErrInt,
		Logger:                     logger,
		TemplateLifetime:           cfg.TemplateLifetime,
		OptionsTemplateLifetime:    cfg.OptionsTemplateLifetime,
		TemplateLifePackets:        uint32(cfg.TemplateLifePackets),
		OptionsTemplateLifePackets: uint32(cfg.OptionsTemplateLifePackets),
		SweepInterval:              cfg.SweepInterval,
		SourceTimeout:              cfg.SourceTimeout,
		TemplateSink:               sink,
		TemplatesFlushInterval:     cfg.TemplatesFlushInterval,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:       cfg,
		logger:    logger,
		collector: coll,
		transport: transporter,
		producer:  flowProducer,
		serverErr: make(chan error, 1),
	}

	if cfg.Addr != "" {
		mux := httpserver.New(httpserver.Config{
			Addr:         cfg.Addr,
			TemplatePath: cfg.TemplatePath,
			SourcesPath:  "/sources",
			Logger:       logger,
		}, coll.Templates, coll.Sources, app.collecting.Load)
		app.server = &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 5,
		}
	}

	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *logrus.Logger {
	return a.logger
}

// Start starts the collector, the HTTP server and the metrics pusher.
func (a *App) Start() error {
	a.logger.Info("starting ipfixcol")

	if err := a.collector.Start(); err != nil {
		return err
	}
	a.collecting.Store(true)

	if a.cfg.MetricsPush != "" {
		a.pushStop = make(chan struct{})
		a.pushWg.Add(1)
		go a.pushMetrics()
	}

	if a.server == nil {
		return nil
	}

	go func() {
		err := a.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
			return
		}
		a.logger.WithField("http", a.cfg.Addr).Info("closed HTTP server")
	}()

	return nil
}

func (a *App) pushMetrics() {
	defer a.pushWg.Done()
	logger := a.logger.WithField("pushgateway", a.cfg.MetricsPush)
	bm := utils.NewBatchMute(a.cfg.ErrInt, a.cfg.ErrCnt)
	ticker := time.NewTicker(a.cfg.MetricsPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.pushStop:
			if err := metrics.PushAll(a.cfg.MetricsPush); err != nil {
				logger.WithError(err).Error("error pushing metrics")
			}
			return
		case <-ticker.C:
			if err := metrics.PushAll(a.cfg.MetricsPush); err != nil {
				bm.Log(logger, "push errors", func(l logrus.FieldLogger) {
					l.WithError(err).Error("error pushing metrics")
				})
			}
		}
	}
}

// Run starts the app and blocks until context cancellation or server error.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-a.Wait():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	a.Shutdown(shutdownCtx)
	cancel()
	return err
}

// Wait returns a channel that receives HTTP server errors.
func (a *App) Wait() <-chan error {
	return a.serverErr
}

// Shutdown stops receivers, closes transports, and shuts down the HTTP server.
func (a *App) Shutdown(ctx context.Context) {
	a.collecting.Store(false)

	a.collector.Stop()
	a.producer.Close()
	if err := a.transport.Close(); err != nil {
		a.logger.WithError(err).Error("error closing transport")
	}
	a.logger.Info("transporter closed")

	if a.pushStop != nil {
		close(a.pushStop)
		a.pushWg.Wait()
	}

	if a.server == nil {
		return
	}
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Error("error shutting-down HTTP server")
	}
}
