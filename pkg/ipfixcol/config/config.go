// Package config declares the collector flags.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/netsampler/ipfixcol/format"
	"github.com/netsampler/ipfixcol/transport"
)

// Config holds configuration for the collector.
type Config struct {
	ListenAddresses string

	LogLevel string
	LogFmt   string

	Produce     string
	SkipOptions bool
	Format      string
	Transport   string

	ErrCnt int
	ErrInt time.Duration

	Addr         string
	TemplatePath string

	TemplateLifetime           time.Duration
	OptionsTemplateLifetime    time.Duration
	TemplateLifePackets        uint
	OptionsTemplateLifePackets uint
	SweepInterval              time.Duration
	SourceTimeout              time.Duration
	TemplateResend             time.Duration

	TemplatesFile          string
	TemplatesState         string
	TemplatesFlushInterval time.Duration

	MetricsPush         string
	MetricsPushInterval time.Duration

	ConfigFile string
}

// BindFlags registers configuration flags and returns a Config.
func BindFlags(fs *flag.FlagSet) *Config {
	cfg := &Config{}

	fs.StringVar(&cfg.ListenAddresses, "listen", "ipfix://:4739", "listen addresses")
	fs.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level")
	fs.StringVar(&cfg.LogFmt, "logfmt", "normal", "Log formatter (normal or json)")
	fs.StringVar(&cfg.Produce, "produce", "raw", "Producer method (raw or forward)")
	fs.BoolVar(&cfg.SkipOptions, "produce.skipoptions", false, "Do not emit records of Options Templates (raw producer)")
	fs.StringVar(&cfg.Format, "format", "json", fmt.Sprintf("Choose the format (available: %s)", strings.Join(format.GetFormats(), ", ")))
	fs.StringVar(&cfg.Transport, "transport", "file", fmt.Sprintf("Choose the transport (available: %s)", strings.Join(transport.GetTransports(), ", ")))
	fs.IntVar(&cfg.ErrCnt, "err.cnt", 10, "Maximum errors per batch for muting")
	fs.DurationVar(&cfg.ErrInt, "err.int", time.Second*10, "Maximum errors interval for muting")
	fs.StringVar(&cfg.Addr, "addr", ":8080", "HTTP server address")
	fs.StringVar(&cfg.TemplatePath, "templates.path", "/templates", "IPFIX templates list")

	fs.DurationVar(&cfg.TemplateLifetime, "templates.lifetime", time.Minute*30, "Lifetime of templates received over UDP (0 to disable)")
	fs.DurationVar(&cfg.OptionsTemplateLifetime, "templates.options.lifetime", time.Minute*30, "Lifetime of options templates received over UDP (0 to disable)")
	fs.UintVar(&cfg.TemplateLifePackets, "templates.lifepackets", 0, "Lifetime of UDP templates in messages of the exporter (0 to disable)")
	fs.UintVar(&cfg.OptionsTemplateLifePackets, "templates.options.lifepackets", 0, "Lifetime of UDP options templates in messages of the exporter (0 to disable)")
	fs.DurationVar(&cfg.SweepInterval, "templates.sweep", time.Minute, "Interval between expiry passes")
	fs.DurationVar(&cfg.TemplateResend, "templates.resend", time.Minute*10, "Interval between re-sends of forwarded templates (0 to disable)")
	fs.DurationVar(&cfg.SourceTimeout, "source.timeout", time.Hour, "Close the session of a silent UDP exporter (0 to disable)")

	fs.StringVar(&cfg.TemplatesFile, "templates.file", "", "Keep templates in a JSON file across restarts")
	fs.StringVar(&cfg.TemplatesState, "templates.state", "", "Keep templates in a state backend (memory://, badger:///path, redis://host/0?key=...)")
	fs.DurationVar(&cfg.TemplatesFlushInterval, "templates.flush", time.Second*10, "Delay before saving changed templates (0 saves on every change)")

	fs.StringVar(&cfg.MetricsPush, "metrics.push", "", "Prometheus Pushgateway URL")
	fs.DurationVar(&cfg.MetricsPushInterval, "metrics.push.interval", time.Second*30, "Interval between pushes")

	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML file with flag values")

	return cfg
}

// Validate checks values flags cannot express.
func (c *Config) Validate() error {
	if c.TemplatesFile != "" && c.TemplatesState != "" {
		return fmt.Errorf("templates.file and templates.state are exclusive")
	}
	if c.TemplateLifePackets > 0xffffffff || c.OptionsTemplateLifePackets > 0xffffffff {
		return fmt.Errorf("template life packets out of range")
	}
	if c.TemplateResend < 0 {
		return fmt.Errorf("templates.resend must not be negative")
	}
	if c.MetricsPush != "" && c.MetricsPushInterval <= 0 {
		return fmt.Errorf("metrics.push.interval must be positive")
	}
	return nil
}
