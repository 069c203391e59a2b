package config

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, "ipfix://:4739", cfg.ListenAddresses)
	assert.Equal(t, "raw", cfg.Produce)
	assert.Equal(t, 30*time.Minute, cfg.TemplateLifetime)
	assert.Equal(t, 30*time.Minute, cfg.OptionsTemplateLifetime)
	assert.Equal(t, 10*time.Minute, cfg.TemplateResend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-produce", "forward"}))

	doc := `
listen:
  - ipfix://:4739
  - ipfix://:4740?count=2
produce: raw
templates:
  lifetime: 10m
  lifepackets: 5
  resend: 5m
  file: /var/lib/ipfixcol/templates.json
err.cnt: 3
`
	require.NoError(t, LoadFile(fs, strings.NewReader(doc)))
	assert.Equal(t, "ipfix://:4739,ipfix://:4740?count=2", cfg.ListenAddresses)
	assert.Equal(t, "forward", cfg.Produce)
	assert.Equal(t, 10*time.Minute, cfg.TemplateLifetime)
	assert.Equal(t, uint(5), cfg.TemplateLifePackets)
	assert.Equal(t, 5*time.Minute, cfg.TemplateResend)
	assert.Equal(t, "/var/lib/ipfixcol/templates.json", cfg.TemplatesFile)
	assert.Equal(t, 3, cfg.ErrCnt)
}

func TestLoadFileErrors(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	BindFlags(fs)
	assert.Error(t, LoadFile(fs, strings.NewReader("unknown: 1")))
	assert.Error(t, LoadFile(fs, strings.NewReader("err:\n  cnt: many")))
	assert.Error(t, LoadFile(fs, strings.NewReader("listen: [")))
	assert.NoError(t, LoadFile(fs, strings.NewReader("")))
}

func TestValidate(t *testing.T) {
	cfg := &Config{TemplatesFile: "a.json", TemplatesState: "memory://"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{MetricsPush: "http://localhost:9091"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{TemplateResend: -time.Second}
	assert.Error(t, cfg.Validate())
}
