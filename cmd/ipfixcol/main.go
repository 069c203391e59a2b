package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	// various formatters
	_ "github.com/netsampler/ipfixcol/format/binary"
	_ "github.com/netsampler/ipfixcol/format/json"
	_ "github.com/netsampler/ipfixcol/format/protobuf"
	_ "github.com/netsampler/ipfixcol/format/text"

	// various transports
	_ "github.com/netsampler/ipfixcol/transport/file"
	_ "github.com/netsampler/ipfixcol/transport/kafka"
	_ "github.com/netsampler/ipfixcol/transport/nats"
	_ "github.com/netsampler/ipfixcol/transport/udp"

	"github.com/netsampler/ipfixcol/pkg/ipfixcol/app"
	"github.com/netsampler/ipfixcol/pkg/ipfixcol/config"
)

var (
	version    = ""
	buildinfos = ""
	AppVersion = "ipfixcol " + version + " " + buildinfos

	Version = flag.Bool("v", false, "Print version")
)

func loadConfigFile(fs *flag.FlagSet, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return config.LoadFile(fs, f)
}

func main() {
	cfg := config.BindFlags(flag.CommandLine)
	flag.Parse()

	if *Version {
		fmt.Println(AppVersion)
		os.Exit(0)
	}

	if cfg.ConfigFile != "" {
		if err := loadConfigFile(flag.CommandLine, cfg.ConfigFile); err != nil {
			log.WithError(err).WithField("config", cfg.ConfigFile).Fatal("error loading configuration")
		}
	}

	a, err := app.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("error starting")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		a.Logger().WithError(err).Fatal("fatal error")
	}
	a.Logger().Info("stopped")
}
