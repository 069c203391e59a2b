// Package nats publishes formatted messages to a NATS JetStream subject.
package nats

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/transport"
)

const keyHeader = "Ipfix-Key"

type Driver struct {
	natsURL     string
	subject     string
	stream      string
	timeout     time.Duration
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string
	tlsInsecure bool

	logger logrus.FieldLogger
	nc     *nats.Conn
	js     jetstream.JetStream
}

func (d *Driver) Prepare() error {
	flag.StringVar(&d.natsURL, "transport.nats.url", "nats://localhost:4222", "NATS server URL")
	flag.StringVar(&d.stream, "transport.nats.stream", "ipfixcol", "NATS JetStream stream name")
	flag.StringVar(&d.subject, "transport.nats.subject", "ipfixcol.messages", "NATS subject for publishing messages")
	flag.DurationVar(&d.timeout, "transport.nats.timeout", 5*time.Second, "NATS request timeout")
	flag.StringVar(&d.tlsCertFile, "transport.nats.tls.cert", "", "NATS client certificate file")
	flag.StringVar(&d.tlsKeyFile, "transport.nats.tls.key", "", "NATS client key file")
	flag.StringVar(&d.tlsCAFile, "transport.nats.tls.ca", "", "NATS CA certificate file")
	flag.BoolVar(&d.tlsInsecure, "transport.nats.tls.insecure", false, "Skip TLS verification for NATS")
	return nil
}

// options builds the connection options from the flags.
func (d *Driver) options() ([]nats.Option, error) {
	if (d.tlsCertFile == "") != (d.tlsKeyFile == "") {
		return nil, &TransportError{Err: fmt.Errorf("tls.cert and tls.key must be set together")}
	}
	opts := []nats.Option{
		nats.Name("ipfixcol"),
		nats.Timeout(d.timeout),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			d.logger.WithError(err).Error("nats error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			d.logger.WithField("url", nc.ConnectedUrl()).Info("connected to nats")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			d.logger.WithError(err).Warn("disconnected from nats")
		}),
	}
	if d.tlsCertFile != "" {
		opts = append(opts, nats.ClientCert(d.tlsCertFile, d.tlsKeyFile))
	}
	if d.tlsCAFile != "" {
		opts = append(opts, nats.RootCAs(d.tlsCAFile))
	}
	if d.tlsInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts, nil
}

func (d *Driver) Init() error {
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}
	opts, err := d.options()
	if err != nil {
		return err
	}
	nc, err := nats.Connect(d.natsURL, opts...)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("failed to connect to NATS: %w", err)}
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return &TransportError{Err: fmt.Errorf("failed to create JetStream context: %w", err)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.ensureStream(ctx, js); err != nil {
		nc.Close()
		return &TransportError{Err: err}
	}
	d.nc = nc
	d.js = js
	return nil
}

// ensureStream creates the stream or adds the subject to an existing one.
func (d *Driver) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	stream, err := js.Stream(ctx, d.stream)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     d.stream,
			Subjects: []string{d.subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		d.logger.WithFields(logrus.Fields{"stream": d.stream, "subject": d.subject}).Info("created stream")
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if containsSubject(info.Config.Subjects, d.subject) {
		return nil
	}
	info.Config.Subjects = append(info.Config.Subjects, d.subject)
	if _, err = js.UpdateStream(ctx, info.Config); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	d.logger.WithFields(logrus.Fields{"stream": d.stream, "subject": d.subject}).Info("added subject to stream")
	return nil
}

// Send publishes synchronously; the message key travels as a header.
func (d *Driver) Send(key, data []byte) error {
	if d.js == nil {
		return &TransportError{Err: fmt.Errorf("NATS driver not initialized")}
	}
	msg := nats.NewMsg(d.subject)
	msg.Data = data
	if len(key) > 0 {
		msg.Header.Set(keyHeader, hex.EncodeToString(key))
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if _, err := d.js.PublishMsg(ctx, msg); err != nil {
		return &TransportError{Err: fmt.Errorf("failed to publish message: %w", err)}
	}
	return nil
}

func (d *Driver) Close() error {
	if d.nc == nil {
		return nil
	}
	if err := d.nc.Drain(); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func containsSubject(subjects []string, subject string) bool {
	for _, s := range subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func init() {
	d := &Driver{}
	transport.RegisterTransportDriver("nats", d)
}
