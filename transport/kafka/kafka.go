// Package kafka produces formatted messages to a Kafka topic.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	sarama "github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/transport"
)

type KafkaDriver struct {
	kafkaTLS            bool
	kafkaSASL           string
	kafkaTopic          string
	kafkaSrv            string
	kafkaBrk            string
	kafkaMaxMsgBytes    int
	kafkaFlushBytes     int
	kafkaFlushFrequency time.Duration

	kafkaLogErrors bool

	kafkaHashing          bool
	kafkaVersion          string
	kafkaCompressionCodec string

	logger   logrus.FieldLogger
	producer sarama.AsyncProducer

	q    chan bool
	done chan bool
}

type KafkaSASLAlgorithm string

const (
	KAFKA_SASL_NONE         KafkaSASLAlgorithm = "none"
	KAFKA_SASL_PLAIN        KafkaSASLAlgorithm = "plain"
	KAFKA_SASL_SCRAM_SHA256 KafkaSASLAlgorithm = "scram-sha256"
	KAFKA_SASL_SCRAM_SHA512 KafkaSASLAlgorithm = "scram-sha512"
)

var (
	compressionCodecs = map[string]sarama.CompressionCodec{
		strings.ToLower(sarama.CompressionNone.String()):   sarama.CompressionNone,
		strings.ToLower(sarama.CompressionGZIP.String()):   sarama.CompressionGZIP,
		strings.ToLower(sarama.CompressionSnappy.String()): sarama.CompressionSnappy,
		strings.ToLower(sarama.CompressionLZ4.String()):    sarama.CompressionLZ4,
		strings.ToLower(sarama.CompressionZSTD.String()):   sarama.CompressionZSTD,
	}

	saslAlgorithmsList = []string{
		string(KAFKA_SASL_NONE),
		string(KAFKA_SASL_PLAIN),
		string(KAFKA_SASL_SCRAM_SHA256),
		string(KAFKA_SASL_SCRAM_SHA512),
	}

	ErrSASLConfig = errors.New("KAFKA_SASL_USER and KAFKA_SASL_PASS need to be set")
)

func (d *KafkaDriver) Prepare() error {
	flag.BoolVar(&d.kafkaTLS, "transport.kafka.tls", false, "Use TLS to connect to Kafka")
	flag.StringVar(&d.kafkaSASL, "transport.kafka.sasl", "none",
		fmt.Sprintf(
			"Use SASL to connect to Kafka, available settings: %s (TLS is recommended and the environment variables KAFKA_SASL_USER and KAFKA_SASL_PASS need to be set)",
			strings.Join(saslAlgorithmsList, ", ")))

	flag.StringVar(&d.kafkaTopic, "transport.kafka.topic", "ipfix-messages", "Kafka topic to produce to")
	flag.StringVar(&d.kafkaSrv, "transport.kafka.srv", "", "SRV record containing a list of Kafka brokers (or use brokers)")
	flag.StringVar(&d.kafkaBrk, "transport.kafka.brokers", "127.0.0.1:9092,[::1]:9092", "Kafka brokers list separated by commas")
	flag.IntVar(&d.kafkaMaxMsgBytes, "transport.kafka.maxmsgbytes", 1000000, "Kafka max message bytes")
	flag.IntVar(&d.kafkaFlushBytes, "transport.kafka.flushbytes", int(sarama.MaxRequestSize), "Kafka flush bytes")
	flag.DurationVar(&d.kafkaFlushFrequency, "transport.kafka.flushfreq", time.Second*5, "Kafka flush frequency")

	flag.BoolVar(&d.kafkaLogErrors, "transport.kafka.log.err", false, "Log Kafka errors")
	flag.BoolVar(&d.kafkaHashing, "transport.kafka.hashing", false, "Partition on the message key, keeping an exporter's messages in order")

	flag.StringVar(&d.kafkaVersion, "transport.kafka.version", "2.8.0", "Kafka version")
	flag.StringVar(&d.kafkaCompressionCodec, "transport.kafka.compression", "", "Kafka default compression")
	return nil
}

func (d *KafkaDriver) saslConfig(kafkaConfig *sarama.Config) error {
	kafkaSASL := KafkaSASLAlgorithm(strings.ToLower(d.kafkaSASL))
	switch kafkaSASL {
	case "", KAFKA_SASL_NONE:
		return nil
	case KAFKA_SASL_PLAIN, KAFKA_SASL_SCRAM_SHA256, KAFKA_SASL_SCRAM_SHA512:
	default:
		return fmt.Errorf("SASL algorithm %q does not exist", d.kafkaSASL)
	}

	kafkaConfig.Net.SASL.Enable = true
	kafkaConfig.Net.SASL.User = os.Getenv("KAFKA_SASL_USER")
	kafkaConfig.Net.SASL.Password = os.Getenv("KAFKA_SASL_PASS")
	if kafkaConfig.Net.SASL.User == "" && kafkaConfig.Net.SASL.Password == "" {
		return ErrSASLConfig
	}

	switch kafkaSASL {
	case KAFKA_SASL_SCRAM_SHA512:
		kafkaConfig.Net.SASL.Handshake = true
		kafkaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
		}
		kafkaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
	case KAFKA_SASL_SCRAM_SHA256:
		kafkaConfig.Net.SASL.Handshake = true
		kafkaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
		}
		kafkaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
	}
	return nil
}

// saramaConfig builds the producer configuration from the flags.
func (d *KafkaDriver) saramaConfig() (*sarama.Config, error) {
	kafkaConfigVersion, err := sarama.ParseKafkaVersion(d.kafkaVersion)
	if err != nil {
		return nil, err
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = kafkaConfigVersion
	kafkaConfig.Producer.Return.Successes = false
	kafkaConfig.Producer.Return.Errors = d.kafkaLogErrors
	kafkaConfig.Producer.MaxMessageBytes = d.kafkaMaxMsgBytes
	kafkaConfig.Producer.Flush.Bytes = d.kafkaFlushBytes
	kafkaConfig.Producer.Flush.Frequency = d.kafkaFlushFrequency

	if d.kafkaCompressionCodec != "" {
		cc, ok := compressionCodecs[strings.ToLower(d.kafkaCompressionCodec)]
		if !ok {
			return nil, fmt.Errorf("compression codec %q does not exist", d.kafkaCompressionCodec)
		}
		kafkaConfig.Producer.Compression = cc
	}

	if d.kafkaTLS {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("error initializing TLS: %w", err)
		}
		kafkaConfig.Net.TLS.Enable = true
		kafkaConfig.Net.TLS.Config = &tls.Config{RootCAs: rootCAs}
	}

	if d.kafkaHashing {
		kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	}

	if err := d.saslConfig(kafkaConfig); err != nil {
		return nil, err
	}
	return kafkaConfig, kafkaConfig.Validate()
}

func (d *KafkaDriver) brokers() ([]string, error) {
	if d.kafkaSrv != "" {
		return GetServiceAddresses(d.kafkaSrv)
	}
	return strings.Split(d.kafkaBrk, ","), nil
}

func (d *KafkaDriver) Init() error {
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}
	kafkaConfig, err := d.saramaConfig()
	if err != nil {
		return err
	}
	addrs, err := d.brokers()
	if err != nil {
		return err
	}

	kafkaProducer, err := sarama.NewAsyncProducer(addrs, kafkaConfig)
	if err != nil {
		return err
	}
	d.producer = kafkaProducer
	d.q = make(chan bool)
	d.done = make(chan bool)

	go func() {
		defer close(d.done)
		if !d.kafkaLogErrors {
			<-d.q
			return
		}
		for {
			select {
			case msg, ok := <-kafkaProducer.Errors():
				if !ok {
					return
				}
				d.logger.WithError(msg.Err).WithField("topic", msg.Msg.Topic).Error("kafka error")
			case <-d.q:
				return
			}
		}
	}()
	return nil
}

func (d *KafkaDriver) Send(key, data []byte) error {
	d.producer.Input() <- &sarama.ProducerMessage{
		Topic: d.kafkaTopic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

func (d *KafkaDriver) Close() error {
	close(d.q)
	<-d.done
	return d.producer.Close()
}

// GetServiceAddresses resolves an SRV record into broker addresses.
func GetServiceAddresses(srv string) (addrs []string, err error) {
	_, srvs, err := net.LookupSRV("", "", srv)
	if err != nil {
		return nil, fmt.Errorf("service discovery: %w", err)
	}
	for _, srv := range srvs {
		addrs = append(addrs, net.JoinHostPort(srv.Target, strconv.Itoa(int(srv.Port))))
	}
	return addrs, nil
}

func init() {
	d := &KafkaDriver{}
	transport.RegisterTransportDriver("kafka", d)
}
