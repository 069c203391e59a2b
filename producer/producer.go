// Package producer turns decoded IPFIX messages into messages for the
// formatters.
package producer

import (
	"net/netip"
	"time"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

// ProducerMessage is handed to a formatter.
type ProducerMessage interface{}

// ProducerInterface converts a decoded *ipfix.Message. The messages returned
// by Produce are given back with Commit once formatted.
type ProducerInterface interface {
	Produce(msg interface{}, args *ProduceArgs) ([]ProducerMessage, error)
	Commit([]ProducerMessage)
	Close()
}

// SourceRemover is implemented by producers keeping state per source. The
// returned messages tell downstream consumers about the removal.
type SourceRemover interface {
	RemoveSource(src ipfix.SourceKey) ([]ProducerMessage, error)
}

type ProduceArgs struct {
	Src netip.AddrPort
	Dst netip.AddrPort

	Source       ipfix.SourceInfo
	TimeReceived time.Time

	// MissingRecords is the number of Data Records lost so far in the
	// Transport Session, from sequence numbers.
	MissingRecords int64
}
