package utils

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	reuseport "github.com/libp2p/go-reuseport"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

// DecoderFunc processes one received Message.
type DecoderFunc func(msg interface{}) error

// ReceiverCallback is notified of packets dropped before decoding.
type ReceiverCallback interface {
	Dropped(msg Message)
}

// Message is a datagram as handed to the decoders.
type Message struct {
	Src      netip.AddrPort
	Dst      netip.AddrPort
	Payload  []byte
	Received time.Time
}

type udpPacket struct {
	src      *net.UDPAddr
	dst      *net.UDPAddr
	size     int
	payload  []byte
	received time.Time
}

var packetPool = sync.Pool{
	New: func() any {
		return &udpPacket{
			payload: make([]byte, ipfix.MaxMessageLength),
		}
	},
}

func (pkt *udpPacket) message() Message {
	return Message{
		Src:      pkt.src.AddrPort(),
		Dst:      pkt.dst.AddrPort(),
		Payload:  pkt.payload[0:pkt.size],
		Received: pkt.received,
	}
}

var (
	ErrNotStarted = errors.New("receiver is not started")
)

// UDPReceiver reads datagrams on several SO_REUSEPORT sockets and hands
// them to a pool of workers.
type UDPReceiver struct {
	q        chan bool
	wg       *sync.WaitGroup
	dispatch chan *udpPacket
	errCh    chan error

	decodeFunc DecoderFunc

	sockets  int
	workers  int
	blocking bool

	cb ReceiverCallback
}

type UDPReceiverConfig struct {
	Sockets   int
	Workers   int
	QueueSize int
	Blocking  bool

	ReceiverCallback ReceiverCallback
}

func NewUDPReceiver(cfg *UDPReceiverConfig) (*UDPReceiver, error) {
	r := &UDPReceiver{
		wg:      &sync.WaitGroup{},
		sockets: 2,
		workers: 2,
		errCh:   make(chan error),
	}

	dispatchSize := 1000000
	if cfg != nil {
		if cfg.Sockets <= 0 {
			cfg.Sockets = 1
		}
		if cfg.Workers <= 0 {
			cfg.Workers = cfg.Sockets
		}
		r.sockets = cfg.Sockets
		r.workers = cfg.Workers
		dispatchSize = cfg.QueueSize
		r.blocking = cfg.Blocking
		r.cb = cfg.ReceiverCallback
	}
	if dispatchSize < 0 {
		return nil, fmt.Errorf("invalid queue size %d", dispatchSize)
	}

	if dispatchSize == 0 {
		r.dispatch = make(chan *udpPacket)
	} else {
		r.dispatch = make(chan *udpPacket, dispatchSize)
	}
	return r, nil
}

// Errors returns the channel on which receiving and decoding errors are
// reported. It must be drained while the receiver runs.
func (r *UDPReceiver) Errors() <-chan error {
	return r.errCh
}

func (r *UDPReceiver) logError(err error) {
	select {
	case r.errCh <- err:
	default:
	}
}

func (r *UDPReceiver) receive(addr string, port int, started chan error) error {
	pconn, err := reuseport.ListenPacket("udp", net.JoinHostPort(addr, fmt.Sprint(port)))
	started <- err
	if err != nil {
		return err
	}

	q := make(chan bool)
	// closes the socket on general stop
	go func() {
		select {
		case <-q:
		case <-r.q:
		}
		pconn.Close()
	}()
	defer close(q)

	udpconn, ok := pconn.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("not a UDP connection: %T", pconn)
	}
	localAddr, _ := udpconn.LocalAddr().(*net.UDPAddr)

	for {
		pkt := packetPool.Get().(*udpPacket)
		pkt.size, pkt.src, err = udpconn.ReadFromUDP(pkt.payload)
		if err != nil {
			packetPool.Put(pkt)
			return err
		}
		pkt.dst = localAddr
		pkt.received = time.Now().UTC()
		if pkt.size == 0 {
			packetPool.Put(pkt)
			continue
		}

		if r.blocking {
			select {
			case r.dispatch <- pkt:
			case <-r.q:
				packetPool.Put(pkt)
				return nil
			}
		} else {
			select {
			case r.dispatch <- pkt:
			case <-r.q:
				packetPool.Put(pkt)
				return nil
			default:
				if r.cb != nil {
					r.cb.Dropped(pkt.message())
				}
				packetPool.Put(pkt)
			}
		}
	}
}

func (r *UDPReceiver) decoders(workers int, decodeFunc DecoderFunc) {
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-r.q:
					return
				case pkt := <-r.dispatch:
					if pkt == nil {
						return
					}
					if decodeFunc != nil {
						msg := pkt.message()
						if err := decodeFunc(&msg); err != nil {
							r.logError(err)
						}
					}
					packetPool.Put(pkt)
				}
			}
		}()
	}
}

func (r *UDPReceiver) receivers(sockets int, addr string, port int) error {
	for i := 0; i < sockets; i++ {
		started := make(chan error)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.receive(addr, port, started); err != nil && !errors.Is(err, net.ErrClosed) {
				r.logError(fmt.Errorf("receiver: %w", err))
			}
		}()
		if err := <-started; err != nil {
			return err
		}
	}
	return nil
}

// Start opens the sockets and the workers. decodeFunc is called with a
// *Message whose payload is only valid during the call.
func (r *UDPReceiver) Start(addr string, port int, decodeFunc DecoderFunc) error {
	if r.q != nil {
		return ErrAlreadyStarted
	}
	r.q = make(chan bool)
	r.decodeFunc = decodeFunc

	r.decoders(r.workers, decodeFunc)
	if err := r.receivers(r.sockets, addr, port); err != nil {
		r.Stop()
		return err
	}
	return nil
}

// Stop closes the sockets and waits for the workers to exit.
func (r *UDPReceiver) Stop() error {
	if r.q == nil {
		return ErrNotStarted
	}
	select {
	case <-r.q:
	default:
		close(r.q)
	}
	r.wg.Wait()
	r.q = nil
	return nil
}
