// Package udp sends each formatted message as one datagram.
package udp

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/netsampler/ipfixcol/transport"
)

// UdpDriver spreads messages over several sockets, one source port each,
// for receivers balancing on the source port.
type UdpDriver struct {
	udpDestination string
	udpPort        int
	udpSource      string
	udpSourcePort  int
	mtu            int
	nbrSocks       int

	lock         *sync.Mutex
	udpStreamers []*net.UDPConn
	currentSock  int
}

func (d *UdpDriver) Prepare() error {
	flag.StringVar(&d.udpDestination, "transport.udp.dst", "", "UDP remote IP destination")
	flag.IntVar(&d.udpPort, "transport.udp.port", 4739, "UDP remote port")
	flag.StringVar(&d.udpSource, "transport.udp.src", "", "UDP local source IP address to use")
	flag.IntVar(&d.udpSourcePort, "transport.udp.srcport", 0, "First UDP local source port, following sockets use the next ports (0 for random)")
	flag.IntVar(&d.mtu, "transport.udp.mtu", 1500, "Messages larger than the MTU minus IP/UDP headers are rejected")
	flag.IntVar(&d.nbrSocks, "transport.udp.num_socket", 1, "Number of sockets used in turn")
	return nil
}

func (d *UdpDriver) Init() error {
	if d.udpDestination == "" {
		return fmt.Errorf("transport.udp.dst is required")
	}
	if d.nbrSocks < 1 {
		d.nbrSocks = 1
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.udpDestination, strconv.Itoa(d.udpPort)))
	if err != nil {
		return err
	}

	d.udpStreamers = make([]*net.UDPConn, 0, d.nbrSocks)
	for i := 0; i < d.nbrSocks; i++ {
		port := 0
		if d.udpSourcePort > 0 {
			port = d.udpSourcePort + i
		}
		localAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.udpSource, strconv.Itoa(port)))
		if err != nil {
			d.Close()
			return err
		}
		conn, err := net.DialUDP("udp", localAddr, remoteAddr)
		if err != nil {
			d.Close()
			return err
		}
		d.udpStreamers = append(d.udpStreamers, conn)
	}
	return nil
}

// maxPayload is the MTU without the IPv4 and UDP headers.
func (d *UdpDriver) maxPayload() int {
	return d.mtu - 28
}

func (d *UdpDriver) Send(key, data []byte) error {
	if d.mtu > 0 && len(data) > d.maxPayload() {
		return fmt.Errorf("message of %d bytes exceeds mtu", len(data))
	}
	d.lock.Lock()
	conn := d.udpStreamers[d.currentSock]
	d.currentSock = (d.currentSock + 1) % len(d.udpStreamers)
	d.lock.Unlock()

	_, err := conn.Write(data)
	return err
}

func (d *UdpDriver) Close() error {
	var err error
	for _, conn := range d.udpStreamers {
		if cErr := conn.Close(); cErr != nil {
			err = cErr
		}
	}
	d.udpStreamers = nil
	return err
}

func init() {
	d := &UdpDriver{
		lock: &sync.Mutex{},
	}
	transport.RegisterTransportDriver("udp", d)
}
