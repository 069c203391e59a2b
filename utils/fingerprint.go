package utils

import (
	"encoding/binary"
	"net/netip"

	"github.com/cespare/xxhash/v2"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

// SourceFingerprint identifies a Transport Session from the transport and
// the exporter address and port. IPv4-mapped addresses hash like IPv4.
func SourceFingerprint(typ ipfix.SourceType, addr netip.AddrPort) uint32 {
	var buf [19]byte
	buf[0] = byte(typ)
	ip := addr.Addr().Unmap().As16()
	copy(buf[1:17], ip[:])
	binary.BigEndian.PutUint16(buf[17:], addr.Port())
	h := xxhash.Sum64(buf[:])
	return uint32(h>>32) ^ uint32(h)
}
