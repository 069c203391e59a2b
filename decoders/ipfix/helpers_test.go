package ipfix

import (
	"encoding/binary"
)

type fieldSpec struct {
	en     uint32
	id     uint16
	length uint16
}

func appendFields(b []byte, fields []fieldSpec) []byte {
	for _, f := range fields {
		id := f.id
		if f.en != 0 {
			id |= EnterpriseBit
		}
		b = binary.BigEndian.AppendUint16(b, id)
		b = binary.BigEndian.AppendUint16(b, f.length)
		if f.en != 0 {
			b = binary.BigEndian.AppendUint32(b, f.en)
		}
	}
	return b
}

func templateRecord(id uint16, fields ...fieldSpec) []byte {
	b := binary.BigEndian.AppendUint16(nil, id)
	b = binary.BigEndian.AppendUint16(b, uint16(len(fields)))
	return appendFields(b, fields)
}

func optionsTemplateRecord(id uint16, scope uint16, fields ...fieldSpec) []byte {
	b := binary.BigEndian.AppendUint16(nil, id)
	b = binary.BigEndian.AppendUint16(b, uint16(len(fields)))
	b = binary.BigEndian.AppendUint16(b, scope)
	return appendFields(b, fields)
}

func withdrawalRecord(id uint16) []byte {
	return []byte{byte(id >> 8), byte(id), 0, 0}
}

func makeSet(id uint16, records ...[]byte) []byte {
	b := binary.BigEndian.AppendUint16(nil, id)
	b = binary.BigEndian.AppendUint16(b, 0)
	for _, r := range records {
		b = append(b, r...)
	}
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)))
	return b
}

func makeMessage(odid uint32, seq uint32, sets ...[]byte) []byte {
	b := binary.BigEndian.AppendUint16(nil, Version)
	b = binary.BigEndian.AppendUint16(b, 0)
	b = binary.BigEndian.AppendUint32(b, 1700000000)
	b = binary.BigEndian.AppendUint32(b, seq)
	b = binary.BigEndian.AppendUint32(b, odid)
	for _, s := range sets {
		b = append(b, s...)
	}
	binary.BigEndian.PutUint16(b[2:], uint16(len(b)))
	return b
}

// flowTemplate is a 16-octet record: sourceIPv4Address, destinationIPv4Address, octetDeltaCount.
var flowTemplate = []fieldSpec{{0, 8, 4}, {0, 12, 4}, {0, 1, 8}}

var tcpSource = SourceInfo{Type: SourceTCP, Status: StatusOpened, Fingerprint: 0xaabbccdd}

var udpSource = SourceInfo{Type: SourceUDP, Status: StatusOpened, Fingerprint: 0x11223344}
