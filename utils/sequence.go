package utils

import (
	"sync"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

// SequenceTracker counts Data Records lost between the messages of a source.
// The IPFIX sequence number of a message is the number of Data Records sent
// before it in the Transport Session, modulo 2^32.
type SequenceTracker struct {
	expected   map[ipfix.SourceKey]uint32
	expectedMu *sync.Mutex

	maxNegativeSequenceDifference int
}

func NewSequenceTracker(maxNegativeSequenceDifference int) *SequenceTracker {
	return &SequenceTracker{
		expected:                      make(map[ipfix.SourceKey]uint32),
		expectedMu:                    &sync.Mutex{},
		maxNegativeSequenceDifference: maxNegativeSequenceDifference,
	}
}

// Track returns how many records are missing before this message, cumulated
// since the source was seen. A negative value is a reordered message. A
// large negative difference is treated as an exporter restart: the counter
// is reset and reset is 1.
func (s *SequenceTracker) Track(key ipfix.SourceKey, seqnum uint32, records int) (missing int64, reset int) {
	s.expectedMu.Lock()
	defer s.expectedMu.Unlock()

	expected, ok := s.expected[key]
	if !ok {
		expected = seqnum
	}
	missing = int64(int32(seqnum - expected))

	if missing <= -int64(s.maxNegativeSequenceDifference) {
		expected = seqnum
		missing = 0
		reset = 1
	}
	s.expected[key] = expected + uint32(records)
	return missing, reset
}

// Remove forgets a source.
func (s *SequenceTracker) Remove(key ipfix.SourceKey) {
	s.expectedMu.Lock()
	delete(s.expected, key)
	s.expectedMu.Unlock()
}
