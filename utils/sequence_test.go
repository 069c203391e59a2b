package utils

import (
	"testing"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/stretchr/testify/assert"
)

func TestSequenceTracker_Track(t *testing.T) {
	key := ipfix.SourceKey{ODID: 1, Fingerprint: 2}
	tests := []struct {
		name             string
		saved            map[ipfix.SourceKey]uint32
		seqnum           uint32
		records          int
		expectedMissing  int64
		expectedSeqReset int
		expectedSaved    map[ipfix.SourceKey]uint32
	}{
		{
			name:            "first message",
			saved:           map[ipfix.SourceKey]uint32{},
			seqnum:          100,
			records:         100,
			expectedMissing: 0,
			expectedSaved:   map[ipfix.SourceKey]uint32{key: 200},
		},
		{
			name:            "no missing records",
			saved:           map[ipfix.SourceKey]uint32{key: 200},
			seqnum:          200,
			records:         100,
			expectedMissing: 0,
			expectedSaved:   map[ipfix.SourceKey]uint32{key: 300},
		},
		{
			name:            "missing records",
			saved:           map[ipfix.SourceKey]uint32{key: 130},
			seqnum:          200,
			records:         30,
			expectedMissing: 70,
			expectedSaved:   map[ipfix.SourceKey]uint32{key: 160},
		},
		{
			name: "reordered message",
			// a slightly lower sequence number arriving after a higher one
			saved:           map[ipfix.SourceKey]uint32{key: 1010},
			seqnum:          950,
			records:         10,
			expectedMissing: -60,
			expectedSaved:   map[ipfix.SourceKey]uint32{key: 1020},
		},
		{
			name:             "sequence number reset",
			saved:            map[ipfix.SourceKey]uint32{key: 9000},
			seqnum:           2000,
			records:          100,
			expectedMissing:  0,
			expectedSeqReset: 1,
			expectedSaved:    map[ipfix.SourceKey]uint32{key: 2100},
		},
		{
			name:            "wraparound",
			saved:           map[ipfix.SourceKey]uint32{key: 0xfffffff0},
			seqnum:          0x10,
			records:         4,
			expectedMissing: 0x20,
			expectedSaved:   map[ipfix.SourceKey]uint32{key: 0xfffffff4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSequenceTracker(1000)
			s.expected = tt.saved
			missing, reset := s.Track(key, tt.seqnum, tt.records)
			assert.Equal(t, tt.expectedMissing, missing)
			assert.Equal(t, tt.expectedSeqReset, reset)
			assert.Equal(t, tt.expectedSaved, s.expected)
		})
	}
}

func TestSequenceTracker_unorderedMessages(t *testing.T) {
	tracker := NewSequenceTracker(1000)
	key := ipfix.SourceKey{ODID: 1, Fingerprint: 2}

	// M1: seq=10, records=10
	//                         M2 (seq=20) lost
	// M3: seq=30, records=10
	// M5: seq=50, records=10  received before M4
	// M4: seq=40, records=10
	// M6: seq=60, records=10
	missing, reset := tracker.Track(key, 10, 10)
	assert.Equal(t, int64(0), missing)
	assert.Equal(t, 0, reset)

	missing, _ = tracker.Track(key, 30, 10)
	assert.Equal(t, int64(10), missing)

	missing, _ = tracker.Track(key, 50, 10)
	assert.Equal(t, int64(20), missing)

	missing, _ = tracker.Track(key, 40, 10)
	assert.Equal(t, int64(0), missing)

	missing, _ = tracker.Track(key, 60, 10)
	assert.Equal(t, int64(10), missing)

	tracker.Remove(key)
	missing, _ = tracker.Track(key, 500, 10)
	assert.Equal(t, int64(0), missing)
}
