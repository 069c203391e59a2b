package utils

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BatchMute throttles events by limiting count per interval.
type BatchMute struct {
	lock          sync.Mutex
	batchTime     time.Time
	resetInterval time.Duration
	ctr           int
	max           int
}

func (b *BatchMute) increment(val int, t time.Time) (muted bool, skipped int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.max == 0 || b.resetInterval == 0 {
		return muted, skipped
	}

	if b.ctr >= b.max {
		skipped = b.ctr - b.max
	}

	if t.Sub(b.batchTime) > b.resetInterval {
		b.ctr = 0
		b.batchTime = t
	}
	b.ctr += val

	return b.max > 0 && b.ctr > b.max, skipped
}

// Increment records a single event and reports whether muting applies.
func (b *BatchMute) Increment() (muting bool, skipped int) {
	return b.increment(1, time.Now().UTC())
}

// Log calls log for the event unless the batch is muted. Entering the muted
// state and leaving it with skipped events are reported on logger.
func (b *BatchMute) Log(logger logrus.FieldLogger, what string, log func(logrus.FieldLogger)) {
	muted, skipped := b.Increment()
	if muted && skipped == 0 {
		logger.Warnf("too many %s, muting", what)
	} else if !muted && skipped > 0 {
		logger.WithField("count", skipped).Warnf("skipped %s", what)
	} else if !muted {
		log(logger)
	}
}

// NewBatchMute creates a BatchMute with a reset interval and max count.
func NewBatchMute(resetInterval time.Duration, max int) *BatchMute {
	return &BatchMute{
		batchTime:     time.Now().UTC(),
		resetInterval: resetInterval,
		max:           max,
	}
}
