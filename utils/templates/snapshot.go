package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

const (
	defaultFlushInterval = 10 * time.Second
	snapshotVersion      = 1
)

// Sink stores template snapshots.
type Sink interface {
	Load() ([]ipfix.TemplateEntry, error)
	Save(entries []ipfix.TemplateEntry) error
}

// SnapshotStore is a template store that can be copied out and refilled.
type SnapshotStore interface {
	Snapshot() []ipfix.TemplateEntry
	Restore(entries []ipfix.TemplateEntry) (int, error)
}

type snapshotFile struct {
	Version   int                   `json:"version"`
	Templates []ipfix.TemplateEntry `json:"templates"`
}

// FileSink keeps snapshots in a JSON file.
type FileSink struct {
	writer AtomicWriter
}

func NewFileSink(path string) *FileSink {
	return &FileSink{writer: NewAtomicFileWriter(path)}
}

func (s *FileSink) Load() ([]ipfix.TemplateEntry, error) {
	data, err := s.writer.Read()
	if errors.Is(err, io.EOF) || len(data) == 0 {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", f.Version)
	}
	return f.Templates, nil
}

func (s *FileSink) Save(entries []ipfix.TemplateEntry) error {
	if entries == nil {
		entries = []ipfix.TemplateEntry{}
	}
	data, err := json.Marshal(snapshotFile{Version: snapshotVersion, Templates: entries})
	if err != nil {
		return err
	}
	return s.writer.WriteAtomic(data)
}

type SnapshotterOption func(*Snapshotter)

// WithFlushInterval sets how long changes settle before a flush. Zero
// flushes on every change.
func WithFlushInterval(interval time.Duration) SnapshotterOption {
	return func(s *Snapshotter) {
		s.interval = interval
	}
}

func WithLogger(logger logrus.FieldLogger) SnapshotterOption {
	return func(s *Snapshotter) {
		s.logger = logger
	}
}

// Snapshotter writes the store to a sink after it changes.
type Snapshotter struct {
	store    SnapshotStore
	sink     Sink
	logger   logrus.FieldLogger
	interval time.Duration

	lock     sync.Mutex
	changeCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	flushLock sync.Mutex
	errCh     chan error

	startOnce sync.Once
	closeOnce sync.Once
}

func NewSnapshotter(store SnapshotStore, sink Sink, opts ...SnapshotterOption) *Snapshotter {
	s := &Snapshotter{
		store:    store,
		sink:     sink,
		logger:   logrus.StandardLogger(),
		interval: defaultFlushInterval,
		changeCh: make(chan struct{}, 1),
		errCh:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the last snapshot into the store.
func (s *Snapshotter) Load() (int, error) {
	entries, err := s.sink.Load()
	if err != nil {
		return 0, err
	}
	return s.store.Restore(entries)
}

// Errors reports failed background flushes. Older errors are dropped when
// nobody reads.
func (s *Snapshotter) Errors() <-chan error {
	return s.errCh
}

// Flush saves the store now.
func (s *Snapshotter) Flush() error {
	s.flushLock.Lock()
	defer s.flushLock.Unlock()
	return s.sink.Save(s.store.Snapshot())
}

func (s *Snapshotter) flush() {
	if err := s.Flush(); err != nil {
		s.logger.WithError(err).Error("error saving templates")
		select {
		case s.errCh <- err:
		default:
		}
	}
}

// Notify marks the store as changed.
func (s *Snapshotter) Notify() {
	if s.interval <= 0 {
		s.flush()
		return
	}
	select {
	case s.changeCh <- struct{}{}:
	default:
	}
}

// Start flushes in the background once changes have settled for the flush
// interval.
func (s *Snapshotter) Start() {
	if s.interval <= 0 {
		return
	}
	s.startOnce.Do(func() {
		s.lock.Lock()
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		stopCh, doneCh := s.stopCh, s.doneCh
		s.lock.Unlock()

		go s.run(stopCh, doneCh)
	})
}

func (s *Snapshotter) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-s.changeCh:
			if timer == nil {
				timer = time.NewTimer(s.interval)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.interval)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			s.flush()
		case <-stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Close stops the background flusher and saves the store a last time.
func (s *Snapshotter) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.lock.Lock()
		stopCh, doneCh := s.stopCh, s.doneCh
		s.lock.Unlock()
		if stopCh != nil {
			close(stopCh)
			<-doneCh
		}
		err = s.Flush()
	})
	return err
}
