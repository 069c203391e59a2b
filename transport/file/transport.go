// Package file writes formatted messages to stdout or a file.
package file

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/transport"
)

// FileDriver appends every message followed by a separator. An empty
// separator gives a plain concatenation, which is a valid IPFIX file when
// messages are binary IPFIX.
type FileDriver struct {
	fileDestination string
	lineSeparator   string
	logger          logrus.FieldLogger

	lock *sync.RWMutex
	w    io.Writer
	file *os.File

	sigCh chan os.Signal
	q     chan bool
}

func (d *FileDriver) Prepare() error {
	flag.StringVar(&d.fileDestination, "transport.file", "", "File/console output (empty for stdout)")
	flag.StringVar(&d.lineSeparator, "transport.file.sep", "\n", "Separator written after each message (empty for binary streams)")
	return nil
}

func (d *FileDriver) openFile() error {
	file, err := os.OpenFile(d.fileDestination, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	d.file = file
	d.w = file
	return nil
}

// reopen switches to a fresh file handle, eg. after log rotation. The old
// handle stays in use if the file cannot be opened.
func (d *FileDriver) reopen() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	old := d.file
	if err := d.openFile(); err != nil {
		d.file = old
		return err
	}
	return old.Close()
}

func (d *FileDriver) Init() error {
	d.q = make(chan bool)
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}

	if d.fileDestination == "" {
		d.w = os.Stdout
		return nil
	}

	d.lock.Lock()
	err := d.openFile()
	d.lock.Unlock()
	if err != nil {
		return err
	}

	d.sigCh = make(chan os.Signal, 1)
	signal.Notify(d.sigCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-d.sigCh:
				if err := d.reopen(); err != nil {
					d.logger.WithError(err).WithField("file", d.fileDestination).Error("error reopening file")
				} else {
					d.logger.WithField("file", d.fileDestination).Info("reopened file")
				}
			case <-d.q:
				return
			}
		}
	}()
	return nil
}

func (d *FileDriver) Send(key, data []byte) error {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if len(data) > 0 {
		if _, err := d.w.Write(data); err != nil {
			return err
		}
	}
	if d.lineSeparator == "" {
		return nil
	}
	_, err := io.WriteString(d.w, d.lineSeparator)
	return err
}

func (d *FileDriver) Close() error {
	close(d.q)
	if d.fileDestination == "" {
		return nil
	}
	signal.Stop(d.sigCh)
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.file.Close()
}

func init() {
	d := &FileDriver{
		lock: &sync.RWMutex{},
	}
	transport.RegisterTransportDriver("file", d)
}
