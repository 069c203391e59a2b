// Package transport holds the registry of output drivers. Drivers register
// themselves from init and are selected by name at startup.
package transport

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	transportDrivers = make(map[string]TransportDriver)
	lock             = &sync.RWMutex{}

	ErrTransport         = errors.New("transport error")
	ErrTransportNotFound = fmt.Errorf("%w: driver not found", ErrTransport)
)

// DriverTransportError wraps a driver-specific error with its transport name.
type DriverTransportError struct {
	Driver string
	Err    error
}

func (e *DriverTransportError) Error() string {
	return fmt.Sprintf("%s for %s transport", e.Err.Error(), e.Driver)
}

func (e *DriverTransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

type TransportDriver interface {
	Prepare() error              // Prepare driver (eg: flag registration)
	Init() error                 // Initialize driver (eg: start connections, open files...)
	Close() error                // Close driver (eg: close connections and files...)
	Send(key, data []byte) error // Send a formatted message
}

// TransportInterface is what a pipe needs to emit formatted messages.
type TransportInterface interface {
	Send(key, data []byte) error
}

// Transport is a driver bound to its registered name.
type Transport struct {
	TransportDriver
	name string
}

func (t *Transport) Name() string {
	return t.name
}

func (t *Transport) Close() error {
	if err := t.TransportDriver.Close(); err != nil {
		return &DriverTransportError{t.name, err}
	}
	return nil
}

func (t *Transport) Send(key, data []byte) error {
	if err := t.TransportDriver.Send(key, data); err != nil {
		return &DriverTransportError{t.name, err}
	}
	return nil
}

// RegisterTransportDriver stores a driver under name and lets it declare its
// flags. A driver failing to prepare is a programming error.
func RegisterTransportDriver(name string, t TransportDriver) {
	lock.Lock()
	transportDrivers[name] = t
	lock.Unlock()

	if err := t.Prepare(); err != nil {
		panic(fmt.Sprintf("transport %s: %v", name, err))
	}
}

// FindTransport initializes the driver registered under name.
func FindTransport(name string) (*Transport, error) {
	lock.RLock()
	t, ok := transportDrivers[name]
	lock.RUnlock()
	if !ok {
		return nil, &DriverTransportError{name, ErrTransportNotFound}
	}

	if err := t.Init(); err != nil {
		return nil, &DriverTransportError{name, err}
	}
	return &Transport{t, name}, nil
}

// GetTransports returns the registered driver names, sorted.
func GetTransports() []string {
	lock.RLock()
	defer lock.RUnlock()
	t := make([]string, 0, len(transportDrivers))
	for k := range transportDrivers {
		t = append(t, k)
	}
	sort.Strings(t)
	return t
}
