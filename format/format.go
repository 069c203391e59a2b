// Package format holds the registry of serializers turning producer
// messages into a key and a payload for the transports.
package format

import (
	"fmt"
	"sort"
	"sync"
)

var (
	formatDrivers = make(map[string]FormatDriver)
	lock          = &sync.RWMutex{}

	ErrFormat       = fmt.Errorf("format error")
	ErrNoSerializer = fmt.Errorf("message is not serializable")
)

type DriverFormatError struct {
	Driver string
	Err    error
}

func (e *DriverFormatError) Error() string {
	return fmt.Sprintf("%s for %s format", e.Err.Error(), e.Driver)
}

func (e *DriverFormatError) Unwrap() []error {
	return []error{ErrFormat, e.Err}
}

type FormatDriver interface {
	Prepare() error                                  // Prepare driver (eg: flag registration)
	Init() error                                     // Initialize driver (eg: parse keying)
	Format(data interface{}) ([]byte, []byte, error) // Returns key and payload
}

type FormatInterface interface {
	Format(data interface{}) ([]byte, []byte, error)
}

type Format struct {
	FormatDriver
	name string
}

func (t *Format) Name() string {
	return t.name
}

func (t *Format) Format(data interface{}) ([]byte, []byte, error) {
	key, text, err := t.FormatDriver.Format(data)
	if err != nil {
		err = &DriverFormatError{t.name, err}
	}
	return key, text, err
}

// Keyer is implemented by messages carrying a partitioning key.
type Keyer interface {
	Key() []byte
}

// MessageKey returns the key of data, if any.
func MessageKey(data interface{}) []byte {
	if k, ok := data.(Keyer); ok {
		return k.Key()
	}
	return nil
}

func RegisterFormatDriver(name string, t FormatDriver) {
	lock.Lock()
	formatDrivers[name] = t
	lock.Unlock()

	if err := t.Prepare(); err != nil {
		panic(fmt.Sprintf("format %s: %v", name, err))
	}
}

func FindFormat(name string) (*Format, error) {
	lock.RLock()
	t, ok := formatDrivers[name]
	lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %s not found", ErrFormat, name)
	}

	if err := t.Init(); err != nil {
		return nil, &DriverFormatError{name, err}
	}
	return &Format{t, name}, nil
}

// GetFormats returns the registered driver names, sorted.
func GetFormats() []string {
	lock.RLock()
	defer lock.RUnlock()
	t := make([]string, 0, len(formatDrivers))
	for k := range formatDrivers {
		t = append(t, k)
	}
	sort.Strings(t)
	return t
}
