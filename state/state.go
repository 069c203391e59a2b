// Package state keeps small key/value tables in memory, optionally mirrored
// to a durable backend chosen by URL.
package state

import (
	"fmt"
	"net/url"
	"sync"
)

var (
	SupportedSchemes = []string{"memory", "badger", "redis", "rediss"}
	ErrorKeyNotFound = fmt.Errorf("key not found")
)

// State is a table of values. Reads are served from memory.
type State[K comparable, V any] interface {
	Close() error
	Get(key K) (V, error)
	Add(key K, value V) error
	Delete(key K) error
	Pop(key K) (V, error)
	// Range calls fn for every entry until it returns false.
	Range(fn func(key K, value V) bool)
}

func newMemoryState[K comparable, V any]() *memoryState[K, V] {
	return &memoryState[K, V]{
		data: make(map[K]V),
		lock: new(sync.RWMutex),
	}
}

// NewState opens a table:
//
//	memory://
//	badger:///var/lib/ipfixcol/templates
//	redis://localhost:6379/0?key=ipfixcol:templates
func NewState[K comparable, V any](rawUrl string) (State[K, V], error) {
	urlParsed, err := url.Parse(rawUrl)
	if err != nil {
		return nil, err
	}
	switch urlParsed.Scheme {
	case "memory":
		return newMemoryState[K, V](), nil
	case "badger":
		bd := &badgerState[K, V]{
			memory: newMemoryState[K, V](),
			path:   urlParsed.Path,
		}
		if err = bd.init(); err != nil {
			return nil, err
		}
		return bd, nil
	case "redis", "rediss":
		rd := &redisState[K, V]{
			memory:    newMemoryState[K, V](),
			urlParsed: urlParsed,
		}
		if err = rd.init(); err != nil {
			return nil, err
		}
		return rd, nil
	default:
		return nil, fmt.Errorf("unknown state name %s", urlParsed.Scheme)
	}
}
