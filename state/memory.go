package state

import (
	"sync"
)

type memoryState[K comparable, V any] struct {
	data map[K]V
	lock *sync.RWMutex
}

func (m *memoryState[K, V]) Close() error {
	return nil
}

func (m *memoryState[K, V]) Get(key K) (V, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return v, ErrorKeyNotFound
	}
	return v, nil
}

func (m *memoryState[K, V]) Add(key K, value V) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryState[K, V]) Delete(key K) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryState[K, V]) Pop(key K) (V, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	v, ok := m.data[key]
	if !ok {
		return v, ErrorKeyNotFound
	}
	delete(m.data, key)
	return v, nil
}

// Range works on a copy so fn may modify the table.
func (m *memoryState[K, V]) Range(fn func(key K, value V) bool) {
	m.lock.RLock()
	keys := make([]K, 0, len(m.data))
	values := make([]V, 0, len(m.data))
	for k, v := range m.data {
		keys = append(keys, k)
		values = append(values, v)
	}
	m.lock.RUnlock()
	for i := range keys {
		if !fn(keys[i], values[i]) {
			return
		}
	}
}
