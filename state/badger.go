package state

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type badgerState[K comparable, V any] struct {
	memory *memoryState[K, V]
	path   string
	db     *badger.DB
}

func (b *badgerState[K, V]) init() error {
	if b.path == "" {
		return fmt.Errorf("badger state needs a directory path")
	}
	db, err := badger.Open(badger.DefaultOptions(b.path).WithLogger(nil))
	if err != nil {
		return err
	}
	b.db = db
	err = b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var k K
			if err := json.Unmarshal(item.Key(), &k); err != nil {
				return fmt.Errorf("badger key %q: %w", item.Key(), err)
			}
			err := item.Value(func(vRaw []byte) error {
				var v V
				if err := json.Unmarshal(vRaw, &v); err != nil {
					return err
				}
				return b.memory.Add(k, v)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
	}
	return err
}

func (b *badgerState[K, V]) Close() error {
	return b.db.Close()
}

func (b *badgerState[K, V]) Get(key K) (V, error) {
	return b.memory.Get(key)
}

func (b *badgerState[K, V]) Range(fn func(key K, value V) bool) {
	b.memory.Range(fn)
}

func (b *badgerState[K, V]) Add(key K, value V) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
	if err != nil {
		return err
	}
	return b.memory.Add(key, value)
}

func (b *badgerState[K, V]) Delete(key K) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
	if err != nil {
		return err
	}
	return b.memory.Delete(key)
}

func (b *badgerState[K, V]) Pop(key K) (V, error) {
	v, err := b.memory.Get(key)
	if err != nil {
		return v, err
	}
	return v, b.Delete(key)
}
