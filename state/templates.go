package state

import (
	"encoding/json"
	"net/url"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

const defaultTemplatesKey = "ipfixcol:templates"

// TemplateSink stores template snapshots in a State table with one entry per
// source. Sources whose templates did not change are not written again.
type TemplateSink struct {
	db     State[string, []ipfix.TemplateEntry]
	lock   sync.Mutex
	hashes map[string]uint64
}

// NewTemplateSink opens the table at rawUrl. Redis URLs without a key use
// ipfixcol:templates.
func NewTemplateSink(rawUrl string) (*TemplateSink, error) {
	templatesUrl, err := url.Parse(rawUrl)
	if err != nil {
		return nil, err
	}
	if q := templatesUrl.Query(); !q.Has("key") && (templatesUrl.Scheme == "redis" || templatesUrl.Scheme == "rediss") {
		q.Set("key", defaultTemplatesKey)
		templatesUrl.RawQuery = q.Encode()
	}
	db, err := NewState[string, []ipfix.TemplateEntry](templatesUrl.String())
	if err != nil {
		return nil, err
	}
	return &TemplateSink{
		db:     db,
		hashes: make(map[string]uint64),
	}, nil
}

func hashEntries(entries []ipfix.TemplateEntry) (uint64, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

func (s *TemplateSink) Load() ([]ipfix.TemplateEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var all []ipfix.TemplateEntry
	var err error
	s.db.Range(func(key string, entries []ipfix.TemplateEntry) bool {
		var h uint64
		if h, err = hashEntries(entries); err != nil {
			return false
		}
		s.hashes[key] = h
		all = append(all, entries...)
		return true
	})
	return all, err
}

func (s *TemplateSink) Save(entries []ipfix.TemplateEntry) error {
	bySource := make(map[string][]ipfix.TemplateEntry)
	for _, entry := range entries {
		key := entry.Key.Source().String()
		bySource[key] = append(bySource[key], entry)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for key, group := range bySource {
		h, err := hashEntries(group)
		if err != nil {
			return err
		}
		if prev, ok := s.hashes[key]; ok && prev == h {
			continue
		}
		if err = s.db.Add(key, group); err != nil {
			return err
		}
		s.hashes[key] = h
	}
	var stale []string
	s.db.Range(func(key string, _ []ipfix.TemplateEntry) bool {
		if _, ok := bySource[key]; !ok {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		if err := s.db.Delete(key); err != nil {
			return err
		}
		delete(s.hashes, key)
	}
	return nil
}

func (s *TemplateSink) Close() error {
	return s.db.Close()
}
