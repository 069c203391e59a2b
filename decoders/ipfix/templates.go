package ipfix

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SourceKey identifies one Transport Session inside an Observation Domain.
type SourceKey struct {
	ODID        uint32 `json:"odid"`
	Fingerprint uint32 `json:"fingerprint"`
}

// Template returns the key of a template of the source.
func (k SourceKey) Template(id uint16) TemplateKey {
	return TemplateKey{ODID: k.ODID, Fingerprint: k.Fingerprint, TemplateID: id}
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%d/%08x", k.ODID, k.Fingerprint)
}

// TemplateKey identifies a template. Equal keys with different content are
// successive versions of the same template.
type TemplateKey struct {
	ODID        uint32 `json:"odid"`
	Fingerprint uint32 `json:"fingerprint"`
	TemplateID  uint16 `json:"template-id"`
}

// Source returns the key of the source the template belongs to.
func (k TemplateKey) Source() SourceKey {
	return SourceKey{ODID: k.ODID, Fingerprint: k.Fingerprint}
}

// TemplateSystem is what the decoder needs from a template store.
type TemplateSystem interface {
	AddTemplate(key TemplateKey, raw []byte, kind TemplateKind, seq uint32) (*Template, error)
	GetTemplate(key TemplateKey) (*Template, error)
	RemoveTemplate(key TemplateKey) (*Template, error)
	RemoveSourceKind(src SourceKey, kind TemplateKind) int
	Acquire(t *Template) *TemplateRef
}

// TemplateRef is a counted reference on a template version. The version is
// kept reachable through Older until every reference is released.
type TemplateRef struct {
	store    *TemplateStore
	template *Template
	released atomic.Bool
}

// Template returns the referenced template.
func (r *TemplateRef) Template() *Template {
	return r.template
}

// Release drops the reference. Calling it more than once has no effect.
func (r *TemplateRef) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.store.release(r.template)
}

type sourceTable struct {
	kind      SourceType
	volatile  bool
	templates map[uint16]*Template
}

// TemplateStore keeps the templates of every source. A single lock guards
// it; it is never held while records are processed.
type TemplateStore struct {
	lock    *sync.RWMutex
	sources map[SourceKey]*sourceTable
	now     func() time.Time
}

// NewTemplateStore creates an empty in-memory store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		lock:    &sync.RWMutex{},
		sources: make(map[SourceKey]*sourceTable),
		now:     time.Now,
	}
}

func (s *TemplateStore) table(src SourceKey) *sourceTable {
	table, ok := s.sources[src]
	if !ok {
		table = &sourceTable{templates: make(map[uint16]*Template)}
		s.sources[src] = table
	}
	return table
}

// OpenSource registers the transport of a source. Templates of UDP sources
// are subject to expiry.
func (s *TemplateStore) OpenSource(src SourceKey, kind SourceType) {
	s.lock.Lock()
	defer s.lock.Unlock()
	table := s.table(src)
	table.kind = kind
	table.volatile = kind == SourceUDP
}

// AddTemplate parses and stores a template. Identical content refreshes the
// stored template. Different content creates a new version; the previous one
// stays linked through Older while it is referenced.
func (s *TemplateStore) AddTemplate(key TemplateKey, raw []byte, kind TemplateKind, seq uint32) (*Template, error) {
	return s.addTemplate(key, raw, kind, seq, false)
}

// UpdateTemplate is AddTemplate for a key that must already exist.
func (s *TemplateStore) UpdateTemplate(key TemplateKey, raw []byte, kind TemplateKind, seq uint32) (*Template, error) {
	return s.addTemplate(key, raw, kind, seq, true)
}

func (s *TemplateStore) addTemplate(key TemplateKey, raw []byte, kind TemplateKind, seq uint32, update bool) (*Template, error) {
	t, err := CreateTemplate(raw, kind, key.ODID)
	if err != nil {
		return nil, err
	}
	if t.OriginalID != key.TemplateID {
		return nil, malformed("record id %d does not match key id %d", t.OriginalID, key.TemplateID)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.now()
	table, ok := s.sources[key.Source()]
	var cur *Template
	if ok {
		cur = table.templates[key.TemplateID]
	}
	if update && cur == nil {
		return nil, ErrorTemplateNotFound
	}
	if cur != nil && cur.Kind == kind && cur.sameContent(t.raw) {
		cur.LastSeen = now
		cur.LastMessageSeq = seq
		return cur, nil
	}
	if table == nil {
		table = s.table(key.Source())
	}

	t.FirstSeen = now
	t.LastSeen = now
	t.LastMessageSeq = seq
	t.store = s
	t.current = true
	if cur != nil {
		cur.current = false
		t.older = cur
		cur.newer = t
		if cur.refs == 0 {
			// keeps t.older on the nearest referenced version
			s.unlink(cur)
		}
	}
	table.templates[key.TemplateID] = t
	return t, nil
}

// GetTemplate returns the current version of a template.
func (s *TemplateStore) GetTemplate(key TemplateKey) (*Template, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if table, ok := s.sources[key.Source()]; ok {
		if t, ok := table.templates[key.TemplateID]; ok {
			return t, nil
		}
	}
	return nil, ErrorTemplateNotFound
}

// RemoveTemplate withdraws a template.
func (s *TemplateStore) RemoveTemplate(key TemplateKey) (*Template, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	table, ok := s.sources[key.Source()]
	if !ok {
		return nil, ErrorTemplateNotFound
	}
	t, ok := table.templates[key.TemplateID]
	if !ok {
		return nil, ErrorTemplateNotFound
	}
	s.detach(table, key.TemplateID, t)
	return t, nil
}

func (s *TemplateStore) detach(table *sourceTable, id uint16, t *Template) {
	delete(table.templates, id)
	t.current = false
	if t.refs == 0 {
		s.unlink(t)
	}
}

func (s *TemplateStore) removeWhere(match func(SourceKey, *sourceTable, *Template) bool) int {
	removed := 0
	for src, table := range s.sources {
		for id, t := range table.templates {
			if match(src, table, t) {
				s.detach(table, id, t)
				removed++
			}
		}
	}
	return removed
}

// RemoveAllODID withdraws every template of an Observation Domain.
func (s *TemplateStore) RemoveAllODID(odid uint32) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.removeWhere(func(src SourceKey, _ *sourceTable, _ *Template) bool {
		return src.ODID == odid
	})
}

// RemoveAllKind withdraws every template of a kind, across all sources.
func (s *TemplateStore) RemoveAllKind(kind TemplateKind) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.removeWhere(func(_ SourceKey, _ *sourceTable, t *Template) bool {
		return t.Kind == kind
	})
}

// RemoveSourceKind withdraws every template of a kind sent by one source.
func (s *TemplateStore) RemoveSourceKind(src SourceKey, kind TemplateKind) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	table, ok := s.sources[src]
	if !ok {
		return 0
	}
	removed := 0
	for id, t := range table.templates {
		if t.Kind == kind {
			s.detach(table, id, t)
			removed++
		}
	}
	return removed
}

// RemoveSource forgets a closed source and withdraws all its templates.
func (s *TemplateStore) RemoveSource(src SourceKey) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	table, ok := s.sources[src]
	if !ok {
		return 0
	}
	removed := len(table.templates)
	for id, t := range table.templates {
		s.detach(table, id, t)
	}
	delete(s.sources, src)
	return removed
}

// ExpireBefore removes templates of UDP sources not refreshed since cutoff.
func (s *TemplateStore) ExpireBefore(kind TemplateKind, cutoff time.Time) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.removeWhere(func(_ SourceKey, table *sourceTable, t *Template) bool {
		return table.volatile && t.Kind == kind && t.LastSeen.Before(cutoff)
	})
}

// Acquire takes a reference on a template version.
func (s *TemplateStore) Acquire(t *Template) *TemplateRef {
	s.lock.Lock()
	t.refs++
	s.lock.Unlock()
	return &TemplateRef{store: s, template: t}
}

func (s *TemplateStore) release(t *Template) {
	s.lock.Lock()
	defer s.lock.Unlock()
	t.refs--
	if t.refs == 0 && !t.current {
		s.unlink(t)
	}
}

// unlink drops a version from its chain once nothing references it.
func (s *TemplateStore) unlink(t *Template) {
	if t.newer != nil {
		t.newer.older = t.older
	}
	if t.older != nil {
		t.older.newer = t.newer
	}
	t.older = nil
	t.newer = nil
}

// Len returns the number of current templates.
func (s *TemplateStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	count := 0
	for _, table := range s.sources {
		count += len(table.templates)
	}
	return count
}

// TemplateEntry is a copy of a stored template, used for persistence and
// introspection.
type TemplateEntry struct {
	Key        TemplateKey  `json:"key"`
	Kind       TemplateKind `json:"kind"`
	SourceType SourceType   `json:"source-type"`
	Raw        []byte       `json:"raw"`
	FirstSeen  time.Time    `json:"first-seen"`
	LastSeen   time.Time    `json:"last-seen"`
}

// Snapshot copies every current template, ordered by key.
func (s *TemplateStore) Snapshot() []TemplateEntry {
	s.lock.RLock()
	entries := make([]TemplateEntry, 0, len(s.sources))
	for src, table := range s.sources {
		for id, t := range table.templates {
			entries = append(entries, TemplateEntry{
				Key:        src.Template(id),
				Kind:       t.Kind,
				SourceType: table.kind,
				Raw:        t.raw,
				FirstSeen:  t.FirstSeen,
				LastSeen:   t.LastSeen,
			})
		}
	}
	s.lock.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.ODID != b.ODID {
			return a.ODID < b.ODID
		}
		if a.Fingerprint != b.Fingerprint {
			return a.Fingerprint < b.Fingerprint
		}
		return a.TemplateID < b.TemplateID
	})
	return entries
}

// Restore loads snapshot entries, keeping their timestamps. Invalid entries
// are skipped and counted in the returned error.
func (s *TemplateStore) Restore(entries []TemplateEntry) (int, error) {
	restored, skipped := 0, 0
	for _, entry := range entries {
		t, err := CreateTemplate(entry.Raw, entry.Kind, entry.Key.ODID)
		if err != nil || t.OriginalID != entry.Key.TemplateID {
			skipped++
			continue
		}
		t.FirstSeen = entry.FirstSeen
		t.LastSeen = entry.LastSeen
		t.store = s
		t.current = true

		s.lock.Lock()
		table := s.table(entry.Key.Source())
		table.kind = entry.SourceType
		table.volatile = entry.SourceType == SourceUDP
		if old, ok := table.templates[t.OriginalID]; ok {
			s.detach(table, t.OriginalID, old)
		}
		table.templates[t.OriginalID] = t
		s.lock.Unlock()
		restored++
	}
	if skipped > 0 {
		return restored, fmt.Errorf("%w: %d snapshot entries skipped", ErrMalformedTemplate, skipped)
	}
	return restored, nil
}
