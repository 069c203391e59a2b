// Package mapper merges the template ID spaces of several exporters sharing
// an Observation Domain into one canonical ID space.
package mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

var (
	ErrUnknownSource    = errors.New("source has no mapped template")
	ErrIDSpaceExhausted = errors.New("no canonical template id left")
)

// Action tells the caller what to do with a processed template record.
type Action int

const (
	// ActionInvalid means the record is malformed and must be skipped.
	ActionInvalid Action = iota
	// ActionPass means the record is forwarded under the returned id.
	ActionPass
	// ActionDrop means the record was already forwarded for this source.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionDrop:
		return "drop"
	}
	return "invalid"
}

// CanonicalTemplate is a template of the merged stream. References counts
// the source templates mapped onto it.
type CanonicalTemplate struct {
	ID         uint16
	Kind       ipfix.TemplateKind
	Raw        []byte
	Template   *ipfix.Template
	References int

	body    string
	pending bool
}

type bodyKey struct {
	kind ipfix.TemplateKind
	body string
}

type mappingKey struct {
	fingerprint uint32
	id          uint16
}

type domain struct {
	templates map[uint16]*CanonicalTemplate
	bodies    map[bodyKey]*CanonicalTemplate
	mappings  map[mappingKey]*CanonicalTemplate
	next      uint16
}

func newDomain() *domain {
	return &domain{
		templates: make(map[uint16]*CanonicalTemplate),
		bodies:    make(map[bodyKey]*CanonicalTemplate),
		mappings:  make(map[mappingKey]*CanonicalTemplate),
		next:      ipfix.MinDataSetID,
	}
}

// allocate returns the next canonical id not held by a live or pending
// template.
func (d *domain) allocate() (uint16, bool) {
	const space = 0x10000 - ipfix.MinDataSetID
	for i := 0; i < space; i++ {
		id := d.next
		if d.next == 0xffff {
			d.next = ipfix.MinDataSetID
		} else {
			d.next++
		}
		if _, used := d.templates[id]; !used {
			return id, true
		}
	}
	return 0, false
}

func (d *domain) release(key mappingKey) *CanonicalTemplate {
	c, ok := d.mappings[key]
	if !ok {
		return nil
	}
	delete(d.mappings, key)
	c.References--
	if c.References == 0 {
		c.pending = true
	}
	return c
}

// Mapper keeps canonical templates per Observation Domain. It is not safe
// for concurrent use; see Sharded.
type Mapper struct {
	domains map[uint32]*domain
}

func New() *Mapper {
	return &Mapper{domains: make(map[uint32]*domain)}
}

func (m *Mapper) domain(odid uint32) *domain {
	d, ok := m.domains[odid]
	if !ok {
		d = newDomain()
		m.domains[odid] = d
	}
	return d
}

// ProcessTemplate maps a (Options) Template Record of a source onto a
// canonical template. Records whose body matches an existing canonical
// template of the same kind share its id. A source redefining one of its
// ids with other content gets a new mapping and an ErrMapperMismatch error
// alongside ActionPass.
func (m *Mapper) ProcessTemplate(src ipfix.SourceKey, raw []byte, kind ipfix.TemplateKind) (Action, uint16, error) {
	t, err := ipfix.CreateTemplate(raw, kind, src.ODID)
	if err != nil {
		return ActionInvalid, 0, err
	}
	d := m.domain(src.ODID)
	key := mappingKey{fingerprint: src.Fingerprint, id: t.OriginalID}
	body := bodyKey{kind: kind, body: string(t.Body())}

	var mismatch error
	if c, ok := d.mappings[key]; ok {
		if c.Kind == kind && c.body == body.body {
			return ActionDrop, c.ID, nil
		}
		d.release(key)
		mismatch = fmt.Errorf("%w: source %s template %d now maps away from %d", ipfix.ErrMapperMismatch, src, t.OriginalID, c.ID)
	}

	if c, ok := d.bodies[body]; ok {
		c.References++
		c.pending = false
		d.mappings[key] = c
		return ActionPass, c.ID, mismatch
	}

	id, ok := d.allocate()
	if !ok {
		return ActionInvalid, 0, ErrIDSpaceExhausted
	}
	t.AssignedID = id
	c := &CanonicalTemplate{
		ID:         id,
		Kind:       kind,
		Raw:        t.AppendRecord(nil),
		Template:   t,
		References: 1,
		body:       body.body,
	}
	d.templates[id] = c
	d.bodies[body] = c
	d.mappings[key] = c
	return ActionPass, id, mismatch
}

// ProcessWithdrawal drops the mapping of a template withdrawn by its source.
// An id equal to the kind's Set ID withdraws every template of that kind.
func (m *Mapper) ProcessWithdrawal(src ipfix.SourceKey, id uint16, kind ipfix.TemplateKind) int {
	d, ok := m.domains[src.ODID]
	if !ok {
		return 0
	}
	if id != kind.SetID() {
		key := mappingKey{fingerprint: src.Fingerprint, id: id}
		if c, ok := d.mappings[key]; ok && c.Kind == kind {
			d.release(key)
			return 1
		}
		return 0
	}
	released := 0
	for key, c := range d.mappings {
		if key.fingerprint == src.Fingerprint && c.Kind == kind {
			d.release(key)
			released++
		}
	}
	return released
}

// RemapDataSet returns the canonical id of a source's Data Set id.
func (m *Mapper) RemapDataSet(src ipfix.SourceKey, setID uint16) (uint16, bool) {
	d, ok := m.domains[src.ODID]
	if !ok {
		return 0, false
	}
	c, ok := d.mappings[mappingKey{fingerprint: src.Fingerprint, id: setID}]
	if !ok {
		return 0, false
	}
	return c.ID, true
}

// RemoveSource releases every mapping of a source. Canonical templates left
// without reference are reported by later WithdrawIDs calls.
func (m *Mapper) RemoveSource(src ipfix.SourceKey) error {
	d, ok := m.domains[src.ODID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	released := 0
	for key := range d.mappings {
		if key.fingerprint == src.Fingerprint {
			d.release(key)
			released++
		}
	}
	if released == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	return nil
}

// WithdrawIDs returns, once, the canonical ids of a kind no source maps to
// anymore. The caller withdraws them downstream; they may be reallocated
// afterwards.
func (m *Mapper) WithdrawIDs(odid uint32, kind ipfix.TemplateKind) []uint16 {
	d, ok := m.domains[odid]
	if !ok {
		return nil
	}
	var ids []uint16
	for id, c := range d.templates {
		if c.Kind != kind || !c.pending || c.References != 0 {
			continue
		}
		ids = append(ids, id)
		delete(d.templates, id)
		delete(d.bodies, bodyKey{kind: c.Kind, body: c.body})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(d.templates) == 0 && len(d.mappings) == 0 {
		delete(m.domains, odid)
	}
	return ids
}

// Template returns a canonical template by id.
func (m *Mapper) Template(odid uint32, id uint16) (*CanonicalTemplate, bool) {
	d, ok := m.domains[odid]
	if !ok {
		return nil, false
	}
	c, ok := d.templates[id]
	return c, ok
}

// GetTemplates lists the canonical templates of a kind, ordered by id.
func (m *Mapper) GetTemplates(odid uint32, kind ipfix.TemplateKind) []*CanonicalTemplate {
	d, ok := m.domains[odid]
	if !ok {
		return nil
	}
	var templates []*CanonicalTemplate
	for _, c := range d.templates {
		if c.Kind == kind {
			templates = append(templates, c)
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates
}

// HasDomain tells whether a domain holds canonical templates or mappings.
func (m *Mapper) HasDomain(odid uint32) bool {
	_, ok := m.domains[odid]
	return ok
}

// GetODIDs lists the Observation Domains with mapper state.
func (m *Mapper) GetODIDs() []uint32 {
	odids := make([]uint32, 0, len(m.domains))
	for odid := range m.domains {
		odids = append(odids, odid)
	}
	sort.Slice(odids, func(i, j int) bool { return odids[i] < odids[j] })
	return odids
}
