package templates

import (
	"time"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/utils"
)

// ChangeTracker calls a function whenever the wrapped store gains, loses,
// or redefines a template. Refreshes of an unchanged template are silent.
type ChangeTracker struct {
	utils.TemplateStore
	onChange func()
}

func NewChangeTracker(store utils.TemplateStore, onChange func()) *ChangeTracker {
	return &ChangeTracker{
		TemplateStore: store,
		onChange:      onChange,
	}
}

func (s *ChangeTracker) changed(n int) {
	if n > 0 && s.onChange != nil {
		s.onChange()
	}
}

func (s *ChangeTracker) AddTemplate(key ipfix.TemplateKey, raw []byte, kind ipfix.TemplateKind, seq uint32) (*ipfix.Template, error) {
	prev, _ := s.TemplateStore.GetTemplate(key)
	t, err := s.TemplateStore.AddTemplate(key, raw, kind, seq)
	if err == nil && t != prev {
		s.changed(1)
	}
	return t, err
}

func (s *ChangeTracker) RemoveTemplate(key ipfix.TemplateKey) (*ipfix.Template, error) {
	t, err := s.TemplateStore.RemoveTemplate(key)
	if err == nil {
		s.changed(1)
	}
	return t, err
}

func (s *ChangeTracker) RemoveSourceKind(src ipfix.SourceKey, kind ipfix.TemplateKind) int {
	n := s.TemplateStore.RemoveSourceKind(src, kind)
	s.changed(n)
	return n
}

func (s *ChangeTracker) RemoveSource(src ipfix.SourceKey) int {
	n := s.TemplateStore.RemoveSource(src)
	s.changed(n)
	return n
}

func (s *ChangeTracker) ExpireBefore(kind ipfix.TemplateKind, cutoff time.Time) int {
	n := s.TemplateStore.ExpireBefore(kind, cutoff)
	s.changed(n)
	return n
}
