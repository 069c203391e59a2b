package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
	"github.com/netsampler/ipfixcol/utils"
)

// PromTemplateSystem counts templates going in and out of a store.
type PromTemplateSystem struct {
	utils.TemplateStore
}

func NewPromTemplateSystem(wrapped utils.TemplateStore) *PromTemplateSystem {
	return &PromTemplateSystem{TemplateStore: wrapped}
}

func templateType(kind ipfix.TemplateKind) string {
	if kind == ipfix.KindOptionsTemplate {
		return "options_template"
	}
	return "template"
}

func (s *PromTemplateSystem) AddTemplate(key ipfix.TemplateKey, raw []byte, kind ipfix.TemplateKind, seq uint32) (*ipfix.Template, error) {
	t, err := s.TemplateStore.AddTemplate(key, raw, kind, seq)
	if err == nil {
		IPFIXTemplatesStats.With(
			prometheus.Labels{
				"source":        fmt.Sprintf("%08x", key.Fingerprint),
				"obs_domain_id": strconv.FormatUint(uint64(key.ODID), 10),
				"template_id":   strconv.Itoa(int(key.TemplateID)),
				"type":          templateType(kind),
			}).
			Inc()
	}
	return t, err
}

func (s *PromTemplateSystem) removed(reason string, n int) {
	if n > 0 {
		IPFIXTemplatesRemoved.With(prometheus.Labels{"reason": reason}).Add(float64(n))
	}
}

func (s *PromTemplateSystem) RemoveTemplate(key ipfix.TemplateKey) (*ipfix.Template, error) {
	t, err := s.TemplateStore.RemoveTemplate(key)
	if err == nil {
		s.removed("withdrawal", 1)
	}
	return t, err
}

func (s *PromTemplateSystem) RemoveSourceKind(src ipfix.SourceKey, kind ipfix.TemplateKind) int {
	n := s.TemplateStore.RemoveSourceKind(src, kind)
	s.removed("withdrawal", n)
	return n
}

func (s *PromTemplateSystem) RemoveSource(src ipfix.SourceKey) int {
	n := s.TemplateStore.RemoveSource(src)
	s.removed("source_closed", n)
	return n
}

func (s *PromTemplateSystem) ExpireBefore(kind ipfix.TemplateKind, cutoff time.Time) int {
	n := s.TemplateStore.ExpireBefore(kind, cutoff)
	s.removed("expired", n)
	return n
}
