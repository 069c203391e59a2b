// Package httpserver exposes metrics, health and the template state.
package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	TemplatePath string
	SourcesPath  string
	Logger       logrus.FieldLogger
}

// TemplateSource returns templates for HTTP rendering.
type TemplateSource func() []ipfix.TemplateEntry

// SourceList returns the exporters with an open session.
type SourceList func() []ipfix.SourceInfo

type handler struct {
	logger logrus.FieldLogger
}

func (h handler) write(wr http.ResponseWriter, status int, body []byte) {
	wr.WriteHeader(status)
	if _, err := wr.Write(body); err != nil {
		h.logger.WithError(err).Error("error writing HTTP")
	}
}

func (h handler) writeJSON(wr http.ResponseWriter, path string, value interface{}) {
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		h.logger.WithError(err).Errorf("error writing JSON body for %s", path)
		h.write(wr, http.StatusInternalServerError, []byte("Internal Server Error\n"))
		return
	}
	wr.Header().Add("Content-Type", "application/json")
	h.write(wr, http.StatusOK, body)
}

// HealthHandler returns a handler for the health endpoint.
func HealthHandler(logger logrus.FieldLogger, isCollecting func() bool) http.HandlerFunc {
	h := handler{logger}
	return func(wr http.ResponseWriter, r *http.Request) {
		if !isCollecting() {
			h.write(wr, http.StatusServiceUnavailable, []byte("Not OK\n"))
			return
		}
		h.write(wr, http.StatusOK, []byte("OK\n"))
	}
}

type templateView struct {
	Source     string    `json:"source"`
	ODID       uint32    `json:"obs_domain_id"`
	TemplateID uint16    `json:"template_id"`
	Type       string    `json:"type"`
	Transport  string    `json:"transport"`
	Raw        []byte    `json:"raw"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// TemplatesHandler returns a handler for the templates endpoint.
func TemplatesHandler(logger logrus.FieldLogger, templates TemplateSource) http.HandlerFunc {
	h := handler{logger}
	return func(wr http.ResponseWriter, r *http.Request) {
		entries := templates()
		views := make([]templateView, 0, len(entries))
		for _, e := range entries {
			views = append(views, templateView{
				Source:     e.Key.Source().String(),
				ODID:       e.Key.ODID,
				TemplateID: e.Key.TemplateID,
				Type:       e.Kind.String(),
				Transport:  e.SourceType.String(),
				Raw:        e.Raw,
				FirstSeen:  e.FirstSeen.UTC(),
				LastSeen:   e.LastSeen.UTC(),
			})
		}
		h.writeJSON(wr, r.URL.Path, views)
	}
}

type sourceView struct {
	Address     string `json:"address"`
	Transport   string `json:"transport"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	Messages    uint32 `json:"messages"`
}

// SourcesHandler returns a handler listing open sessions.
func SourcesHandler(logger logrus.FieldLogger, sources SourceList) http.HandlerFunc {
	h := handler{logger}
	return func(wr http.ResponseWriter, r *http.Request) {
		list := sources()
		views := make([]sourceView, 0, len(list))
		for _, s := range list {
			views = append(views, sourceView{
				Address:     s.Addr.String(),
				Transport:   s.Type.String(),
				Fingerprint: fmt.Sprintf("%08x", s.Fingerprint),
				Status:      s.Status.String(),
				Messages:    s.Sequence + 1,
			})
		}
		h.writeJSON(wr, r.URL.Path, views)
	}
}

// New constructs a mux with metrics, health, templates and sources endpoints.
func New(cfg Config, templates TemplateSource, sources SourceList, isCollecting func() bool) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/__health", HealthHandler(logger, isCollecting))
	if cfg.TemplatePath != "" && templates != nil {
		mux.HandleFunc(cfg.TemplatePath, TemplatesHandler(logger, templates))
	}
	if cfg.SourcesPath != "" && sources != nil {
		mux.HandleFunc(cfg.SourcesPath, SourcesHandler(logger, sources))
	}
	return mux
}
