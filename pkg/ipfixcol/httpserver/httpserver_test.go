package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsampler/ipfixcol/decoders/ipfix"
)

func TestHealthHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	collecting := false
	h := HealthHandler(logger, func() bool { return collecting })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/__health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	collecting = true
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/__health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestTemplatesAndSources(t *testing.T) {
	logger, _ := test.NewNullLogger()
	seen := time.Unix(1700000000, 0)
	templates := func() []ipfix.TemplateEntry {
		return []ipfix.TemplateEntry{{
			Key:        ipfix.SourceKey{ODID: 3, Fingerprint: 0xbeef}.Template(256),
			Kind:       ipfix.KindOptionsTemplate,
			SourceType: ipfix.SourceUDP,
			Raw:        []byte{1, 0, 0, 1, 0, 8, 0, 4},
			FirstSeen:  seen,
			LastSeen:   seen,
		}}
	}
	sources := func() []ipfix.SourceInfo {
		return []ipfix.SourceInfo{{
			Type:        ipfix.SourceUDP,
			Status:      ipfix.StatusOpened,
			Addr:        netip.MustParseAddrPort("192.0.2.1:4739"),
			Fingerprint: 0xbeef,
			Sequence:    4,
		}}
	}
	mux := New(Config{TemplatePath: "/templates", SourcesPath: "/sources", Logger: logger}, templates, sources, func() bool { return true })

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/templates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "3/0000beef", views[0]["source"])
	assert.Equal(t, float64(256), views[0]["template_id"])
	assert.Equal(t, ipfix.KindOptionsTemplate.String(), views[0]["type"])
	assert.Equal(t, "2023-11-14T22:13:20Z", views[0]["first_seen"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	views = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "192.0.2.1:4739", views[0]["address"])
	assert.Equal(t, "0000beef", views[0]["fingerprint"])
	assert.Equal(t, "opened", views[0]["status"])
	assert.Equal(t, float64(5), views[0]["messages"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
