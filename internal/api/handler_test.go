package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncloudioj/gcp-ingestion/internal/api"
	"github.com/ncloudioj/gcp-ingestion/internal/config"
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/resource"
	"github.com/ncloudioj/gcp-ingestion/internal/resource/resourcetest"
)

type fixture struct {
	handler    http.Handler
	engine     *engine.Engine
	configPath string
	allowList  string
}

func configYAML(mode, allowList string) string {
	return fmt.Sprintf(`version: v1
resources: {geo_database: GeoIP2-City-Test.mmdb, url_allow_list: %q}
engine: {mode: %s, event_workers: 2, queue_depth: 16, event_timeout_ms: 2000}
`, allowList, mode)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	allow := filepath.Join(dir, "allow.csv")
	require.NoError(t, os.WriteFile(allow, []byte("test.com,click\nimp.test.com,impression\n"), 0o644))
	cfgPath := filepath.Join(dir, "enricher.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML("contextual_services", allow)), 0o644))

	loader, err := config.NewLoader(cfgPath, zerolog.Nop())
	require.NoError(t, err)
	cfg := loader.Config()
	require.NoError(t, config.Validate(cfg))

	cache := resource.NewCache(resource.WithGeoOpener(resourcetest.Opener(resourcetest.Fixture(), nil)))
	stage, err := engine.NewStage(context.Background(), cache, cfg.StageConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, stage, cfg.EngineConfig(), nil, zerolog.Nop())
	t.Cleanup(func() {
		eng.Shutdown()
		cancel()
	})
	return &fixture{
		handler:    api.New(eng, loader, cache, zerolog.Nop()),
		engine:     eng,
		configPath: cfgPath,
		allowList:  allow,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func clickRecord(host string) event.Record {
	return event.Record{
		Attributes: event.Attributes{
			event.AttrDocumentNamespace: "contextual-services",
			event.AttrDocumentType:      "topsites-click",
			event.AttrRemoteAddr:        "216.160.83.56",
			event.AttrUserAgentOS:       "Linux",
			event.AttrUserAgentVersion:  "96.0",
		},
		Payload: []byte(`{"reporting_url":"https://` + host + `/?ctag=1&version=1&key=2&ci=4","normalized_country_code":"US"}`),
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestRecord(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/records", clickRecord("test.com"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	si := body["interaction"].(map[string]interface{})
	assert.Equal(t, "click", si["interaction_type"])
	assert.Contains(t, si["reporting_url"], "os-family=Linux")
	assert.Contains(t, si["reporting_url"], "product-version=firefox_96.0")
}

func TestIngestRecordFailure(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/records", clickRecord("unknown.example.com"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fail := decode(t, rec)["failure"].(map[string]interface{})
	assert.Equal(t, "invalid_url", fail["error_type"])
	assert.Equal(t, "parse_reporting_url", fail["stage"])
}

func TestIngestRecordBadJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/records/batch", []event.Record{clickRecord("test.com"), clickRecord("test.com")})
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 2, body["queued"])

	rec = f.do(t, http.MethodPost, "/v1/records/batch", []event.Record{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/records/batch", make([]event.Record, 101))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestBatchSync(t *testing.T) {
	f := newFixture(t)

	batch := []event.Record{clickRecord("test.com"), clickRecord("evil.example.com"), clickRecord("sub.test.com")}
	rec := f.do(t, http.MethodPost, "/v1/records/batch?sync=true", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["successes"], 2)
	assert.Len(t, body["failures"], 1)
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/records", clickRecord("test.com"))

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "enricher_records_processed_total")
	assert.Contains(t, rec.Body.String(), "enricher_doctype_counter_total")
}

func TestConfigReload(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "contextual_services", decode(t, rec)["mode"])

	require.NoError(t, os.WriteFile(f.configPath, []byte(configYAML("geo", f.allowList)), 0o644))
	rec = f.do(t, http.MethodPost, "/v1/config/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, engine.ModeGeo, f.engine.Stage().Mode())

	require.NoError(t, os.WriteFile(f.configPath, []byte("version: v2\nengine: {mode: batch}\n"), 0o644))
	rec = f.do(t, http.MethodPost, "/v1/config/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, engine.ModeGeo, f.engine.Stage().Mode(), "invalid config keeps the previous stage")

	missing := filepath.Join(t.TempDir(), "missing.csv")
	require.NoError(t, os.WriteFile(f.configPath, []byte(configYAML("contextual_services", missing)), 0o644))
	rec = f.do(t, http.MethodPost, "/v1/config/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, engine.ModeGeo, f.engine.Stage().Mode(), "unbuildable config keeps the previous stage")

	rec = f.do(t, http.MethodGet, "/v1/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shown := decode(t, rec)
	assert.Equal(t, "geo", shown["mode"])
	engineConf := shown["engine"].(map[string]interface{})
	assert.Equal(t, "geo", engineConf["Mode"], "reported config is the one serving requests")
}
