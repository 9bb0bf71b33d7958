package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devgate/core"
	"devgate/database"
	"devgate/logger"
	"devgate/models"
	"devgate/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRules struct{ table *core.RuleTable }

func (s staticRules) Table() *core.RuleTable { return s.table }

func newTestRouter(t *testing.T, withDB bool, onExclusions func([]models.RecordExclusionRule)) http.Handler {
	t.Helper()
	logger.InitWriters(io.Discard, io.Discard, io.Discard, "ERROR")
	t.Cleanup(logger.CloseLogFiles)

	table, err := core.NewRuleTable(map[string]models.ProxyRule{
		"/api": {
			Target:       "https://script.google.com/macros/s/XYZ/exec",
			ChangeOrigin: true,
			Rewrite:      &models.RewriteRule{Pattern: "^/api"},
		},
		"^/v[0-9]+/": {Target: "http://localhost:8080", StripPrefix: true},
	})
	require.NoError(t, err)

	if withDB {
		require.NoError(t, database.InitDB(filepath.Join(t.TempDir(), "devgate.db")))
		t.Cleanup(func() { database.CloseDB() })
	} else {
		database.CloseDB()
	}
	return NewRouter(Options{Rules: staticRules{table}, OnExclusionsChanged: onExclusions})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersion(t *testing.T) {
	h := newTestRouter(t, false, nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"`+version.AppVersion+`"}`, rec.Body.String())
}

func TestListRoutes(t *testing.T) {
	h := newTestRouter(t, false, nil)
	rec := do(t, h, http.MethodGet, "/routes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []models.ProxyRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 2)
	assert.Equal(t, "/api", rules[0].Prefix)
	assert.True(t, rules[0].ChangeOrigin)
	assert.Equal(t, "^/v[0-9]+/", rules[1].Prefix)
}

func TestRouteTest(t *testing.T) {
	h := newTestRouter(t, false, nil)

	tests := []struct {
		path string
		want models.RouteTestResult
	}{
		{"/api/exec?id=5", models.RouteTestResult{
			Path: "/api/exec?id=5", Matched: true, Prefix: "/api", Rewritten: "/exec?id=5",
			ForwardURL: "https://script.google.com/macros/s/XYZ/exec/exec?id=5",
		}},
		{"/apiextra", models.RouteTestResult{
			Path: "/apiextra", Matched: true, Prefix: "/api", Rewritten: "/extra",
			ForwardURL: "https://script.google.com/macros/s/XYZ/exec/extra",
		}},
		{"/v2/users", models.RouteTestResult{
			Path: "/v2/users", Matched: true, Prefix: "^/v[0-9]+/", Rewritten: "users",
			ForwardURL: "http://localhost:8080/users",
		}},
		{"index.html", models.RouteTestResult{Path: "/index.html"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			body, _ := json.Marshal(models.RouteTestRequest{Path: tt.path})
			rec := do(t, h, http.MethodPost, "/routes/test", string(body))
			require.Equal(t, http.StatusOK, rec.Code)
			var got models.RouteTestResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	rec := do(t, h, http.MethodPost, "/routes/test", `{"path":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/routes/test", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrafficRequiresDatabase(t *testing.T) {
	h := newTestRouter(t, false, nil)
	for _, path := range []string{"/traffic", "/traffic/abc", "/settings/record-exclusions"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func seedTraffic(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, database.InsertTraffic(ctx, &models.TrafficEntry{
		ID: "first", Timestamp: base, Mode: core.ModeReverse, RulePrefix: "/api", Method: "GET",
		OriginalURL: "/api/exec?id=1", ForwardURL: "https://script.google.com/macros/s/XYZ/exec/exec?id=1",
		StatusCode: 200, ResponseBody: []byte(`{"data":{"items":[{"name":"a"},{"name":"b"}]}}`),
		ResponseHeaders: models.NullString(`{"Content-Type":["application/json"]}`),
		ContentType:     models.NullString("application/json"),
	}))
	require.NoError(t, database.InsertTraffic(ctx, &models.TrafficEntry{
		ID: "second", Timestamp: base.Add(time.Minute), Mode: core.ModeReverse, RulePrefix: "/api", Method: "POST",
		OriginalURL: "/api/exec", StatusCode: 502, ResponseBody: []byte("<html>bad gateway</html>"),
		Error: models.NullString("connection refused"),
	}))
}

func TestTrafficEndpoints(t *testing.T) {
	h := newTestRouter(t, true, nil)
	seedTraffic(t)

	rec := do(t, h, http.MethodGet, "/traffic?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Page         int                     `json:"page"`
		TotalRecords int64                   `json:"total_records"`
		TotalPages   int                     `json:"total_pages"`
		Records      []models.TrafficSummary `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.EqualValues(t, 2, page.TotalRecords)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "second", page.Records[0].ID)
	assert.Equal(t, "connection refused", page.Records[0].Error)

	rec = do(t, h, http.MethodGet, "/traffic?status=200", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, "first", page.Records[0].ID)

	rec = do(t, h, http.MethodGet, "/traffic?status=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/traffic/first", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail models.TrafficDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "/api/exec?id=1", detail.OriginalURL)
	assert.Contains(t, detail.ResponseBody, `"items"`)
	assert.JSONEq(t, `{"Content-Type":["application/json"]}`, string(detail.ResponseHeaders))

	rec = do(t, h, http.MethodGet, "/traffic/first?field=data.items.%23.name", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"first","field":"data.items.#.name","value":["a","b"]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/traffic/first?field=data.missing", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/traffic/second?field=data", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not JSON")

	rec = do(t, h, http.MethodGet, "/traffic/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/traffic", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())
}

func TestRecordExclusionSettings(t *testing.T) {
	var applied []models.RecordExclusionRule
	h := newTestRouter(t, true, func(rules []models.RecordExclusionRule) { applied = rules })

	rec := do(t, h, http.MethodGet, "/settings/record-exclusions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	body := `[{"id":"maps","rule_type":"file_extension","pattern":".map","is_enabled":true}]`
	rec = do(t, h, http.MethodPut, "/settings/record-exclusions", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applied, 1)
	assert.Equal(t, ".map", applied[0].Pattern)

	rec = do(t, h, http.MethodGet, "/settings/record-exclusions", "")
	assert.JSONEq(t, `[{"id":"maps","rule_type":"file_extension","pattern":".map","description":"","is_enabled":true}]`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/settings/record-exclusions", `[{"id":"bad","rule_type":"url_regex","pattern":"(","is_enabled":true}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/settings/record-exclusions", `[{"id":"bad","rule_type":"glob","pattern":"*","is_enabled":true}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSwaggerDocument(t *testing.T) {
	h := newTestRouter(t, false, nil)
	rec := do(t, h, http.MethodGet, "/swagger.json", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "2.0", doc["swagger"])
	assert.Equal(t, "/__devgate/api", doc["basePath"])
	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/routes/test")
	assert.Contains(t, paths, "/traffic/{id}")
}

func TestRateLimit(t *testing.T) {
	logger.InitWriters(io.Discard, io.Discard, io.Discard, "ERROR")
	t.Cleanup(logger.CloseLogFiles)
	h := NewRouter(Options{Rules: staticRules{}, RateLimit: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	}
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t, false, nil)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "").Code)
}
