package core

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"devgate/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "about"), []byte("plain about"), 0o644))
	return dir
}

func TestBuildPluginsUnknown(t *testing.T) {
	quietLogs(t)
	_, err := BuildPlugins(PluginContext{}, []models.PluginSpec{{Name: "tailwind"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown plugin "tailwind"`)
	assert.Contains(t, err.Error(), "spa")
}

func TestBuildPluginsKeepsOrder(t *testing.T) {
	quietLogs(t)
	plugins, err := BuildPlugins(PluginContext{StaticDir: t.TempDir()}, []models.PluginSpec{
		{Name: "nocache"},
		{Name: "SPA"},
		{Name: "headers", Settings: map[string]interface{}{"X-Frame-Options": "DENY"}},
	})
	require.NoError(t, err)
	require.Len(t, plugins, 3)
	assert.Equal(t, "nocache", plugins[0].Name())
	assert.Equal(t, "spa", plugins[1].Name())
	assert.Equal(t, "headers", plugins[2].Name())
}

func TestChainPluginsOrder(t *testing.T) {
	var seen []string
	mk := func(name string) Plugin { return orderPlugin{name: name, seen: &seen} }
	h := ChainPlugins([]Plugin{mk("first"), mk("second")}, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		seen = append(seen, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, seen)
}

type orderPlugin struct {
	name string
	seen *[]string
}

func (p orderPlugin) Name() string { return p.name }

func (p orderPlugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*p.seen = append(*p.seen, p.name)
		next.ServeHTTP(w, r)
	})
}

func TestSPAPluginFallback(t *testing.T) {
	quietLogs(t)
	dir := staticDir(t)
	plugins, err := BuildPlugins(PluginContext{StaticDir: dir}, []models.PluginSpec{{Name: "spa"}})
	require.NoError(t, err)
	h := ChainPlugins(plugins, http.FileServer(http.Dir(dir)))

	tests := []struct {
		name     string
		method   string
		path     string
		accept   string
		wantCode int
		wantBody string
	}{
		{"client route", http.MethodGet, "/dashboard/settings", "text/html", http.StatusOK, "<html>app</html>"},
		{"no accept header", http.MethodGet, "/profile", "", http.StatusOK, "<html>app</html>"},
		{"existing asset", http.MethodGet, "/assets/app.js", "*/*", http.StatusOK, "console.log(1)"},
		{"missing asset keeps 404", http.MethodGet, "/assets/missing.js", "*/*", http.StatusNotFound, ""},
		{"existing extension-less file", http.MethodGet, "/about", "text/html", http.StatusOK, "plain about"},
		{"json client", http.MethodGet, "/dashboard", "application/json", http.StatusNotFound, ""},
		{"post is not rewritten", http.MethodPost, "/dashboard", "text/html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestSPAPluginRequiresStaticDir(t *testing.T) {
	_, err := BuildPlugins(PluginContext{}, []models.PluginSpec{{Name: "spa"}})
	require.Error(t, err)
}

func TestCORSPlugin(t *testing.T) {
	quietLogs(t)
	plugins, err := BuildPlugins(PluginContext{}, []models.PluginSpec{{
		Name:     "cors",
		Settings: map[string]interface{}{"allowed_origins": []interface{}{"http://localhost:3000"}},
	}})
	require.NoError(t, err)
	var reached bool
	h := ChainPlugins(plugins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, reached)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"), "credentials are opt-in")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	reached = false
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.False(t, reached)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORSPluginCredentials(t *testing.T) {
	quietLogs(t)
	tests := []struct {
		name        string
		settings    map[string]interface{}
		origin      string
		wantOrigin  string
		wantCredsOn bool
	}{
		{"default wildcard", nil, "http://evil.example", "*", false},
		{"wildcard with credentials stays anonymous", map[string]interface{}{"allow_credentials": true}, "http://evil.example", "*", false},
		{"listed origin with credentials", map[string]interface{}{
			"allowed_origins":   []interface{}{"http://localhost:3000", "*"},
			"allow_credentials": "true",
		}, "http://localhost:3000", "http://localhost:3000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugins, err := BuildPlugins(PluginContext{}, []models.PluginSpec{{Name: "cors", Settings: tt.settings}})
			require.NoError(t, err)
			h := ChainPlugins(plugins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantCredsOn {
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestNoCacheAndHeadersPlugins(t *testing.T) {
	quietLogs(t)
	plugins, err := BuildPlugins(PluginContext{}, []models.PluginSpec{
		{Name: "nocache"},
		{Name: "headers", Settings: map[string]interface{}{"X-Dev-Server": "devgate"}},
	})
	require.NoError(t, err)
	h := ChainPlugins(plugins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/main.css", nil)
	req.Header.Set("If-None-Match", `"abc"`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "devgate", rec.Header().Get("X-Dev-Server"))
}

func TestHeadersPluginRequiresSettings(t *testing.T) {
	_, err := BuildPlugins(PluginContext{}, []models.PluginSpec{{Name: "headers"}})
	require.Error(t, err)
}
