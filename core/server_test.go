package core

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"devgate/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, upstreamURL string) *DevServer {
	t.Helper()
	dev := newTestProxy(t, map[string]models.ProxyRule{
		"/api": {Target: upstreamURL + "/exec", ChangeOrigin: true, Rewrite: &models.RewriteRule{Pattern: "^/api"}},
	}, nil)
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "admin:"+r.URL.Path)
	})
	srv, err := NewDevServer(dev, ServerOptions{
		StaticDir:   staticDir(t),
		AdminPrefix: "__devgate/",
		Admin:       admin,
		Plugins:     []models.PluginSpec{{Name: "spa"}, {Name: "nocache"}},
	})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDevServerRouting(t *testing.T) {
	quietLogs(t)
	upstream, seen := echoUpstream(t)
	h := newTestServer(t, upstream.URL).Handler()

	rec := get(t, h, "/api/items?id=7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"ok"}`, rec.Body.String())
	assert.Equal(t, "/exec/items?id=7", seen().RequestURI)
	assert.Empty(t, rec.Header().Get("Cache-Control"), "plugins only wrap static files")

	rec = get(t, h, "/api//double")
	require.Equal(t, http.StatusOK, rec.Code, "proxied paths are not cleaned")
	assert.Equal(t, "/exec//double", seen().RequestURI)

	rec = get(t, h, "/__devgate/api/health")
	assert.Equal(t, "admin:/health", rec.Body.String())

	rec = get(t, h, "/settings/profile")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>app</html>", rec.Body.String())
	assert.Equal(t, "no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	rec = get(t, h, "/assets/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = get(t, h, "/__devgate/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devgate_http_requests_total")
	assert.Contains(t, rec.Body.String(), `handler="proxy"`)
}

func TestDevServerAdminPrefixShadowsRules(t *testing.T) {
	quietLogs(t)
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	tests := []struct {
		name  string
		rules map[string]models.ProxyRule
	}{
		{"literal admin prefix", map[string]models.ProxyRule{"/__devgate": {Target: upstream.URL}}},
		{"catch-all literal", map[string]models.ProxyRule{"/": {Target: upstream.URL}}},
		{"regex over admin prefix", map[string]models.ProxyRule{"^/__": {Target: upstream.URL}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atomic.StoreInt32(&upstreamHits, 0)
			admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "admin:"+r.URL.Path)
			})
			srv, err := NewDevServer(newTestProxy(t, tt.rules, nil), ServerOptions{
				StaticDir:   staticDir(t),
				AdminPrefix: "/__devgate",
				Admin:       admin,
			})
			require.NoError(t, err)
			h := srv.Handler()

			rec := get(t, h, "/__devgate/api/health")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "admin:/health", rec.Body.String())

			rec = get(t, h, "/__devgate/metrics")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "devgate_http_requests_total")

			assert.Zero(t, atomic.LoadInt32(&upstreamHits), "admin paths never reach a proxy rule")

			rec = get(t, h, "/__devgatex/page")
			assert.Equal(t, "upstream:/__devgatex/page", rec.Body.String(), "only the exact admin segment is reserved")
		})
	}
}

func TestDevServerUnknownPlugin(t *testing.T) {
	quietLogs(t)
	dev := newTestProxy(t, scriptRules(), nil)
	_, err := NewDevServer(dev, ServerOptions{Plugins: []models.PluginSpec{{Name: "vue"}}})
	assert.Error(t, err)
}

func TestDevServerReload(t *testing.T) {
	quietLogs(t)
	upstream, _ := echoUpstream(t)
	srv := newTestServer(t, upstream.URL)
	h := srv.Handler()

	require.NoError(t, srv.proxy.Reload(map[string]models.ProxyRule{
		"/rpc": {Target: upstream.URL, StripPrefix: true},
	}))
	assert.Equal(t, http.StatusOK, get(t, h, "/rpc/x").Code)
	assert.Equal(t, "<html>app</html>", get(t, h, "/api/anything").Body.String(), "old rule is gone")

	err := srv.proxy.Reload(map[string]models.ProxyRule{"nope": {Target: upstream.URL}})
	require.ErrorIs(t, err, models.ErrInvalidRule)
	assert.Equal(t, http.StatusOK, get(t, h, "/rpc/x").Code, "failed reload keeps the active table")
}

func TestDevServerServeAndShutdown(t *testing.T) {
	quietLogs(t)
	upstream, _ := echoUpstream(t)
	srv := newTestServer(t, upstream.URL)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
