package core

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"devgate/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scriptTarget = "https://script.google.com/macros/s/XYZ/exec"

func scriptRules() map[string]models.ProxyRule {
	return map[string]models.ProxyRule{
		"/api": {
			Target:       scriptTarget,
			ChangeOrigin: true,
			Rewrite:      &models.RewriteRule{Pattern: "^/api"},
		},
	}
}

func TestRuleTableMatchLiteralPrefix(t *testing.T) {
	table, err := NewRuleTable(scriptRules())
	require.NoError(t, err)

	for _, uri := range []string{"/api", "/api/exec?id=5", "/apiextra", "/apiary"} {
		route, ok := table.Match(uri)
		require.True(t, ok, uri)
		assert.Equal(t, "/api", route.Rule.Prefix)
	}

	_, ok := table.Match("/index.html")
	assert.False(t, ok)
	_, ok = table.Match("/v1/api")
	assert.False(t, ok)
}

func TestRuleTableLongestPrefixWins(t *testing.T) {
	table, err := NewRuleTable(map[string]models.ProxyRule{
		"/api":       {Target: "http://one.local"},
		"/api/admin": {Target: "http://two.local"},
		"^/v[0-9]+/": {Target: "http://three.local", StripPrefix: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	route, ok := table.Match("/api/admin/users")
	require.True(t, ok)
	assert.Equal(t, "/api/admin", route.Rule.Prefix)

	route, ok = table.Match("/api/users")
	require.True(t, ok)
	assert.Equal(t, "/api", route.Rule.Prefix)

	route, ok = table.Match("/v2/users")
	require.True(t, ok)
	assert.Equal(t, "^/v[0-9]+/", route.Rule.Prefix)
	rewritten, u, err := route.Forward("/v2/users")
	require.NoError(t, err)
	assert.Equal(t, "users", rewritten)
	assert.Equal(t, "http://three.local/users", u.String())

	prefixes := []string{}
	for _, r := range table.Routes() {
		prefixes = append(prefixes, r.Rule.Prefix)
	}
	assert.Equal(t, []string{"/api", "/api/admin", "^/v[0-9]+/"}, prefixes)
}

func TestRuleTableRejectsInvalidRule(t *testing.T) {
	_, err := NewRuleTable(map[string]models.ProxyRule{
		"/ok":  {Target: "http://localhost"},
		"/bad": {Target: "not a url"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidRule)
	assert.Contains(t, err.Error(), `"/bad"`)
}

func TestRuleTableResolve(t *testing.T) {
	table, err := NewRuleTable(scriptRules())
	require.NoError(t, err)

	res := table.Resolve("/api/exec?id=5")
	assert.True(t, res.Matched)
	assert.Equal(t, "/api", res.Prefix)
	assert.Equal(t, "/exec?id=5", res.Rewritten)
	assert.Equal(t, scriptTarget+"/exec?id=5", res.ForwardURL)

	res = table.Resolve("/api?action=list")
	assert.Equal(t, "?action=list", res.Rewritten)
	assert.Equal(t, scriptTarget+"?action=list", res.ForwardURL)

	res = table.Resolve("/assets/app.js")
	assert.False(t, res.Matched)
	assert.Empty(t, res.ForwardURL)
}

func TestRouteWithoutRewriteKeepsPath(t *testing.T) {
	route, err := NewRoute(models.ProxyRule{Prefix: "/api", Target: "http://backend.local:8080"})
	require.NoError(t, err)
	rewritten, u, err := route.Forward("/api/users")
	require.NoError(t, err)
	assert.Equal(t, "/api/users", rewritten)
	assert.Equal(t, "http://backend.local:8080/api/users", u.String())
}

func TestRouteWebsocketTargetUsesHTTPScheme(t *testing.T) {
	route, err := NewRoute(models.ProxyRule{Prefix: "/ws", Target: "wss://socket.local/hub", WS: true})
	require.NoError(t, err)
	assert.Equal(t, "https", route.Target.Scheme)
	assert.Equal(t, "https://socket.local", route.TargetOrigin())
}

func TestNilRuleTable(t *testing.T) {
	var table *RuleTable
	_, ok := table.Match("/api")
	assert.False(t, ok)
	assert.Zero(t, table.Len())
	assert.Nil(t, table.Routes())
}

func TestRedirectTransportFollowsGet(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"q":"`+r.URL.RawQuery+`"}`)
	}))
	defer final.Close()

	hops := 0
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, final.URL+"/echo?user_content_key=abc", http.StatusFound)
	}))
	defer origin.Close()

	rt := &redirectTransport{base: http.DefaultTransport, max: maxRedirects}
	req := httptest.NewRequest(http.MethodGet, origin.URL+"/exec", nil)
	req.RequestURI = ""
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"q":"user_content_key=abc"}`, string(body))
	assert.Equal(t, 1, hops)
}

func TestRedirectTransportLeavesPostAlone(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer origin.Close()

	rt := &redirectTransport{base: http.DefaultTransport, max: maxRedirects}
	req := httptest.NewRequest(http.MethodPost, origin.URL+"/exec", nil)
	req.RequestURI = ""
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestRedirectTransportStopsLoops(t *testing.T) {
	var loop *httptest.Server
	loop = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, loop.URL+"/again", http.StatusTemporaryRedirect)
	}))
	defer loop.Close()

	rt := &redirectTransport{base: http.DefaultTransport, max: 3}
	req := httptest.NewRequest(http.MethodGet, loop.URL+"/start", nil)
	req.RequestURI = ""
	_, err := rt.RoundTrip(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, errTooManyRedirects)
}

func TestRedirectTransportDropsCredentialsAcrossHosts(t *testing.T) {
	var got http.Header
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "ok")
	}))
	defer other.Close()

	var sameHostCookie string
	var origin *httptest.Server
	origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exec":
			http.Redirect(w, r, "/local", http.StatusFound)
		case "/local":
			sameHostCookie = r.Header.Get("Cookie")
			http.Redirect(w, r, other.URL+"/content", http.StatusFound)
		}
	}))
	defer origin.Close()

	rt := &redirectTransport{base: http.DefaultTransport, max: maxRedirects}
	req := httptest.NewRequest(http.MethodGet, origin.URL+"/exec", nil)
	req.RequestURI = ""
	req.Header.Set("Cookie", "session=secret")
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Accept", "application/json")
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "session=secret", sameHostCookie, "same-host hops keep credentials")
	require.NotNil(t, got)
	assert.Empty(t, got.Get("Cookie"))
	assert.Empty(t, got.Get("Authorization"))
	assert.Empty(t, got.Get("Proxy-Authorization"))
	assert.Equal(t, "application/json", got.Get("Accept"))
}
