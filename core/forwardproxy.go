package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"devgate/logger"
	"devgate/models"

	"github.com/elazarl/goproxy"
)

// ForwardProxyOptions limits which requests the forward proxy re-targets.
type ForwardProxyOptions struct {
	// Hosts restricts rule matching to these hostnames. Empty means every host.
	Hosts []string
	// Fallback answers requests addressed to the proxy itself rather than through it.
	Fallback http.Handler
	Verbose  bool
}

// ForwardProxy is an HTTP forward proxy that applies the dev proxy's rule table to
// requests passing through it. CONNECT tunnels are passed through without interception.
type ForwardProxy struct {
	dev   *DevProxy
	hosts map[string]bool
	proxy *goproxy.ProxyHttpServer
}

func NewForwardProxy(dev *DevProxy, opts ForwardProxyOptions) *ForwardProxy {
	fp := &ForwardProxy{dev: dev, hosts: map[string]bool{}}
	for _, h := range opts.Hosts {
		fp.hosts[strings.ToLower(h)] = true
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = logger.Printf{}
	proxy.Verbose = opts.Verbose
	if opts.Fallback != nil {
		proxy.NonproxyHandler = opts.Fallback
	}
	proxy.OnRequest().DoFunc(fp.onRequest)
	proxy.OnResponse().DoFunc(fp.onResponse)
	fp.proxy = proxy
	return fp
}

func (fp *ForwardProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fp.proxy.ServeHTTP(w, r)
}

func (fp *ForwardProxy) hostAllowed(host string) bool {
	return len(fp.hosts) == 0 || fp.hosts[strings.ToLower(host)]
}

func (fp *ForwardProxy) onRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !fp.hostAllowed(r.URL.Hostname()) {
		logger.ProxyDebug("REQ: %s %s - host not handled, passing through.", r.Method, r.URL)
		return r, nil
	}
	uri := r.URL.RequestURI()
	route, ok := fp.dev.Table().Match(uri)
	if !ok {
		logger.ProxyDebug("REQ: %s %s - no rule matched, passing through.", r.Method, r.URL)
		return r, nil
	}
	prefix := route.Rule.Prefix

	if isUpgrade(r) && !route.Rule.WS {
		proxyErrors.WithLabelValues(ModeForward, prefix, "upgrade_refused").Inc()
		return r, jsonResponse(r, http.StatusBadRequest, "websocket proxying is disabled for "+prefix)
	}

	rewritten, forward, err := route.Forward(uri)
	if err != nil {
		logger.ProxyError("REQ: %s %s - cannot build forward URL: %v", r.Method, r.URL, err)
		proxyErrors.WithLabelValues(ModeForward, prefix, "bad_forward_url").Inc()
		return r, jsonResponse(r, http.StatusBadGateway, err.Error())
	}

	st := &proxyState{
		route:    route,
		forward:  forward,
		exchange: fp.dev.recorder.Begin(r, ModeForward, prefix, forward),
	}
	logger.ProxyInfo("REQ: %s %s -> %s (rule %s, rewritten %q)", r.Method, r.URL, forward, prefix, rewritten)

	r.URL = forward
	ApplyRule(r, route)
	if id := st.exchange.ID(); id != "" && r.Header.Get("X-Request-ID") == "" {
		r.Header.Set("X-Request-ID", id)
	}
	r.Body = st.exchange.TeeRequest(r.Body)

	ctx.UserData = st
	if route.Transport != nil {
		ctx.RoundTripper = goproxy.RoundTripperFunc(func(req *http.Request, _ *goproxy.ProxyCtx) (*http.Response, error) {
			return route.Transport.RoundTrip(req)
		})
	}
	return r, nil
}

func (fp *ForwardProxy) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	st, ok := ctx.UserData.(*proxyState)
	if !ok || st == nil {
		return resp
	}
	prefix := st.route.Rule.Prefix

	if resp == nil {
		status, kind := classifyUpstreamError(ctx.Error)
		st.exchange.Fail(status, ctx.Error)
		proxyErrors.WithLabelValues(ModeForward, prefix, kind).Inc()
		logger.ProxyError("RESP: upstream error for %s %s (rule %s): %v", ctx.Req.Method, st.forward, prefix, ctx.Error)
		return jsonResponse(ctx.Req, status, fmt.Sprintf("upstream request failed: %v", ctx.Error))
	}

	proxyRequests.WithLabelValues(ModeForward, prefix, strconv.Itoa(resp.StatusCode)).Inc()
	logger.ProxyInfo("RESP: %d for %s %s (rule %s)", resp.StatusCode, ctx.Req.Method, st.forward, prefix)
	st.exchange.CaptureResponse(resp)
	return resp
}

func jsonResponse(r *http.Request, status int, msg string) *http.Response {
	body, _ := json.Marshal(models.ErrorResponse{Message: msg})
	return goproxy.NewResponse(r, "application/json", status, string(body))
}
