package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"devgate/logger"
	"devgate/models"
)

type proxyStateKey struct{}

// proxyState travels with the request from ServeHTTP into the ReverseProxy hooks.
type proxyState struct {
	route    *Route
	forward  *url.URL
	exchange *Exchange
}

func stateFrom(ctx context.Context) *proxyState {
	st, _ := ctx.Value(proxyStateKey{}).(*proxyState)
	return st
}

// DevProxy forwards requests matching the active rule table upstream.
// The table can be swapped while requests are in flight.
type DevProxy struct {
	table    atomic.Pointer[RuleTable]
	recorder *Recorder
	rp       *httputil.ReverseProxy
}

func NewDevProxy(table *RuleTable, recorder *Recorder) *DevProxy {
	p := &DevProxy{recorder: recorder}
	p.table.Store(table)
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      routeTransport{},
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
		FlushInterval:  100 * time.Millisecond,
	}
	return p
}

// Swap installs a new rule table.
func (p *DevProxy) Swap(table *RuleTable) {
	p.table.Store(table)
}

// Reload builds a table from rules and swaps it in. On error the active table is kept.
func (p *DevProxy) Reload(rules map[string]models.ProxyRule) error {
	table, err := NewRuleTable(rules)
	if err != nil {
		RecordRuleReload(false, 0)
		logger.Error("Reloading proxy rules: %v. Keeping %d active rule(s).", err, p.Table().Len())
		return err
	}
	p.Swap(table)
	RecordRuleReload(true, table.Len())
	logger.Info("Reloaded proxy rules: %d active.", table.Len())
	return nil
}

// Table returns the active rule table.
func (p *DevProxy) Table() *RuleTable {
	return p.table.Load()
}

// Match returns the route serving r, if any.
func (p *DevProxy) Match(r *http.Request) (*Route, bool) {
	return p.table.Load().Match(r.URL.RequestURI())
}

// Wrap sends matching requests upstream and everything else to next.
func (p *DevProxy) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := p.Match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p.serveRoute(w, r, route)
	})
}

func (p *DevProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := p.Match(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no proxy rule matches %s", r.URL.Path))
		return
	}
	p.serveRoute(w, r, route)
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func (p *DevProxy) serveRoute(w http.ResponseWriter, r *http.Request, route *Route) {
	prefix := route.Rule.Prefix
	uri := r.URL.RequestURI()

	if isUpgrade(r) && !route.Rule.WS {
		logger.ProxyInfo("REQ: %s %s - upgrade refused, rule %s has ws disabled.", r.Method, uri, prefix)
		proxyErrors.WithLabelValues(ModeReverse, prefix, "upgrade_refused").Inc()
		writeJSONError(w, http.StatusBadRequest, "websocket proxying is disabled for "+prefix)
		return
	}

	rewritten, forward, err := route.Forward(uri)
	if err != nil {
		logger.ProxyError("REQ: %s %s - cannot build forward URL: %v", r.Method, uri, err)
		proxyErrors.WithLabelValues(ModeReverse, prefix, "bad_forward_url").Inc()
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	st := &proxyState{
		route:    route,
		forward:  forward,
		exchange: p.recorder.Begin(r, ModeReverse, prefix, forward),
	}
	logger.ProxyInfo("REQ: %s %s -> %s (rule %s, rewritten %q)", r.Method, uri, forward, prefix, rewritten)
	p.rp.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), proxyStateKey{}, st)))
}

func (p *DevProxy) rewrite(pr *httputil.ProxyRequest) {
	st := stateFrom(pr.In.Context())
	out := *st.forward
	pr.Out.URL = &out
	pr.SetXForwarded()
	ApplyRule(pr.Out, st.route)

	if id := st.exchange.ID(); id != "" && pr.Out.Header.Get("X-Request-ID") == "" {
		pr.Out.Header.Set("X-Request-ID", id)
	}
	pr.Out.Body = st.exchange.TeeRequest(pr.Out.Body)
}

// ApplyRule rewrites Host and Origin for change_origin rules and sets the rule's extra headers.
// Without change_origin the incoming Host is kept.
func ApplyRule(out *http.Request, route *Route) {
	if route.Rule.ChangeOrigin {
		out.Host = ""
		if out.Header.Get("Origin") != "" {
			out.Header.Set("Origin", route.TargetOrigin())
		}
		if ref := out.Header.Get("Referer"); ref != "" {
			if u, err := url.Parse(ref); err == nil && u.IsAbs() {
				u.Scheme = route.Target.Scheme
				u.Host = route.Target.Host
				out.Header.Set("Referer", u.String())
			}
		}
	}
	for k, v := range route.Rule.Headers {
		out.Header.Set(k, v)
	}
}

func (p *DevProxy) modifyResponse(resp *http.Response) error {
	st := stateFrom(resp.Request.Context())
	if st == nil {
		return nil
	}
	proxyRequests.WithLabelValues(ModeReverse, st.route.Rule.Prefix, strconv.Itoa(resp.StatusCode)).Inc()
	logger.ProxyInfo("RESP: %d for %s %s (rule %s)", resp.StatusCode, resp.Request.Method, st.forward, st.route.Rule.Prefix)
	st.exchange.CaptureResponse(resp)
	return nil
}

func (p *DevProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	st := stateFrom(r.Context())
	status, kind := classifyUpstreamError(err)
	prefix := ""
	if st != nil {
		prefix = st.route.Rule.Prefix
		st.exchange.Fail(status, err)
	}
	proxyErrors.WithLabelValues(ModeReverse, prefix, kind).Inc()

	if errors.Is(err, context.Canceled) {
		logger.ProxyDebug("RESP: client went away for %s %s", r.Method, r.URL.RequestURI())
		return
	}
	logger.ProxyError("RESP: upstream error for %s %s (rule %s): %v", r.Method, r.URL.RequestURI(), prefix, err)
	writeJSONError(w, status, fmt.Sprintf("upstream request failed: %v", err))
}

// classifyUpstreamError maps a round-trip failure to a status code and metric label.
func classifyUpstreamError(err error) (int, string) {
	if errors.Is(err, context.Canceled) {
		return 499, "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return http.StatusGatewayTimeout, "timeout"
	}
	if errors.Is(err, errTooManyRedirects) {
		return http.StatusBadGateway, "redirect_loop"
	}
	return http.StatusBadGateway, "unreachable"
}

// routeTransport sends each request through the transport of the route it matched.
type routeTransport struct{}

func (routeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if st := stateFrom(req.Context()); st != nil && st.route.Transport != nil {
		return st.route.Transport.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Message: msg}); err != nil {
		logger.Error("Error encoding error response: %v", err)
	}
}
