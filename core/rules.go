package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"devgate/models"
)

// Route is a validated ProxyRule with everything needed to forward a request.
type Route struct {
	Rule      models.ProxyRule
	Target    *url.URL
	Rewriter  *PathRewriter
	Transport http.RoundTripper

	matcher *regexp.Regexp
}

// NewRoute validates rule and prepares its target, rewriter and transport.
func NewRoute(rule models.ProxyRule) (*Route, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	target, err := url.Parse(rule.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", rule.Target, err)
	}
	switch strings.ToLower(target.Scheme) {
	case "ws":
		target.Scheme = "http"
	case "wss":
		target.Scheme = "https"
	}

	r := &Route{Rule: rule, Target: target}
	if rule.IsRegexp() {
		r.matcher = regexp.MustCompile(rule.Prefix)
	}

	switch {
	case rule.Rewrite != nil:
		r.Rewriter, err = NewPathRewriter(*rule.Rewrite)
		if err != nil {
			return nil, err
		}
	case rule.StripPrefix && r.matcher != nil:
		r.Rewriter = &PathRewriter{re: r.matcher}
	case rule.StripPrefix:
		r.Rewriter = StripPrefix(rule.Prefix)
	}

	r.Transport = newRouteTransport(rule)
	return r, nil
}

// Matches reports whether the request URI falls under this route.
func (r *Route) Matches(uri string) bool {
	if r.matcher != nil {
		return r.matcher.MatchString(uri)
	}
	return strings.HasPrefix(uri, r.Rule.Prefix)
}

// Forward returns the rewritten URI and the absolute URL it is sent to.
func (r *Route) Forward(uri string) (string, *url.URL, error) {
	rewritten := r.Rewriter.Rewrite(uri)
	u, err := JoinTarget(r.Target, rewritten)
	if err != nil {
		return rewritten, nil, err
	}
	return rewritten, u, nil
}

// TargetOrigin is scheme://host of the target, the value Origin is rewritten to.
func (r *Route) TargetOrigin() string {
	return r.Target.Scheme + "://" + r.Target.Host
}

func newRouteTransport(rule models.ProxyRule) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if !rule.VerifyTLS() {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if rule.Timeout > 0 {
		base.ResponseHeaderTimeout = rule.Timeout
	}

	var rt http.RoundTripper = base
	if rule.FollowRedirects {
		rt = &redirectTransport{base: rt, max: maxRedirects}
	}
	return rt
}

// RuleTable resolves request URIs to routes. Literal prefixes are tried longest first,
// then regular-expression keys in lexical order.
type RuleTable struct {
	literal []*Route
	regex   []*Route
}

// NewRuleTable builds a table from a prefix -> rule map. The map key becomes the rule prefix.
func NewRuleTable(rules map[string]models.ProxyRule) (*RuleTable, error) {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := &RuleTable{}
	for _, key := range keys {
		rule := rules[key]
		rule.Prefix = key
		route, err := NewRoute(rule)
		if err != nil {
			return nil, fmt.Errorf("proxy rule %q: %w", key, err)
		}
		if route.matcher != nil {
			t.regex = append(t.regex, route)
		} else {
			t.literal = append(t.literal, route)
		}
	}
	sort.SliceStable(t.literal, func(i, j int) bool {
		return len(t.literal[i].Rule.Prefix) > len(t.literal[j].Rule.Prefix)
	})
	return t, nil
}

// Match returns the route for uri, if any.
func (t *RuleTable) Match(uri string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	for _, r := range t.literal {
		if r.Matches(uri) {
			return r, true
		}
	}
	for _, r := range t.regex {
		if r.Matches(uri) {
			return r, true
		}
	}
	return nil, false
}

// Routes lists every route sorted by prefix.
func (t *RuleTable) Routes() []*Route {
	if t == nil {
		return nil
	}
	out := make([]*Route, 0, len(t.literal)+len(t.regex))
	out = append(out, t.literal...)
	out = append(out, t.regex...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.Prefix < out[j].Rule.Prefix })
	return out
}

// Len is the number of routes.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.literal) + len(t.regex)
}

// Resolve explains how uri would be forwarded without sending anything.
func (t *RuleTable) Resolve(uri string) models.RouteTestResult {
	res := models.RouteTestResult{Path: uri}
	route, ok := t.Match(uri)
	if !ok {
		return res
	}
	res.Matched = true
	res.Prefix = route.Rule.Prefix
	rewritten, u, err := route.Forward(uri)
	res.Rewritten = rewritten
	if err == nil {
		res.ForwardURL = u.String()
	}
	return res
}
