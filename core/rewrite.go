package core

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"devgate/models"
)

// PathRewriter replaces the first match of a pattern in a request URI.
// A nil *PathRewriter leaves every URI untouched.
type PathRewriter struct {
	re      *regexp.Regexp
	replace string
}

// NewPathRewriter compiles a rewrite rule. Replace may reference groups as $1 or ${name}.
func NewPathRewriter(rule models.RewriteRule) (*PathRewriter, error) {
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile rewrite pattern %q: %w", rule.Pattern, err)
	}
	return &PathRewriter{re: re, replace: rule.Replace}, nil
}

// StripPrefix removes prefix when the URI starts with it. The match is anchored at the start of
// the string only, so "/apiextra" loses "/api" as well.
func StripPrefix(prefix string) *PathRewriter {
	return &PathRewriter{re: regexp.MustCompile("^" + regexp.QuoteMeta(prefix))}
}

// Rewrite applies one replacement and returns the result.
func (p *PathRewriter) Rewrite(uri string) string {
	if p == nil || p.re == nil {
		return uri
	}
	loc := p.re.FindStringSubmatchIndex(uri)
	if loc == nil {
		return uri
	}
	dst := p.re.ExpandString(nil, p.replace, uri, loc)
	return uri[:loc[0]] + string(dst) + uri[loc[1]:]
}

// String returns the pattern, for listings.
func (p *PathRewriter) String() string {
	if p == nil || p.re == nil {
		return ""
	}
	return fmt.Sprintf("%s -> %q", p.re.String(), p.replace)
}

// JoinTarget appends a rewritten request URI to target. Paths are joined with exactly one slash;
// the target's own query comes first.
func JoinTarget(target *url.URL, rewritten string) (*url.URL, error) {
	reqPath, reqQuery, _ := strings.Cut(rewritten, "?")

	base := target.EscapedPath()
	var joined string
	switch {
	case reqPath == "":
		joined = base
	case base == "":
		joined = reqPath
	default:
		joined = singleJoiningSlash(base, reqPath)
	}
	if joined == "" {
		joined = "/"
	} else if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}

	query := target.RawQuery
	if reqQuery != "" {
		if query == "" {
			query = reqQuery
		} else {
			query = query + "&" + reqQuery
		}
	}

	raw := joined
	if query != "" {
		raw += "?" + query
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse forwarded uri %q: %w", raw, err)
	}

	out := *target
	out.Path = ref.Path
	out.RawPath = ref.RawPath
	out.RawQuery = ref.RawQuery
	out.Fragment = ""
	out.RawFragment = ""
	return &out, nil
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
