package models

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidRule   = errors.New("invalid proxy rule")
	ErrEmptyPrefix   = fmt.Errorf("%w: prefix is empty", ErrInvalidRule)
	ErrInvalidTarget = fmt.Errorf("%w: target must be an absolute http(s) or ws(s) URL", ErrInvalidRule)
	ErrInvalidRegexp = fmt.Errorf("%w: pattern does not compile", ErrInvalidRule)
)

// RewriteRule replaces the first match of Pattern in the request URI with Replace.
type RewriteRule struct {
	Pattern string `json:"pattern" mapstructure:"pattern" yaml:"pattern" example:"^/api"`
	Replace string `json:"replace" mapstructure:"replace" yaml:"replace" example:""`
}

// ProxyRule forwards every request whose URI matches Prefix to Target.
// A Prefix starting with "^" is a regular expression, anything else is a literal prefix.
type ProxyRule struct {
	Prefix          string            `json:"prefix" mapstructure:"prefix" yaml:"prefix" example:"/api"`
	Target          string            `json:"target" mapstructure:"target" yaml:"target" example:"https://script.google.com/macros/s/XYZ/exec"`
	ChangeOrigin    bool              `json:"change_origin" mapstructure:"change_origin" yaml:"change_origin"`
	Rewrite         *RewriteRule      `json:"rewrite,omitempty" mapstructure:"rewrite" yaml:"rewrite,omitempty"`
	StripPrefix     bool              `json:"strip_prefix" mapstructure:"strip_prefix" yaml:"strip_prefix"`
	Headers         map[string]string `json:"headers,omitempty" mapstructure:"headers" yaml:"headers,omitempty"`
	Secure          *bool             `json:"secure,omitempty" mapstructure:"secure" yaml:"secure,omitempty"`
	WS              bool              `json:"ws" mapstructure:"ws" yaml:"ws"`
	FollowRedirects bool              `json:"follow_redirects" mapstructure:"follow_redirects" yaml:"follow_redirects"`
	Timeout         time.Duration     `json:"timeout,omitempty" mapstructure:"timeout" yaml:"timeout,omitempty" swaggertype:"string" example:"30s"`
}

// IsRegexp reports whether the rule key is a regular expression.
func (r ProxyRule) IsRegexp() bool {
	return strings.HasPrefix(r.Prefix, "^")
}

// VerifyTLS reports whether upstream certificates are checked. Unset means yes.
func (r ProxyRule) VerifyTLS() bool {
	return r.Secure == nil || *r.Secure
}

// Validate checks the rule shape. Errors wrap ErrInvalidRule.
func (r ProxyRule) Validate() error {
	if strings.TrimSpace(r.Prefix) == "" {
		return ErrEmptyPrefix
	}
	if r.IsRegexp() {
		if _, err := regexp.Compile(r.Prefix); err != nil {
			return fmt.Errorf("%w: prefix %q: %v", ErrInvalidRegexp, r.Prefix, err)
		}
	} else if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("%w: prefix %q must start with /", ErrInvalidRule, r.Prefix)
	}

	u, err := url.Parse(r.Target)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, r.Target)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}

	if r.Rewrite != nil {
		if _, err := regexp.Compile(r.Rewrite.Pattern); err != nil {
			return fmt.Errorf("%w: rewrite %q: %v", ErrInvalidRegexp, r.Rewrite.Pattern, err)
		}
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be non-negative", ErrInvalidRule)
	}
	return nil
}

// RouteTestRequest is the body of POST /routes/test.
type RouteTestRequest struct {
	Path string `json:"path" example:"/api/exec?id=5" binding:"required"`
}

// RouteTestResult describes how a request URI would be forwarded.
type RouteTestResult struct {
	Path       string `json:"path" example:"/api/exec?id=5"`
	Matched    bool   `json:"matched"`
	Prefix     string `json:"prefix,omitempty" example:"/api"`
	Rewritten  string `json:"rewritten,omitempty" example:"/exec?id=5"`
	ForwardURL string `json:"forward_url,omitempty" example:"https://script.google.com/macros/s/XYZ/exec/exec?id=5"`
}
