package core

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"devgate/logger"
)

const maxRedirects = 10

var errTooManyRedirects = errors.New("stopped after too many upstream redirects")

// credentialHeaders are dropped when a redirect leaves the host they were sent to.
var credentialHeaders = []string{"Authorization", "Proxy-Authorization", "Www-Authenticate", "Cookie", "Cookie2"}

// redirectTransport follows upstream redirects for GET and HEAD so the browser only sees
// the final response. Hosted script endpoints answer with a 302 to a different origin,
// which a browser would otherwise block.
type redirectTransport struct {
	base http.RoundTripper
	max  int
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return resp, err
	}

	current := req
	for hops := 0; isRedirect(resp.StatusCode); hops++ {
		loc, locErr := resp.Location()
		if locErr != nil {
			return resp, nil
		}
		if hops >= t.max {
			resp.Body.Close()
			return nil, fmt.Errorf("%w (%d)", errTooManyRedirects, t.max)
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()

		next := current.Clone(current.Context())
		next.URL = loc
		next.Host = ""
		next.RequestURI = ""
		next.Body = nil
		next.ContentLength = 0
		if !strings.EqualFold(loc.Host, current.URL.Host) {
			for _, h := range credentialHeaders {
				next.Header.Del(h)
			}
		}
		if next.Header.Get("Origin") != "" {
			next.Header.Set("Origin", loc.Scheme+"://"+loc.Host)
		}
		logger.ProxyDebug("Following upstream redirect %d for %s %s -> %s", resp.StatusCode, req.Method, current.URL, loc)

		resp, err = t.base.RoundTrip(next)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return resp, nil
}
