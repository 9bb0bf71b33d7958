package core

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"devgate/logger"
	"devgate/models"

	"github.com/spf13/cast"
)

// Plugin contributes a middleware around the static file handler.
type Plugin interface {
	Name() string
	Middleware(next http.Handler) http.Handler
}

// PluginContext is what a plugin factory may need to know about the server.
type PluginContext struct {
	StaticDir string
	Index     string
}

type PluginFactory func(pc PluginContext, settings map[string]interface{}) (Plugin, error)

var (
	pluginsMu sync.RWMutex
	factories = map[string]PluginFactory{}
)

// RegisterPlugin makes a plugin available by name. Registering a name twice replaces it.
func RegisterPlugin(name string, factory PluginFactory) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	factories[strings.ToLower(name)] = factory
}

// PluginNames lists the registered plugin names.
func PluginNames() []string {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildPlugins instantiates specs in order. An unknown name is an error.
func BuildPlugins(pc PluginContext, specs []models.PluginSpec) ([]Plugin, error) {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()

	out := make([]Plugin, 0, len(specs))
	for _, spec := range specs {
		factory, ok := factories[strings.ToLower(spec.Name)]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q (available: %s)", spec.Name, strings.Join(sortedKeys(factories), ", "))
		}
		p, err := factory(pc, spec.Settings)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: %w", spec.Name, err)
		}
		logger.Info("Registered plugin %s", p.Name())
		out = append(out, p)
	}
	return out, nil
}

func sortedKeys(m map[string]PluginFactory) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChainPlugins wraps h so that plugins[0] sees the request first.
func ChainPlugins(plugins []Plugin, h http.Handler) http.Handler {
	for i := len(plugins) - 1; i >= 0; i-- {
		h = plugins[i].Middleware(h)
	}
	return h
}

func init() {
	RegisterPlugin("spa", newSPAPlugin)
	RegisterPlugin("cors", newCORSPlugin)
	RegisterPlugin("nocache", newNoCachePlugin)
	RegisterPlugin("headers", newHeadersPlugin)
}

// spaPlugin serves the index document for client-side routes: GET or HEAD requests for
// extension-less paths that have no file in the static directory.
type spaPlugin struct {
	root  string
	index string
}

func newSPAPlugin(pc PluginContext, settings map[string]interface{}) (Plugin, error) {
	index := pc.Index
	if v, ok := settings["index"]; ok {
		index = cast.ToString(v)
	}
	if index == "" {
		index = "index.html"
	}
	if pc.StaticDir == "" {
		return nil, fmt.Errorf("static directory is not configured")
	}
	return &spaPlugin{root: pc.StaticDir, index: index}, nil
}

func (p *spaPlugin) Name() string { return "spa" }

func (p *spaPlugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method != http.MethodGet && r.Method != http.MethodHead) || path.Ext(r.URL.Path) != "" || !acceptsHTML(r) {
			next.ServeHTTP(w, r)
			return
		}
		clean := path.Clean("/" + r.URL.Path)
		if _, err := os.Stat(filepath.Join(p.root, filepath.FromSlash(clean))); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		logger.Debug("spa: history fallback for %s", r.URL.Path)
		http.ServeFile(w, r, filepath.Join(p.root, p.index))
	})
}

func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "" || strings.Contains(accept, "text/html") || strings.Contains(accept, "*/*")
}

type corsPlugin struct {
	origins     []string
	methods     string
	headers     string
	credentials bool
}

func newCORSPlugin(_ PluginContext, settings map[string]interface{}) (Plugin, error) {
	p := &corsPlugin{
		origins: []string{"*"},
		methods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		headers: "Content-Type, Authorization",
	}
	if v, ok := settings["allowed_origins"]; ok {
		p.origins = cast.ToStringSlice(v)
	}
	if v, ok := settings["allowed_methods"]; ok {
		p.methods = strings.Join(cast.ToStringSlice(v), ", ")
	}
	if v, ok := settings["allowed_headers"]; ok {
		p.headers = strings.Join(cast.ToStringSlice(v), ", ")
	}
	if v, ok := settings["allow_credentials"]; ok {
		p.credentials = cast.ToBool(v)
	}
	return p, nil
}

func (p *corsPlugin) Name() string { return "cors" }

func (p *corsPlugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		switch {
		case origin == "":
		case isOriginListed(origin, p.origins):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if p.credentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		case isOriginAllowed(origin, p.origins):
			// A wildcard match never carries credentials.
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", p.methods)
		w.Header().Set("Access-Control-Allow-Headers", p.headers)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isOriginListed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

type noCachePlugin struct{}

func newNoCachePlugin(PluginContext, map[string]interface{}) (Plugin, error) {
	return noCachePlugin{}, nil
}

func (noCachePlugin) Name() string { return "nocache" }

func (noCachePlugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		r.Header.Del("If-Modified-Since")
		r.Header.Del("If-None-Match")
		next.ServeHTTP(w, r)
	})
}

type headersPlugin struct {
	headers map[string]string
}

func newHeadersPlugin(_ PluginContext, settings map[string]interface{}) (Plugin, error) {
	h := cast.ToStringMapString(settings)
	if len(h) == 0 {
		return nil, fmt.Errorf("no headers configured")
	}
	return &headersPlugin{headers: h}, nil
}

func (p *headersPlugin) Name() string { return "headers" }

func (p *headersPlugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range p.headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
