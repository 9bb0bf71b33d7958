package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"devgate/logger"
	"devgate/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOptions configures the dev server.
type ServerOptions struct {
	Addr        string
	StaticDir   string
	Index       string
	AdminPrefix string
	// Admin is mounted at AdminPrefix + "/api". Nil leaves only the metrics endpoint.
	Admin           http.Handler
	Plugins         []models.PluginSpec
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DevServer serves the admin surface, proxied routes and static files from one listener.
// Requests under the admin prefix never reach the proxy rules. Everything else is proxied
// when a rule matches and served from the static directory through the plugin chain otherwise.
type DevServer struct {
	opts    ServerOptions
	proxy   *DevProxy
	plugins []Plugin
	handler http.Handler
}

func NewDevServer(proxy *DevProxy, opts ServerOptions) (*DevServer, error) {
	if opts.StaticDir == "" {
		opts.StaticDir = "."
	}
	if opts.Index == "" {
		opts.Index = "index.html"
	}
	opts.AdminPrefix = "/" + strings.Trim(opts.AdminPrefix, "/")
	if opts.AdminPrefix == "/" {
		opts.AdminPrefix = "/__devgate"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	plugins, err := BuildPlugins(PluginContext{StaticDir: opts.StaticDir, Index: opts.Index}, opts.Plugins)
	if err != nil {
		return nil, err
	}

	s := &DevServer{opts: opts, proxy: proxy, plugins: plugins}

	admin := http.NewServeMux()
	if opts.Admin != nil {
		apiPrefix := opts.AdminPrefix + "/api"
		admin.Handle(apiPrefix+"/", http.StripPrefix(apiPrefix, opts.Admin))
	}
	admin.Handle(opts.AdminPrefix+"/metrics", promhttp.Handler())

	adminHandler := WithMetrics("admin", admin)
	proxied := WithMetrics("proxy", proxy)
	static := WithMetrics("static", ChainPlugins(plugins, http.FileServer(http.Dir(opts.StaticDir))))

	s.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == opts.AdminPrefix || strings.HasPrefix(r.URL.Path, opts.AdminPrefix+"/") {
			adminHandler.ServeHTTP(w, r)
			return
		}
		if _, ok := proxy.Match(r); ok {
			proxied.ServeHTTP(w, r)
			return
		}
		static.ServeHTTP(w, r)
	})
	return s, nil
}

func (s *DevServer) Handler() http.Handler { return s.handler }

// Plugins returns the plugin chain in registration order.
func (s *DevServer) Plugins() []Plugin { return s.plugins }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *DevServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *DevServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	logger.Info("Dev server listening on http://%s (static %s, %d rule(s), %d plugin(s))",
		ln.Addr(), s.opts.StaticDir, s.proxy.Table().Len(), len(s.plugins))
	return RunServer(ctx, "dev server", srv, ln, s.opts.ShutdownTimeout)
}

// RunServer serves on ln until ctx is done and then shuts srv down, waiting at most timeout
// for in-flight requests. A clean shutdown returns nil.
func RunServer(ctx context.Context, name string, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("%s: serve error: %v", name, err)
		return err
	case <-ctx.Done():
	}

	logger.Info("%s: shutdown signal received...", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("%s: graceful shutdown failed: %v", name, err)
		srv.Close()
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("%s: gracefully stopped.", name)
	return nil
}
