package cmd

import (
	"context"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"devgate/config"
	"devgate/core"
	"devgate/logger"

	"github.com/spf13/cobra"
)

var (
	serveHost        string
	servePort        string
	serveStaticDir   string
	serveNoRecord    bool
	serveWithForward bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the dev server (static files, plugins and proxy rules)",
	Long: `Starts the dev server. Requests matching a proxy rule are forwarded to the rule's
target. The admin API and metrics are served under the admin prefix. Everything else
is served from the static directory through the configured plugins.

With --forward the HTTP forward proxy is started on proxy.forward_port as well.
Press Ctrl+C to gracefully shut down all services.`,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Example: `  # Serve ./dist on the configured port
  devgate serve --static ./dist

  # Serve without recording traffic
  devgate serve --no-record

  # Serve and also accept forward-proxy clients
  devgate serve --forward`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("--- Serve Command: Run ---")
		cfg := config.Current()
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("static") {
			cfg.Server.StaticDir = serveStaticDir
		}
		if cfg.Server.Port == "" {
			logger.Error("Serve Command: Server port is empty after checking flag and config, defaulting to 5173")
			cfg.Server.Port = "5173"
		}

		gw, err := buildGateway(cfg, cfg.Proxy.RecordTraffic && !serveNoRecord)
		if err != nil {
			return err
		}
		defer gw.Close()
		gw.watchRules()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var wg sync.WaitGroup
		var firstErr error
		var errOnce sync.Once
		fail := func(err error) {
			if err == nil {
				return
			}
			errOnce.Do(func() { firstErr = err })
			cancel()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(gw.server.ListenAndServe(ctx))
			logger.Info("Serve Command Goroutine(Dev): Finished.")
		}()

		if serveWithForward {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fail(runForwardProxy(ctx, cfg, gw, cfg.Proxy.ForwardPort))
				logger.ProxyInfo("Serve Command Goroutine(Forward): Finished.")
			}()
		}

		logger.Info("Serve Command: All service goroutines launched. Press Ctrl+C to exit.")
		<-ctx.Done()
		logger.Info("Serve Command: Initiating shutdown...")

		shutdownComplete := make(chan struct{})
		go func() {
			wg.Wait()
			close(shutdownComplete)
		}()
		select {
		case <-shutdownComplete:
			logger.Info("Serve Command: All services shut down.")
		case <-time.After(cfg.Server.ShutdownTimeout + 5*time.Second):
			logger.Error("Serve Command: Shutdown timed out. Forcing exit.")
		}
		return firstErr
	},
}

// runForwardProxy serves the forward proxy on port until ctx is done. Requests addressed to
// the proxy itself are answered by the dev server.
func runForwardProxy(ctx context.Context, cfg config.Configuration, gw *gateway, port string) error {
	fp := core.NewForwardProxy(gw.dev, core.ForwardProxyOptions{
		Hosts:    cfg.Proxy.ForwardHosts,
		Fallback: gw.server.Handler(),
		Verbose:  logger.Level() == "DEBUG",
	})
	addr := net.JoinHostPort(cfg.Server.Host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.ProxyError("Forward proxy: listen on %s: %v", addr, err)
		return err
	}
	logger.ProxyInfo("Forward proxy listening on %s (%d rule(s))", ln.Addr(), gw.dev.Table().Len())
	srv := newForwardServer(fp)
	return core.RunServer(ctx, "forward proxy", srv, ln, cfg.Server.ShutdownTimeout)
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Interface to listen on (overrides config)")
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "5173", "Port for the dev server (overrides config)")
	serveCmd.Flags().StringVar(&serveStaticDir, "static", ".", "Directory served for non-proxied paths (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoRecord, "no-record", false, "Do not record proxied traffic")
	serveCmd.Flags().BoolVar(&serveWithForward, "forward", false, "Also start the forward proxy on proxy.forward_port")
	rootCmd.AddCommand(serveCmd)
}
