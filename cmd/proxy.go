package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"devgate/config"
	"devgate/core"
	"devgate/logger"

	"github.com/spf13/cobra"
)

var (
	forwardProxyPort     string
	forwardProxyNoRecord bool
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manages the forward proxy (can be run standalone or as part of 'serve --forward')",
}

var proxyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the HTTP forward proxy",
	Long: `Starts an HTTP forward proxy that applies the configured proxy rules to requests
passing through it. Point a browser or an HTTP client at it to have matching paths
re-targeted exactly as the dev server would. CONNECT tunnels are passed through
untouched. Requests addressed to the proxy itself are answered by the dev server
handler, so static files and the admin API stay reachable on the proxy port.`,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Current()
		port := forwardProxyPort
		if !cmd.Flags().Changed("port") {
			port = cfg.Proxy.ForwardPort
			logger.Debug("Using forward proxy port from config: %s", port)
		}
		if port == "" {
			port = "8778"
		}

		gw, err := buildGateway(cfg, cfg.Proxy.RecordTraffic && !forwardProxyNoRecord)
		if err != nil {
			return err
		}
		defer gw.Close()
		gw.watchRules()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runForwardProxy(ctx, cfg, gw, port)
	},
}

func newForwardServer(fp *core.ForwardProxy) *http.Server {
	return &http.Server{
		Handler:           fp,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func init() {
	proxyStartCmd.Flags().StringVarP(&forwardProxyPort, "port", "p", "8778", "Port for the forward proxy (overrides config)")
	proxyStartCmd.Flags().BoolVar(&forwardProxyNoRecord, "no-record", false, "Do not record proxied traffic")
	proxyCmd.AddCommand(proxyStartCmd)
	rootCmd.AddCommand(proxyCmd)
}
