package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/httpapi"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream from the armband and serve its state over HTTP",
	Long: `Connect to an armband and serve live state, the latest aggregated sample,
statistics and device commands under /api/v1 until Ctrl+C or the connection drops.

Endpoints:
  GET  /api/v1/state     session state, device, mode and gesture
  GET  /api/v1/latest    latest aggregated EMG/IMU/gesture sample
  GET  /api/v1/stats     counters
  POST /api/v1/vibrate   {"type":"short"} or {"duration_ms":300,"strength":128}
  POST /api/v1/leds      {"logo":[0,255,0],"line":[0,0,255]}
  POST /api/v1/resync    re-run arm sync`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr  string
	serveModes modeFlags
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "HTTP listen address (default from config: :9099)")
	serveModes.register(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withController(cmd, serveModes.resolve, func(ctx context.Context, ctrl *session.Controller, cfg *config.Config, logger *logrus.Logger) error {
		addr := cfg.HTTPAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := httpapi.NewServer(ctrl,
			httpapi.WithLogger(logger),
			httpapi.WithVersion(formatVersion(version)),
		)

		// stop serving when the link drops
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-ctrl.Done():
				cancel()
			case <-sctx.Done():
			}
		}()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s (Ctrl+C to stop)\n", addr)
		if err := srv.Run(sctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return ctrl.Err()
	})
}
