package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// ledsCmd represents the leds command
var ledsCmd = &cobra.Command{
	Use:   "leds <r> <g> <b> [<r> <g> <b>]",
	Short: "Set the logo and status bar colours",
	Long: `Set the LED colours. Three values set the logo and the status bar to the
same colour; six values set the logo first, then the status bar. Each value is 0-255.`,
	Example: `  myoctl leds 0 255 0
  myoctl leds 255 0 0 0 0 255`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 3 && len(args) != 6 {
			return fmt.Errorf("requires 3 or 6 colour values, got %d", len(args))
		}
		return nil
	},
	RunE: runLEDs,
}

// parseLEDs converts the leds arguments into a SetLEDs command
func parseLEDs(args []string) (protocol.SetLEDs, error) {
	values := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return protocol.SetLEDs{}, fmt.Errorf("invalid colour value %q: %w", a, err)
		}
		values[i] = v
	}
	return protocol.NewSetLEDs(values...)
}

// parseDurationMs accepts a Go duration ("300ms") or a bare number of milliseconds
func parseDurationMs(s string) (int, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return int(d / time.Millisecond), nil
}

func runLEDs(cmd *cobra.Command, args []string) error {
	c, err := parseLEDs(args)
	if err != nil {
		return err
	}
	return withController(cmd, idleMode, func(ctx context.Context, ctrl *session.Controller, _ *config.Config, _ *logrus.Logger) error {
		return ctrl.SetLEDs(ctx, c)
	})
}
