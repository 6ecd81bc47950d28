package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// vibrateCmd represents the vibrate command
var vibrateCmd = &cobra.Command{
	Use:   "vibrate [short|medium|long]",
	Short: "Vibrate the armband",
	Long: `Run one of the fixed vibrations, or a custom one with --duration and
optionally --strength (0-255, full strength by default).`,
	Example: `  myoctl vibrate short
  myoctl vibrate --duration 300ms --strength 128`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVibrate,
}

var (
	vibrateDuration string
	vibrateStrength int
)

func init() {
	vibrateCmd.Flags().StringVar(&vibrateDuration, "duration", "", "Custom vibration length, e.g. 300ms")
	vibrateCmd.Flags().IntVar(&vibrateStrength, "strength", -1, "Custom vibration strength 0-255 (default full)")
}

// parseVibration builds the command for the vibrate arguments
func parseVibration(args []string, duration string, strength int) (protocol.Command, error) {
	if len(args) == 1 {
		if duration != "" {
			return nil, fmt.Errorf("use either a vibration type or --duration, not both")
		}
		t, err := protocol.ParseVibrationType(args[0])
		if err != nil {
			return nil, err
		}
		return protocol.Vibrate{Type: t}, nil
	}
	if duration == "" {
		return protocol.Vibrate{Type: protocol.VibrationMedium}, nil
	}

	d, err := parseDurationMs(duration)
	if err != nil {
		return nil, err
	}
	return protocol.VibrateFor(d, strength)
}

func runVibrate(cmd *cobra.Command, args []string) error {
	c, err := parseVibration(args, vibrateDuration, vibrateStrength)
	if err != nil {
		return err
	}
	return withController(cmd, idleMode, func(ctx context.Context, ctrl *session.Controller, _ *config.Config, _ *logrus.Logger) error {
		switch v := c.(type) {
		case protocol.Vibrate:
			return ctrl.Vibrate(ctx, v.Type)
		case protocol.Vibrate2:
			return ctrl.Vibrate2(ctx, v)
		default:
			return fmt.Errorf("unexpected vibration command %s", c.Opcode())
		}
	})
}
