package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show armband name, firmware and battery level",
	Long: `Connect to an armband and print its name, address, firmware version and
battery level. No data is streamed.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

var infoJSON bool

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print as JSON")
}

// infoReport is what the info command prints
type infoReport struct {
	Device  session.DeviceHandle `json:"device"`
	Info    session.DeviceInfo   `json:"info"`
	Battery *uint8               `json:"battery,omitempty"`
}

func runInfo(cmd *cobra.Command, _ []string) error {
	return withController(cmd, idleMode, func(ctx context.Context, ctrl *session.Controller, _ *config.Config, _ *logrus.Logger) error {
		dev, _ := ctrl.Device()
		report := infoReport{Device: dev, Info: ctrl.Info(), Battery: ctrl.Info().Battery}

		// the battery level read during negotiation may be stale by now
		if level, err := ctrl.Battery(ctx); err == nil {
			report.Battery = &level
		}
		return printInfo(cmd.OutOrStdout(), report, infoJSON)
	})
}

func printInfo(w io.Writer, r infoReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	name := r.Info.Name
	if name == "" {
		name = r.Device.Name
	}
	fmt.Fprintf(w, "Name:     %s\n", name)
	fmt.Fprintf(w, "Address:  %s\n", r.Device.Address)
	fmt.Fprintf(w, "RSSI:     %d dBm\n", r.Device.RSSI)
	if r.Info.Firmware != nil {
		fmt.Fprintf(w, "Firmware: %s\n", r.Info.Firmware)
	} else {
		fmt.Fprintln(w, "Firmware: unknown")
	}
	if r.Battery != nil {
		fmt.Fprintf(w, "Battery:  %d%%\n", *r.Battery)
	} else {
		fmt.Fprintln(w, "Battery:  unknown")
	}
	return nil
}
