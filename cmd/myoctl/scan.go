package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/internal/transport/goble"
	"github.com/srg/myoctl/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Myo armbands",
	Long: `Scan for nearby Myo armbands and list their address, name and signal strength.
Only devices advertising the Myo control service are shown.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanFormat string

// armbandScanner lists advertisements; implemented by goble.Transport
type armbandScanner interface {
	Scan(ctx context.Context, f session.Filter, onNew func(goble.Advertisement)) ([]goble.Advertisement, error)
}

// ScannerFactory creates the scanner used by the scan command (can be overridden in tests)
var ScannerFactory = func(cfg *config.Config, logger *logrus.Logger) armbandScanner {
	return goble.New(goble.WithLogger(logger))
}

func init() {
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	f := session.Filter{ServiceUUID: protocol.ServiceUUID, Timeout: cfg.ScanTimeout}

	var progress *ProgressPrinter
	if isTerminal(os.Stderr) {
		progress = NewCountdownProgressPrinter(os.Stderr, "Scanning for armbands", "scanning", cfg.ScanTimeout)
		progress.Start()
		defer progress.Stop()
	}

	found, err := ScannerFactory(cfg, logger).Scan(ctx, f, nil)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanFormat == "json" {
		return displayAdvertisementsJSON(out, found)
	}
	return displayAdvertisementsTable(out, found)
}

func displayAdvertisementsTable(out io.Writer, found []goble.Advertisement) error {
	if len(found) == 0 {
		_, err := fmt.Fprintln(out, "No armbands discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, a := range found {
		name := a.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%t\t%s ago\n",
			name, a.Address, a.RSSI, a.Connectable, time.Since(a.LastSeen).Truncate(time.Second))
	}
	return w.Flush()
}

func displayAdvertisementsJSON(out io.Writer, found []goble.Advertisement) error {
	if found == nil {
		found = []goble.Advertisement{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(found)
}
