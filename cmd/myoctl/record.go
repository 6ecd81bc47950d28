package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/recorder"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record armband streams to JSON-lines files",
	Long: `Connect to an armband and write every stream to its own JSON-lines file
(<prefix>_emg_data.json, <prefix>_imu_data.json, ...) in the record directory.

Recording stops after --duration or on Ctrl+C. The armband vibrates and turns
green when recording ends.`,
	Example: `  myoctl record --duration 30s --dir ./sessions`,
	Args:    cobra.NoArgs,
	RunE:    runRecord,
}

var (
	recordDuration time.Duration
	recordDir      string
	recordPrefix   string
	recordModes    modeFlags
)

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Stop after this long (0 records until Ctrl+C)")
	recordCmd.Flags().StringVar(&recordDir, "dir", "", "Output directory (default from config: ./emg_data)")
	recordCmd.Flags().StringVar(&recordPrefix, "prefix", "", "File name prefix (default myo_data_<timestamp>)")
	recordModes.register(recordCmd)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	return withController(cmd, recordModes.resolve, func(ctx context.Context, ctrl *session.Controller, cfg *config.Config, logger *logrus.Logger) error {
		dir := cfg.RecordDir
		if recordDir != "" {
			dir = recordDir
		}

		opts := []recorder.Option{
			recorder.WithLogger(logger),
			recorder.WithDir(dir),
			recorder.WithBufferSize(uint32(cfg.RecordBuffer)),
			recorder.WithFlushInterval(cfg.FlushInterval),
		}
		if recordPrefix != "" {
			opts = append(opts, recorder.WithPrefix(recordPrefix))
		}
		rec, err := recorder.NewSink(opts...)
		if err != nil {
			return err
		}
		if err := rec.Start(); err != nil {
			return err
		}
		removeSink := ctrl.AddSink(rec)

		var progress *ProgressPrinter
		if isTerminal(os.Stderr) {
			if recordDuration > 0 {
				progress = NewCountdownProgressPrinter(os.Stderr, "Recording to "+dir, "recording", recordDuration)
			} else {
				progress = NewProgressPrinter(os.Stderr, "Recording to "+dir, "recording, Ctrl+C to stop")
			}
			progress.Start()
		}

		waitErr := streamLoop(ctx, ctrl, nil, recordDuration, nil)
		if progress != nil {
			progress.Stop()
		}
		removeSink()
		stopErr := rec.Stop()

		if waitErr == nil {
			signalRecordingDone(ctrl)
		}

		out := cmd.OutOrStdout()
		m := rec.Metrics()
		fmt.Fprintf(out, "Recorded %d records (%d dropped)\n", m.Written, m.Overwritten)
		for _, f := range rec.Files() {
			fmt.Fprintf(out, "  %s\n", f)
		}

		if waitErr != nil {
			return waitErr
		}
		return stopErr
	})
}

// signalRecordingDone vibrates and turns the LEDs green.
// The Ctrl+C context may already be cancelled, so it uses its own.
func signalRecordingDone(ctrl *session.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ctrl.Vibrate(ctx, protocol.VibrationLong)
	_ = ctrl.SetLEDs(ctx, protocol.SetLEDs{Logo: protocol.RGBGreen, Line: protocol.RGBGreen})
}
