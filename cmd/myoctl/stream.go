package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/pkg/config"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream armband data to the terminal",
	Long: `Connect to an armband, negotiate the streaming mode and print every decoded
event until --duration elapses, Ctrl+C is pressed or the connection drops.

Topics: emg, fv, imu, classifier, motion, aggregated, session.`,
	Example: `  myoctl stream --topics classifier,motion
  myoctl stream --emg-mode filtered --topics fv --format json --duration 10s`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

var (
	streamDuration time.Duration
	streamFormat   string
	streamTopics   string
	streamWarmup   bool
	streamModes    modeFlags
)

// modeFlags override the streaming mode from the configuration
type modeFlags struct {
	emg          string
	imu          string
	noClassifier bool
}

func (m *modeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.emg, "emg-mode", "", "EMG mode: none, filtered, emg, raw (default from config: emg)")
	cmd.Flags().StringVar(&m.imu, "imu-mode", "", "IMU mode: none, data, events, all, raw (default from config: all)")
	cmd.Flags().BoolVar(&m.noClassifier, "no-classifier", false, "Disable the on-device pose classifier")
}

// resolve applies the flags over the configured mode
func (m *modeFlags) resolve(cfg *config.Config) (protocol.ModeConfiguration, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return mode, err
	}
	if m.emg != "" {
		if mode.EMG, err = protocol.ParseEMGMode(m.emg); err != nil {
			return mode, err
		}
	}
	if m.imu != "" {
		if mode.IMU, err = protocol.ParseIMUMode(m.imu); err != nil {
			return mode, err
		}
	}
	if m.noClassifier {
		mode.Classifier = protocol.ClassifierDisabled
	}
	return mode, nil
}

func init() {
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 streams until Ctrl+C)")
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", formatText, "Output format (text, json)")
	streamCmd.Flags().StringVarP(&streamTopics, "topics", "t", "emg,fv,imu,classifier,motion", "Comma separated topics to print")
	streamCmd.Flags().BoolVar(&streamWarmup, "warmup", false, "Cycle LEDs and vibrate once connected")
	streamModes.register(streamCmd)
}

func runStream(cmd *cobra.Command, _ []string) error {
	topics, err := parseTopics(streamTopics)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	r, err := newRenderer(out, streamFormat)
	if err != nil {
		return err
	}
	color.NoColor = color.NoColor || !isTerminalWriter(out)

	return withController(cmd, streamModes.resolve, func(ctx context.Context, ctrl *session.Controller, _ *config.Config, _ *logrus.Logger) error {
		ch := ctrl.Subscribe(topics...)
		defer ctrl.Unsubscribe(ch, topics...)

		if streamWarmup {
			if err := ctrl.Warmup(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "warmup failed: %v\n", err)
			}
		}
		return streamLoop(ctx, ctrl, ch, streamDuration, r.Render)
	})
}

// linkWatcher is the part of session.Controller streamLoop waits on
type linkWatcher interface {
	Done() <-chan struct{}
	Err() error
}

// streamLoop feeds subscription values to emit until ctx is done, d elapses
// or the link drops. Only a dropped link is an error.
func streamLoop(ctx context.Context, ctrl linkWatcher, ch <-chan any, d time.Duration, emit func(any) error) error {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			return nil
		case <-ctrl.Done():
			return ctrl.Err()
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if err := emit(v); err != nil {
				return err
			}
		}
	}
}
