package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/myoctl/internal/gesture"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/internal/transport/goble"
	"github.com/srg/myoctl/pkg/config"
)

// TransportFactory creates the armband transport (can be overridden in tests)
var TransportFactory = func(cfg *config.Config, logger *logrus.Logger) session.Transport {
	return goble.New(
		goble.WithLogger(logger),
		goble.WithConnectTimeout(cfg.ConnectTimeout),
		goble.WithNotificationBuffer(cfg.NotificationBuffer),
	)
}

// modeResolver picks the mode a command negotiates
type modeResolver func(cfg *config.Config) (protocol.ModeConfiguration, error)

// idleMode streams nothing; used by commands that only send requests
func idleMode(*config.Config) (protocol.ModeConfiguration, error) {
	return protocol.ModeConfiguration{
		EMG:        protocol.EMGNone,
		IMU:        protocol.IMUNone,
		Classifier: protocol.ClassifierDisabled,
	}, nil
}

// setup loads the configuration, applies global flags over it and creates the logger
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if cmd.Flags().Changed("address") {
		cfg.Address, _ = cmd.Flags().GetString("address")
	}
	if cmd.Flags().Changed("scan-timeout") {
		cfg.ScanTimeout, _ = cmd.Flags().GetDuration("scan-timeout")
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newController(cfg *config.Config, logger *logrus.Logger, h session.Handlers) *session.Controller {
	return session.New(TransportFactory(cfg, logger),
		session.WithLogger(logger),
		session.WithHandlers(h),
		session.WithCommandTimeout(cfg.CommandTimeout),
		session.WithNeverSleep(cfg.NeverSleep),
		session.WithResyncAfter(cfg.ResyncAfter),
		session.WithGestureOptions(gesture.Options{ClearOnSyncFailed: cfg.ClearOnSyncFailed}),
		session.WithFanoutBuffer(cfg.NotificationBuffer),
	)
}

// openController connects to the configured armband and negotiates mode.
// Progress is shown on stderr when it is a terminal.
func openController(ctx context.Context, cfg *config.Config, logger *logrus.Logger, mode protocol.ModeConfiguration, h session.Handlers) (*session.Controller, error) {
	var progress *ProgressPrinter
	if isTerminal(os.Stderr) {
		progress = NewProgressPrinter(os.Stderr, "Connecting to armband", session.Discovering.String())
		progress.Start()
		defer progress.Stop()

		next := h.OnStateChange
		h.OnStateChange = func(from, to session.State) {
			progress.SetPhase(to.String())
			if next != nil {
				next(from, to)
			}
		}
	}

	ctrl := newController(cfg, logger, h)
	f := session.Filter{
		Address:     cfg.Address,
		ServiceUUID: protocol.ServiceUUID,
		Timeout:     cfg.ScanTimeout,
	}
	if err := ctrl.Open(ctx, f, mode); err != nil {
		_ = ctrl.Shutdown()
		return nil, err
	}
	return ctrl, nil
}

// controllerFunc is the body of a command that needs a connected armband
type controllerFunc func(ctx context.Context, ctrl *session.Controller, cfg *config.Config, logger *logrus.Logger) error

// withController runs fn against a connected controller and shuts it down afterwards
func withController(cmd *cobra.Command, resolve modeResolver, fn controllerFunc) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	mode, err := resolve(cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ctrl, err := openController(ctx, cfg, logger, mode, session.Handlers{})
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Shutdown() }()

	return fn(ctx, ctrl, cfg, logger)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// isTerminalWriter reports whether w is a terminal file
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}
