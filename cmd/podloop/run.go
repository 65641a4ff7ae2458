package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"podloop/internal/app"
	"podloop/internal/config"
	"podloop/internal/feed"
	"podloop/internal/input"
	"podloop/internal/ipc"
	"podloop/internal/library"
	"podloop/internal/mpv"
	"podloop/internal/playback"
	"podloop/internal/statews"
)

func newRunCmd() *cobra.Command {
	var (
		o           config.FlagOverrides
		syncOnStart bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, changedOverrides(cmd, o))
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, syncOnStart, logger)
		},
	}

	f := cmd.Flags()
	o.DataDir = f.String("data-dir", "", "data directory (database and downloads)")
	o.IPCSocketPath = f.String("ipc-socket", "", "unix domain socket path for IPC")
	o.StateWSListen = f.String("ws-listen", "", "state WebSocket listen address")
	o.StateWSOff = f.Bool("no-ws", false, "disable the state WebSocket")
	o.PlayerBackend = f.String("player", "", "player backend: mpv|none")
	o.PlayerBinary = f.String("mpv", "", "mpv binary")
	o.InputDevices = f.StringSlice("input-device", nil, "media key input device (repeatable)")
	o.HistoryCap = f.Int("history-cap", 0, "number of application states kept for time travel")
	f.BoolVar(&syncOnStart, "sync", true, "refresh every feed at startup")
	return cmd
}

// changedOverrides keeps only the overrides whose flags were set.
func changedOverrides(cmd *cobra.Command, o config.FlagOverrides) config.FlagOverrides {
	f := cmd.Flags()
	keep := func(name string) bool { return f.Changed(name) }
	if !keep("data-dir") {
		o.DataDir = nil
	}
	if !keep("ipc-socket") {
		o.IPCSocketPath = nil
	}
	if !keep("ws-listen") {
		o.StateWSListen = nil
	}
	if !keep("no-ws") {
		o.StateWSOff = nil
	}
	if !keep("player") {
		o.PlayerBackend = nil
	}
	if !keep("mpv") {
		o.PlayerBinary = nil
	}
	if !keep("input-device") {
		o.InputDevices = nil
	}
	if !keep("history-cap") {
		o.HistoryCap = nil
	}
	return o
}

// runDaemon starts every component and blocks until ctx ends or one of them
// fails. Components stop in reverse order of their dependencies: the
// surfaces and the store exit with the group, and the library closes last.
func runDaemon(ctx context.Context, cfg config.Config, syncOnStart bool, logger *slog.Logger) error {
	logger.Info("starting podloop", "version", config.Version)
	logger.Debug("configuration",
		"database", cfg.Data.Database,
		"download_dir", cfg.Data.DownloadDir,
		"ipc", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Enabled,
		"player", cfg.Player.Backend,
		"history_cap", cfg.History.Cap,
		"input_devices", cfg.Input.Devices)

	if err := os.MkdirAll(filepath.Dir(cfg.Data.Database), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	feeds := feed.NewClient(logger.With("component", "feed"))
	cfg.ApplyFeeds(feeds)

	libOpts := cfg.LibraryOptions()
	libOpts.Source = feeds
	libOpts.Logger = logger.With("component", "library")
	lib, err := library.Open(cfg.Data.Database, libOpts)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctrl := playback.NewController(playback.NewHandle(), cfg.PlaybackConfig(), logger.With("component", "playback"))
	recorder := library.NewRecorder(lib, cfg.EventLog.Queue, logger.With("component", "eventlog"))

	storeOpts := cfg.StoreOptions()
	storeOpts.Logger = logger.With("component", "app")
	storeOpts.ActionLog = recorder
	store := app.NewStore(ctrl, lib, storeOpts)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return store.Run(gctx) })

	if cfg.Player.Backend == config.PlayerBackendMPV {
		g.Go(func() error {
			connectPlayer(gctx, ctrl, cfg.MPVConfig(), logger.With("component", "mpv"))
			return nil
		})
	}

	ipcSrv := &ipc.Server{
		SocketPath: cfg.IPC.SocketPath,
		Store:      store,
		Events:     lib,
		Facts:      lib,
		Search:     feeds,
		Logger:     logger.With("component", "ipc"),
	}
	g.Go(func() error { return ipcSrv.Run(gctx) })

	if cfg.StateWS.Enabled {
		wsLogger := logger.With("component", "state_ws")
		ws := statews.NewServer(wsLogger, store, statews.ServerConfig{
			Hub: statews.HubConfig{SendBuf: cfg.StateWS.SendBuf},
		})
		states, cancelStates := store.Watch()
		notes, cancelNotes := store.Notifications()
		window := statews.DefaultCoalesceWindow
		if cfg.StateWS.CoalesceMS > 0 {
			window = time.Duration(cfg.StateWS.CoalesceMS) * time.Millisecond
		}

		g.Go(func() error {
			ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			defer cancelStates()
			defer cancelNotes()
			statews.RunBroadcaster(gctx, ws.Hub(), states, notes, window, wsLogger)
			return nil
		})
		g.Go(func() error {
			return ws.ListenAndServe(gctx, cfg.StateWS.Listen, cfg.StateWS.Path)
		})
	}

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			err := input.Run(gctx, cfg.Input.Devices, store, logger.With("component", "input"))
			if err != nil {
				logger.Error("media keys disabled", "error", err)
			}
			return nil
		})
	}

	if syncOnStart {
		if err := store.Dispatch(app.SyncFeeds{}); err != nil {
			logger.Warn("startup sync not queued", "error", err)
		}
	}

	err = g.Wait()
	logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connectPlayer launches mpv and attaches it to the controller. A player
// that fails to start leaves the reconciler skipping passes.
func connectPlayer(ctx context.Context, ctrl *playback.Controller, cfg mpv.Config, logger *slog.Logger) {
	p, err := mpv.Start(ctx, cfg, logger)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("failed to start mpv", "error", err, "binary", cfg.Binary)
		}
		return
	}
	if err := ctrl.Connect(p); err != nil {
		logger.Warn("player not attached", "error", err)
		_ = p.Close()
	}
}
