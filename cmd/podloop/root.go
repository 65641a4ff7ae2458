package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	cc "github.com/ivanpirog/coloredcobra"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"podloop/internal/config"
)

const defaultConfigPath = "~/.config/podloop/config.yaml"

var (
	cfgPath   string
	logLevel  string
	verbosity int
)

// NewRootCmd builds the command tree. The shell builds a fresh tree for
// every line it runs.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "podloop",
		Short:         "Podcast player daemon with a reconciling playback loop",
		Long:          "podloop keeps a podcast library, drives an external player toward the desired playback state and exposes the application state over a socket and a WebSocket stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug (overrides config)")
	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "raise the log level (-v, -vv)")

	cmd.AddCommand(
		newRunCmd(),
		newCtlCmd(),
		newShellCmd(),
		newSchemaCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command with colored help on a terminal.
func Execute() error {
	root := NewRootCmd()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		cc.Init(&cc.Config{
			RootCmd:       root,
			Headings:      cc.HiCyan + cc.Bold + cc.Underline,
			Commands:      cc.HiYellow + cc.Bold,
			Example:       cc.Italic,
			ExecName:      cc.Bold,
			Flags:         cc.Bold,
			FlagsDataType: cc.Italic + cc.HiBlue,
		})
	}
	return root.Execute()
}

// loadConfig reads the config file (a missing default file means defaults),
// applies flag overrides and validates.
func loadConfig(cmd *cobra.Command, overrides config.FlagOverrides) (config.Config, error) {
	cfg := config.DefaultConfig()
	loaded, err := config.Load(cfgPath)
	switch {
	case err == nil:
		cfg = loaded
	case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config"):
	default:
		return config.Config{}, err
	}

	if logLevel != "" {
		overrides.LogLevel = &logLevel
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level, err := config.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		level = config.LogLevelInfo
	}
	return config.SetupLogger(config.Verbosity(level, verbosity))
}
