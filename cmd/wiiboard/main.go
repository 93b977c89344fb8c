package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/colspan/wiiboard-simple/internal/board"
	"github.com/colspan/wiiboard-simple/internal/config"
	"github.com/colspan/wiiboard-simple/internal/metrics"
	"github.com/colspan/wiiboard-simple/internal/transport"
)

var (
	configPath string
	logLevel   string
	address    string

	// cfg is loaded by the root command before any subcommand runs.
	cfg *config.Config
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	stream := NewStreamCommand()

	cmd := &cobra.Command{
		Use:   "wiiboard",
		Short: "wiiboard reads weight from a Wii Balance Board over Bluetooth",
		Long: `wiiboard connects to a Wii Balance Board over Bluetooth L2CAP, downloads
its calibration and streams calibrated weight per corner.

Pair the board first (press the red sync button) and pass its address with
--address or the address field of the config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// these run without a board
			switch cmd.Name() {
			case "init-config", "help":
				return setupLogger(logLevelOr("info"))
			}
			c, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if logLevel != "" {
				c.LogLevel = logLevel
			}
			if address != "" {
				c.Address = address
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			cfg = c
			return setupLogger(cfg.LogLevel)
		},
		// streaming is the default action
		RunE: stream.RunE,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.config/wiiboard/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	cmd.PersistentFlags().StringVarP(&address, "address", "a", "", "board Bluetooth address, e.g. 00:26:59:7B:7F:5F; overrides the config file")
	cmd.Flags().AddFlagSet(stream.Flags())

	cmd.AddCommand(
		stream,
		NewCalibrationCommand(),
		NewInitConfigCommand(),
	)

	return cmd
}

func logLevelOr(def string) string {
	if logLevel != "" {
		return logLevel
	}
	return def
}

func setupLogger(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		c, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("config loaded", "path", defaultPath)
		return c, nil
	}

	slog.Debug("no config file found, using defaults")
	return config.Default(), nil
}

// newSession builds a session on the L2CAP transport from cfg.
func newSession(m *metrics.Metrics) *board.Session {
	opts := board.DefaultOptions()
	opts.EventBuffer = cfg.Session.EventBuffer
	opts.DisconnectTimeout = cfg.Session.DisconnectTimeout
	opts.Metrics = m
	return board.New(transport.NewL2CAP(), opts)
}
