package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"autowatch/internal/config"
	"autowatch/internal/flags"
	"autowatch/internal/logging"
	"autowatch/internal/output"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// loadConfig merges the config file and environment into cfg, keeping the
// values of flags given on the command line.
func loadConfig(cmd *cobra.Command, cfg *config.Config, path string) error {
	fromFlags := *cfg
	if err := config.Load(cfg, path); err != nil {
		return err
	}
	keepExplicitFlags(cmd, cfg, &fromFlags)
	return nil
}

func keepExplicitFlags(cmd *cobra.Command, cfg, fromFlags *config.Config) {
	if cmd == nil {
		return
	}
	f := cmd.Flags()
	if f.Changed(flags.FlagFetchInterval) {
		cfg.Watch.FetchInterval = fromFlags.Watch.FetchInterval
	}
	if f.Changed(flags.FlagTick) {
		cfg.Watch.Tick = fromFlags.Watch.Tick
	}
	if f.Changed(flags.FlagLogDir) {
		cfg.Watch.LogDir = fromFlags.Watch.LogDir
	}
	if f.Changed(flags.FlagMetricsAddr) {
		cfg.Watch.MetricsAddr = fromFlags.Watch.MetricsAddr
	}
}

// newOutput builds the event sinks selected by the output flags.
func newOutput(cfg *config.Config, console io.Writer) (*output.Manager, error) {
	mgr := output.NewManager()
	if !cfg.Output.NoConsole {
		if err := mgr.AddSink(output.NewConsoleSink(console, cfg.Output.ConsoleFormat)); err != nil {
			return nil, err
		}
	}
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		if err := mgr.AddSink(fs); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// newLogger builds the command logger and warns when AUTOWATCH_ENV held a
// value Validate replaced.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Runtime.Env, cfg.Runtime.Verbose)
	if err != nil {
		return nil, err
	}
	if cfg.Runtime.IgnoredEnv != "" {
		logger.Warn("unsupported AUTOWATCH_ENV, using prod logging",
			zap.String("value", cfg.Runtime.IgnoredEnv), zap.Strings("allowed", []string{"dev", "prod"}))
	}
	return logger, nil
}

// resetState returns the package-level config and every flag to their
// defaults so run can be called more than once in one process.
func resetState() {
	resetFlags(rootCmd)
	*cfg = *config.New()
	configPath = os.Getenv("AUTOWATCH_CONFIG")
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Changed = false
		// Slice values append on Set; their targets were cleared with cfg.
		if !strings.HasSuffix(f.Value.Type(), "Slice") && !strings.HasSuffix(f.Value.Type(), "Array") {
			_ = f.Value.Set(f.DefValue)
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
