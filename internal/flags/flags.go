package flags

// Package flags defines canonical CLI flag names shared across the CLI and
// config validation, so error messages name the flag the user actually typed.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Launch.Variant, flags.FlagVariant, "", "...")
//	arg := "--" + flags.FlagVariant
const (
	// Global
	FlagConfig  = "config"
	FlagVerbose = "verbose"

	// Launch
	FlagVariant  = "variant"
	FlagProgram  = "program"
	FlagDir      = "dir"
	FlagEnv      = "env"
	FlagPause    = "pause"
	FlagSentinel = "sentinel"

	// Watch
	FlagFetchInterval = "fetch-interval"
	FlagTick          = "tick"
	FlagLogDir        = "log-dir"
	FlagMetricsAddr   = "metrics-addr"
	FlagReload        = "reload-on-change"

	// Output
	FlagConsoleFormat = "console-format"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"
	FlagNoConsole     = "no-console"
)
