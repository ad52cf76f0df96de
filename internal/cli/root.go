package cli

import (
	"errors"
	"fmt"
	"os"

	"autowatch/internal/config"
	"autowatch/internal/flags"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var (
	cfg        = config.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "autowatch",
	Short: "Launch the AutoWatch GUI and supervise watched project scripts",
	Long: `AutoWatch starts the AutoWatch GUI with its environment and keeps project
scripts running, restarting them when their git repositories receive new commits.

Examples:
	# Start the GUI (restart loop on POSIX, foreground run on Windows)
	autowatch launch

	# Start the GUI detached without a console window
	autowatch launch --variant prod

	# Supervise the configured projects
	autowatch watch --config autowatch.yaml

	# Print the effective configuration
	autowatch config show

	# Print build info
	autowatch version

Environment:
	ROOT_PROJECT     directory holding the watched repositories
	GITHUB_TOKEN     token used to file incident issues (falls back to gh auth token)
	AUTOWATCH_ENV    dev or prod
	AUTOWATCH_CONFIG default for --config`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable debug logging (includes every GitHub API call)")
	rootCmd.PersistentFlags().StringVar(&configPath, flags.FlagConfig, os.Getenv("AUTOWATCH_CONFIG"), "Path to a YAML config file (default: $AUTOWATCH_CONFIG)")

	rootCmd.PersistentFlags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text|ndjson|table (default: text)")
	rootCmd.PersistentFlags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Also write events to this file")
	rootCmd.PersistentFlags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Format for --out: json|ndjson (default: inferred from file extension)")
	rootCmd.PersistentFlags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --out)")
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	resetState()
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
