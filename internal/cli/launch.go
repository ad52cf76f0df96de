package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autowatch/internal/config"
	"autowatch/internal/flags"
	"autowatch/internal/launcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var launchCmd = &cobra.Command{
	Use:   "launch [flags] [-- program args...]",
	Short: "Start the AutoWatch GUI with its environment",
	Long: `Start the AutoWatch GUI (python autowatch_gui.py ...) from the directory
holding this executable, with AUTOWATCH_ENV, ROOT_PROJECT and GITHUB_TOKEN set
for the child only.

Variants:
	dev   run once in the foreground and wait for the child
	prod  start the child detached with no console window and return at once
	loop  run in the foreground; while the child exits with the sentinel code
	      (default 10) start it again

ROOT_PROJECT and GITHUB_TOKEN keep the values already set in the environment;
otherwise ROOT_PROJECT is the parent of the launch directory and GITHUB_TOKEN
is empty. Arguments after "--" replace the default GUI arguments.

Exit codes:
	dev, loop  the child's final exit code
	prod       0 once the child is started
	1          the child could not be started or the flags are invalid

Examples:
	autowatch launch
	autowatch launch --variant prod --pause
	autowatch launch --variant loop --env AUTOWATCH_ENV=prod
	autowatch launch --program python3 -- autowatch_gui.py --test
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd, cfg, configPath); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		spec, err := buildLaunchSpec(cfg, args, os.Environ())
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		mgr, err := newOutput(cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() {
			if err := mgr.Close(); err != nil {
				logger.Warn("close output failed", zap.Error(err))
			}
		}()

		ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l := launcher.New(
			launcher.WithEvents(mgr),
			launcher.WithLogger(logger),
			launcher.WithIO(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()),
		)
		out, err := l.Run(ctx, spec)
		if err != nil {
			return err
		}
		logger.Debug("launcher finished", zap.Int("exit_code", out.ExitCode), zap.Int("runs", out.Runs), zap.Int("restarts", out.Restarts))
		if out.ExitCode != 0 {
			return exitError{code: out.ExitCode}
		}
		return nil
	},
}

// buildLaunchSpec applies the launch flags to the default launch.
func buildLaunchSpec(cfg *config.Config, args []string, parent []string) (launcher.Spec, error) {
	variant, err := launcher.ParseVariant(cfg.Launch.Variant)
	if err != nil {
		return launcher.Spec{}, err
	}
	dir := cfg.Launch.Dir
	if dir == "" {
		if dir, err = launcher.ScriptDir(); err != nil {
			return launcher.Spec{}, err
		}
	}
	if fi, err := os.Stat(dir); err != nil {
		return launcher.Spec{}, fmt.Errorf("--%s: %w", flags.FlagDir, err)
	} else if !fi.IsDir() {
		return launcher.Spec{}, fmt.Errorf("--%s: %s is not a directory", flags.FlagDir, dir)
	}

	spec := launcher.DefaultSpec(variant, dir, parent)
	if cfg.Launch.Program != "" {
		spec.Program = cfg.Launch.Program
	}
	if len(args) == 0 {
		args = cfg.Launch.Args
	}
	if len(args) > 0 {
		spec.Args = append([]string(nil), args...)
	}
	overrides, err := config.ParseEnvAssignments(cfg.Launch.Env)
	if err != nil {
		return launcher.Spec{}, err
	}
	for k, v := range overrides {
		spec.Env[k] = v
	}
	spec.Pause = cfg.Launch.Pause
	spec.Sentinel = cfg.Launch.Sentinel
	return spec, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(launchCmd)

	launchCmd.Flags().StringVar(&cfg.Launch.Variant, flags.FlagVariant, "", "Launch variant: dev|prod|loop (default: loop, dev on Windows)")
	launchCmd.Flags().StringVar(&cfg.Launch.Program, flags.FlagProgram, "", "Interpreter to run (default: python3, python or pythonw by variant)")
	launchCmd.Flags().StringVar(&cfg.Launch.Dir, flags.FlagDir, "", "Working directory (default: the directory of this executable)")
	launchCmd.Flags().StringArrayVar(&cfg.Launch.Env, flags.FlagEnv, nil, "Extra child environment KEY=VALUE (repeatable)")
	launchCmd.Flags().BoolVar(&cfg.Launch.Pause, flags.FlagPause, false, "prod only: wait for Enter after starting the child")
	launchCmd.Flags().IntVar(&cfg.Launch.Sentinel, flags.FlagSentinel, launcher.DefaultSentinel, "loop only: exit code that restarts the child")
}
