package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"autowatch/internal/config"
	"autowatch/internal/flags"
	gh "autowatch/internal/github"
	"autowatch/internal/incident"
	"autowatch/internal/launcher"
	"autowatch/internal/metrics"
	"autowatch/internal/procs"
	"autowatch/internal/reload"
	"autowatch/internal/runner"
	"autowatch/internal/statusapi"
	"autowatch/internal/supervisor"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep project scripts running and restart them on new commits",
	Long: `Start every configured project's run script, then every tick:

	- fetch each repository whose fetch interval elapsed; on a new commit on the
	  watched branch pull it and restart the repository's scripts
	- restart crashed or stopped scripts, up to max_retries, retry_delay apart
	- record failures as a log file under --log-dir and, when a GitHub token is
	  available, as an issue labelled "bug" on the project's github_repo

Signals:
	SIGINT, SIGTERM  stop every script and exit 0
	SIGHUP           stop every script and exit 10, so "autowatch launch
	                 --variant loop" starts the watcher again

With --reload-on-change a change to the --config file is handled like SIGHUP.
Under systemd (Type=notify) READY=1 is sent once every script was started and
STOPPING=1 when shutdown begins.

Output:
	--console-format text prints a line when a project's status changes,
	table redraws the status grid after every tick and ndjson prints one
	event per line. --metrics-addr serves GET /status, /status/{project},
	/metrics and /healthz.

Examples:
	autowatch watch
	autowatch watch --config autowatch.yaml --console-format table
	autowatch watch --metrics-addr 127.0.0.1:9109 --out events.ndjson
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd, cfg, configPath); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.ValidateWatch(); err != nil {
			return err
		}
		if cfg.Watch.ReloadOnChange && configPath == "" {
			return fmt.Errorf("--%s requires --%s", flags.FlagReload, flags.FlagConfig)
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

		logger = logger.With(zap.String("run_id", mgr.RunID()))

		ctx, cancel := context.WithCancel(contextOf(cmd))
		defer cancel()

		issues, err := newIssueCreator(ctx, cfg.Watch.GitHubToken, logger)
		if err != nil {
			return err
		}
		logDir, err := resolveLogDir(cfg.Watch.LogDir)
		if err != nil {
			return err
		}

		m := metrics.New()
		sup, err := supervisor.New(cfg.Watch, supervisor.Deps{
			OpenRepo: supervisor.OpenGitRepo,
			Starter:  supervisor.RunnerStarter{Runner: runner.New()},
			Killer:   procs.New(logger),
			Reporter: incident.NewReporter(logDir, issues, incident.WithEvents(mgr), incident.WithLogger(logger)),
			Events:   mgr,
			Metrics:  m,
			Logger:   logger,
			Ready:    func() { sdNotify(logger, daemon.SdNotifyReady) },
		})
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigCh)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sup.Run(gctx)
		})
		if cfg.Watch.MetricsAddr != "" {
			g.Go(func() error {
				return statusapi.ListenAndServe(gctx, cfg.Watch.MetricsAddr, statusapi.NewRouter(sup, m.Handler()), logger)
			})
		}

		restart := make(chan struct{}, 1)
		if cfg.Watch.ReloadOnChange {
			g.Go(func() error {
				err := reload.WaitForChange(gctx, configPath, reload.WithLogger(logger))
				if err == nil {
					logger.Info("config file changed", zap.String("path", configPath))
					restart <- struct{}{}
					return nil
				}
				if gctx.Err() != nil {
					return nil
				}
				return err
			})
		}

		var restartRequested bool
		g.Go(func() error {
			select {
			case sig := <-sigCh:
				logger.Info("signal received", zap.String("signal", sig.String()))
				restartRequested = sig == syscall.SIGHUP
			case <-restart:
				restartRequested = true
			case <-gctx.Done():
				return nil
			}
			sdNotify(logger, daemon.SdNotifyStopping)
			cancel()
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		if restartRequested {
			return exitError{code: launcher.DefaultSentinel}
		}
		return nil
	},
}

// newIssueCreator returns nil, disabling issue creation, when no token is found.
func newIssueCreator(ctx context.Context, configured string, logger *zap.Logger) (incident.IssueCreator, error) {
	token, source, err := gh.ResolveToken(ctx, configured)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve GitHub auth token: %w", err)
	}
	if token == "" {
		logger.Warn("no GitHub token found, incidents are logged to files only")
		return nil, nil
	}
	logger.Info("github token resolved", zap.String("source", string(source)))

	var opts []gh.Option
	if cfg.Runtime.Verbose {
		opts = append(opts, gh.WithLogger(logger))
	}
	client, err := gh.NewClient(ctx, token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return client, nil
}

// sdNotify reports state to systemd. It does nothing outside a notify unit.
func sdNotify(logger *zap.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("systemd notify failed", zap.String("state", state), zap.Error(err))
		return
	}
	if sent {
		logger.Debug("systemd notified", zap.String("state", state))
	}
}

// resolveLogDir anchors a relative log directory next to the executable.
func resolveLogDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	base, err := launcher.ScriptDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, dir), nil
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&cfg.Watch.FetchInterval, flags.FlagFetchInterval, config.DefaultFetchInterval, "Minimum time between fetches of one repository")
	watchCmd.Flags().DurationVar(&cfg.Watch.Tick, flags.FlagTick, config.DefaultTick, "Supervision loop period")
	watchCmd.Flags().StringVar(&cfg.Watch.LogDir, flags.FlagLogDir, cfg.Watch.LogDir, "Incident log directory; relative paths are next to this executable")
	watchCmd.Flags().StringVar(&cfg.Watch.MetricsAddr, flags.FlagMetricsAddr, "", "Serve /status, /metrics and /healthz on this address")
	watchCmd.Flags().BoolVar(&cfg.Watch.ReloadOnChange, flags.FlagReload, false, "Exit with code 10 when the --config file changes")
}
