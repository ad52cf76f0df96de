package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - CLI flags in internal/cli/launch.go and internal/cli/watch.go
	// - file keys in internal/config/load.go (fileConfig)
	// - the YAML view printed by "autowatch config show"
	Launch  Launch
	Watch   Watch
	Output  Output
	Runtime Runtime
}

type Launch struct {
	// Variant selects how the child is started (see --variant).
	// Allowed values: dev, prod, loop.
	Variant string

	// Program overrides the interpreter/executable started as the child (see --program).
	// Empty means the variant's default.
	Program string

	// Dir is the child's working directory (see --dir).
	// Empty means the directory containing the autowatch executable.
	Dir string

	// Args replaces the child's default argument list when non-empty.
	Args []string

	// Env holds extra KEY=VALUE assignments for the child (see --env).
	// Values may be provided as repeated flags.
	Env []string

	// Pause waits for Enter after a prod launch returns (see --pause).
	Pause bool

	// Sentinel is the exit code that requests a restart in the loop variant (see --sentinel).
	// Must be in 1..255.
	Sentinel int
}

type Watch struct {
	// RootProject is the directory the watched repositories live under.
	// Expanded into ${ROOT_PROJECT} in project repo paths.
	RootProject string

	// GitHubToken authenticates issue creation. Never printed.
	GitHubToken string

	// Projects lists the supervised scripts. Empty means DefaultProjects.
	Projects []Project

	// FetchInterval is the minimum time between remote fetches per repository (see --fetch-interval).
	FetchInterval time.Duration

	// Tick is the supervision loop period (see --tick).
	Tick time.Duration

	// LogDir receives incident logs (see --log-dir).
	LogDir string

	// MetricsAddr enables the status/metrics HTTP endpoint when non-empty (see --metrics-addr).
	MetricsAddr string

	// Concurrency bounds parallel repository fetches per tick. Must be >= 1.
	Concurrency int

	// ReloadOnChange exits with the restart sentinel when the config file changes (see --reload-on-change).
	ReloadOnChange bool
}

// Project is one supervised script inside a git working tree.
type Project struct {
	Name          string        `mapstructure:"name" yaml:"name"`
	RepoPath      string        `mapstructure:"repo_path" yaml:"repo_path"`
	Branch        string        `mapstructure:"branch_to_watch" yaml:"branch_to_watch"`
	Script        string        `mapstructure:"script_to_run" yaml:"script_to_run"`
	GitHubRepo    string        `mapstructure:"github_repo" yaml:"github_repo"`
	ProcessName   string        `mapstructure:"process_name" yaml:"process_name"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	StartupPeriod time.Duration `mapstructure:"startup_period" yaml:"startup_period"`
}

// ScriptPath is the absolute path of the project's start script.
func (p Project) ScriptPath() string {
	return filepath.Join(p.RepoPath, p.Script)
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, ndjson, table.
	ConsoleFormat string

	// Out writes the event stream to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool
}

type Runtime struct {
	// Env mirrors AUTOWATCH_ENV (dev or prod). Controls the log encoder.
	Env string

	// IgnoredEnv holds an unsupported non-empty AUTOWATCH_ENV value that
	// Validate replaced with prod, so the caller can warn about it.
	IgnoredEnv string

	// Verbose enables debug logging and GitHub API request lines.
	Verbose bool
}

const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 10 * time.Second
	DefaultStartupPeriod = 30 * time.Second
	DefaultBranch        = "main"

	DefaultFetchInterval = time.Minute
	DefaultTick          = 5 * time.Second
)

func New() *Config {
	return &Config{
		Launch: Launch{
			Sentinel: 10,
		},
		Watch: Watch{
			FetchInterval: DefaultFetchInterval,
			Tick:          DefaultTick,
			LogDir:        "logs",
			Concurrency:   4,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Env: "prod",
		},
	}
}

// DefaultScript is the start script name used when a project omits one.
func DefaultScript(goos string) string {
	if goos == "windows" {
		return "run.bat"
	}
	return "run.sh"
}

// DefaultProjects returns the projects AutoWatch supervises when the config lists none.
func DefaultProjects() []Project {
	return []Project{
		{
			Name:        "cbm_vale",
			RepoPath:    "${ROOT_PROJECT}/cbm_vale/",
			Branch:      DefaultBranch,
			GitHubRepo:  "arkiven4/cbm_vale",
			ProcessName: "run_cbm.py",
			MaxRetries:  DefaultMaxRetries,
			RetryDelay:  DefaultRetryDelay,
		},
		{
			Name:        "tinymonitor-web",
			RepoPath:    "${ROOT_PROJECT}/tinymonitor-web/",
			Branch:      DefaultBranch,
			GitHubRepo:  "arkiven4/tinymonitor-web",
			ProcessName: "manage.py",
			MaxRetries:  DefaultMaxRetries,
			RetryDelay:  DefaultRetryDelay,
		},
	}
}

func (c *Config) Validate() error {
	// Launch validation
	c.Launch.Variant = normalizeEnumValue(c.Launch.Variant)
	if c.Launch.Variant != "" && c.Launch.Variant != "dev" && c.Launch.Variant != "prod" && c.Launch.Variant != "loop" {
		return fmt.Errorf("unsupported --variant: %s (must be one of: dev, prod, loop)", c.Launch.Variant)
	}
	if c.Launch.Sentinel < 1 || c.Launch.Sentinel > 255 {
		return fmt.Errorf("--sentinel must be in 1..255, got %d", c.Launch.Sentinel)
	}
	if _, err := ParseEnvAssignments(c.Launch.Env); err != nil {
		return err
	}

	// Runtime: AUTOWATCH_ENV only picks the log encoder, so an unknown value
	// falls back to prod instead of blocking the command.
	c.Runtime.Env = normalizeEnumValue(c.Runtime.Env)
	if c.Runtime.Env != "dev" && c.Runtime.Env != "prod" {
		c.Runtime.IgnoredEnv = c.Runtime.Env
		c.Runtime.Env = "prod"
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, ndjson, table")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "ndjson" && c.Output.ConsoleFormat != "table" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, ndjson, table)", c.Output.ConsoleFormat)
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	return nil
}

// ValidateWatch checks the supervisor section and fills per-project defaults.
// It is separate from Validate because "launch" never needs projects.
func (c *Config) ValidateWatch() error {
	if c.Watch.FetchInterval <= 0 {
		return errors.New("--fetch-interval must be > 0")
	}
	if c.Watch.Tick <= 0 {
		return errors.New("--tick must be > 0")
	}
	if c.Watch.Concurrency <= 0 {
		return errors.New("concurrency must be >= 1")
	}
	if strings.TrimSpace(c.Watch.LogDir) == "" {
		return errors.New("--log-dir must not be empty")
	}

	if len(c.Watch.Projects) == 0 {
		c.Watch.Projects = DefaultProjects()
	}

	seen := make(map[string]struct{}, len(c.Watch.Projects))
	for i := range c.Watch.Projects {
		p := &c.Watch.Projects[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("project #%d: name is required", i+1)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("project %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}

		repoPath, err := expandRoot(p.RepoPath, c.Watch.RootProject)
		if err != nil {
			return fmt.Errorf("project %q: %w", p.Name, err)
		}
		if repoPath == "" {
			return fmt.Errorf("project %q: repo_path is required", p.Name)
		}
		p.RepoPath = filepath.Clean(repoPath)

		if p.Branch == "" {
			p.Branch = DefaultBranch
		}
		if p.Script == "" {
			p.Script = DefaultScript(runtime.GOOS)
		}
		if p.GitHubRepo != "" {
			if owner, name, ok := strings.Cut(p.GitHubRepo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
				return fmt.Errorf("project %q: github_repo must be OWNER/REPO, got %q", p.Name, p.GitHubRepo)
			}
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("project %q: max_retries must be >= 0", p.Name)
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = DefaultMaxRetries
		}
		if p.RetryDelay < 0 || p.StartupPeriod < 0 {
			return fmt.Errorf("project %q: durations must be >= 0", p.Name)
		}
		if p.RetryDelay == 0 {
			p.RetryDelay = DefaultRetryDelay
		}
		if p.StartupPeriod == 0 {
			p.StartupPeriod = DefaultStartupPeriod
		}
	}
	return nil
}

// expandRoot substitutes ${ROOT_PROJECT} (and $ROOT_PROJECT) in path.
// Other variables are taken from the process environment.
func expandRoot(path, root string) (string, error) {
	var missing bool
	out := os.Expand(strings.TrimSpace(path), func(name string) string {
		if name == "ROOT_PROJECT" {
			if root == "" {
				missing = true
			}
			return root
		}
		return os.Getenv(name)
	})
	if missing {
		return "", errors.New("repo_path references ROOT_PROJECT but ROOT_PROJECT is not set")
	}
	return out, nil
}

// ParseEnvAssignments parses values of the form "KEY=VALUE".
//
// Notes:
// - Empty values are allowed ("GITHUB_TOKEN=").
// - The last assignment of a key wins.
func ParseEnvAssignments(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env entry %q: expected KEY=VALUE", raw)
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("invalid --env entry %q: expected non-empty KEY without spaces", raw)
		}
		out[key] = value
	}
	return out, nil
}

// ProjectNames returns the configured project names, sorted.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Watch.Projects))
	for _, p := range c.Watch.Projects {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
