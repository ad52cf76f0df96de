package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.Launch.Sentinel != 10 {
		t.Fatalf("default sentinel: got %d want 10", cfg.Launch.Sentinel)
	}
}

func TestValidate_NormalizesEnums(t *testing.T) {
	cfg := New()
	cfg.Launch.Variant = " LOOP "
	cfg.Output.ConsoleFormat = "Table"
	cfg.Runtime.Env = "DEV"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if cfg.Launch.Variant != "loop" || cfg.Output.ConsoleFormat != "table" || cfg.Runtime.Env != "dev" {
		t.Fatalf("enums not normalized: %+v %+v %+v", cfg.Launch, cfg.Output, cfg.Runtime)
	}
}

func TestValidate_UnknownRuntimeEnvFallsBackToProd(t *testing.T) {
	for _, tt := range []struct {
		raw         string
		wantIgnored string
	}{
		{raw: "Staging", wantIgnored: "staging"},
		{raw: "", wantIgnored: ""},
	} {
		cfg := New()
		cfg.Runtime.Env = tt.raw
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate(%q) returned error: %v", tt.raw, err)
		}
		if cfg.Runtime.Env != "prod" || cfg.Runtime.IgnoredEnv != tt.wantIgnored {
			t.Fatalf("Validate(%q): env=%q ignored=%q", tt.raw, cfg.Runtime.Env, cfg.Runtime.IgnoredEnv)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "variant", mutate: func(c *Config) { c.Launch.Variant = "beta" }, wantErr: "--variant"},
		{name: "sentinel_zero", mutate: func(c *Config) { c.Launch.Sentinel = 0 }, wantErr: "--sentinel"},
		{name: "sentinel_high", mutate: func(c *Config) { c.Launch.Sentinel = 256 }, wantErr: "--sentinel"},
		{name: "env_syntax", mutate: func(c *Config) { c.Launch.Env = []string{"NOEQUALS"} }, wantErr: "--env"},
		{name: "console_format", mutate: func(c *Config) { c.Output.ConsoleFormat = "xml" }, wantErr: "--console-format"},
		{name: "out_ext", mutate: func(c *Config) { c.Output.Out = "events.txt" }, wantErr: "--out-format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_InfersOutFormat(t *testing.T) {
	for ext, want := range map[string]string{".json": "json", ".ndjson": "ndjson", ".jsonl": "ndjson"} {
		cfg := New()
		cfg.Output.Out = "events" + ext
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: Validate() returned error: %v", ext, err)
		}
		if cfg.Output.OutFormat != want {
			t.Fatalf("%s: got %q want %q", ext, cfg.Output.OutFormat, want)
		}
	}
}

func TestParseEnvAssignments(t *testing.T) {
	got, err := ParseEnvAssignments([]string{"A=1", "GITHUB_TOKEN=", "A=2", "B=x=y"})
	if err != nil {
		t.Fatalf("ParseEnvAssignments returned error: %v", err)
	}
	want := map[string]string{"A": "2", "GITHUB_TOKEN": "", "B": "x=y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestValidateWatch_FillsDefaultsAndExpandsRoot(t *testing.T) {
	cfg := New()
	cfg.Watch.RootProject = "/srv/projects"

	if err := cfg.ValidateWatch(); err != nil {
		t.Fatalf("ValidateWatch() returned error: %v", err)
	}
	if len(cfg.Watch.Projects) != 2 {
		t.Fatalf("expected default projects, got %d", len(cfg.Watch.Projects))
	}
	p := cfg.Watch.Projects[0]
	if p.RepoPath != filepath.Clean("/srv/projects/cbm_vale") {
		t.Fatalf("repo path not expanded: %q", p.RepoPath)
	}
	if p.StartupPeriod != DefaultStartupPeriod || p.RetryDelay != DefaultRetryDelay || p.MaxRetries != DefaultMaxRetries {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.Script == "" || p.Branch != "main" {
		t.Fatalf("script/branch defaults not applied: %+v", p)
	}
	if got := cfg.ProjectNames(); !reflect.DeepEqual(got, []string{"cbm_vale", "tinymonitor-web"}) {
		t.Fatalf("ProjectNames: %v", got)
	}
}

func TestValidateWatch_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		projects []Project
		root     string
		wantErr  string
	}{
		{name: "missing_root", projects: []Project{{Name: "a", RepoPath: "${ROOT_PROJECT}/a"}}, wantErr: "ROOT_PROJECT"},
		{name: "missing_name", projects: []Project{{RepoPath: "/a"}}, wantErr: "name is required"},
		{name: "duplicate", projects: []Project{{Name: "a", RepoPath: "/a"}, {Name: "a", RepoPath: "/b"}}, wantErr: "duplicate"},
		{name: "missing_path", projects: []Project{{Name: "a"}}, wantErr: "repo_path"},
		{name: "bad_repo", projects: []Project{{Name: "a", RepoPath: "/a", GitHubRepo: "nope"}}, wantErr: "OWNER/REPO"},
		{name: "negative_retries", projects: []Project{{Name: "a", RepoPath: "/a", MaxRetries: -1}}, wantErr: "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.Watch.RootProject = tt.root
			cfg.Watch.Projects = tt.projects
			err := cfg.ValidateWatch()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autowatch.yaml")
	content := `root_project: /from/file
fetch_interval: 2m
tick: 3
log_dir: /var/log/autowatch
projects:
  - name: web
    repo_path: ${ROOT_PROJECT}/web
    github_repo: acme/web
    process_name: manage.py
    retry_delay: 15
    startup_period: 45s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("ROOT_PROJECT", "/from/env")
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("AUTOWATCH_ENV", "dev")

	cfg := New()
	if err := Load(cfg, path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Watch.RootProject != "/from/env" {
		t.Fatalf("env should win over file, got %q", cfg.Watch.RootProject)
	}
	if cfg.Watch.GitHubToken != "tok" || cfg.Runtime.Env != "dev" {
		t.Fatalf("env not loaded: token=%q env=%q", cfg.Watch.GitHubToken, cfg.Runtime.Env)
	}
	if cfg.Watch.FetchInterval != 2*time.Minute || cfg.Watch.Tick != 3*time.Second {
		t.Fatalf("durations: fetch=%s tick=%s", cfg.Watch.FetchInterval, cfg.Watch.Tick)
	}
	if len(cfg.Watch.Projects) != 1 {
		t.Fatalf("projects: %+v", cfg.Watch.Projects)
	}
	p := cfg.Watch.Projects[0]
	if p.RetryDelay != 15*time.Second || p.StartupPeriod != 45*time.Second {
		t.Fatalf("project durations: %+v", p)
	}

	if err := cfg.ValidateWatch(); err != nil {
		t.Fatalf("ValidateWatch: %v", err)
	}
	if cfg.Watch.Projects[0].RepoPath != filepath.Clean("/from/env/web") {
		t.Fatalf("repo path: %q", cfg.Watch.Projects[0].RepoPath)
	}
}

func TestLoad_NoFileKeepsDefaults(t *testing.T) {
	t.Setenv("ROOT_PROJECT", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("AUTOWATCH_ENV", "")

	cfg := New()
	if err := Load(cfg, ""); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Watch.Tick != 5*time.Second || cfg.Watch.LogDir != "logs" {
		t.Fatalf("defaults overwritten: %+v", cfg.Watch)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := New()
	if err := Load(cfg, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
