package cli

import (
	"fmt"
	"time"

	"autowatch/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "***"

// configView is the YAML shape printed by "config show". Keys match the
// config file so the output can be saved and loaded again.
type configView struct {
	RootProject   string           `yaml:"root_project"`
	GitHubToken   string           `yaml:"github_token"`
	Env           string           `yaml:"env"`
	FetchInterval time.Duration    `yaml:"fetch_interval"`
	Tick          time.Duration    `yaml:"tick"`
	LogDir        string           `yaml:"log_dir"`
	MetricsAddr   string           `yaml:"metrics_addr,omitempty"`
	Concurrency   int              `yaml:"concurrency"`
	Projects      []config.Project `yaml:"projects"`
}

func newConfigView(c *config.Config) configView {
	token := ""
	if c.Watch.GitHubToken != "" {
		token = redacted
	}
	return configView{
		RootProject:   c.Watch.RootProject,
		GitHubToken:   token,
		Env:           c.Runtime.Env,
		FetchInterval: c.Watch.FetchInterval,
		Tick:          c.Watch.Tick,
		LogDir:        c.Watch.LogDir,
		MetricsAddr:   c.Watch.MetricsAddr,
		Concurrency:   c.Watch.Concurrency,
		Projects:      c.Watch.Projects,
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the AutoWatch configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective watch configuration as YAML",
	Long: `Print the configuration "autowatch watch" would use after merging the config
file, the environment (ROOT_PROJECT, GITHUB_TOKEN, AUTOWATCH_ENV) and the
built-in defaults. Project paths are shown with ROOT_PROJECT expanded and
per-project defaults filled in. The GitHub token is never printed.`,
	Args: cobra.NoArgs,
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

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(newConfigView(cfg)); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
