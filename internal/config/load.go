package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// fileConfig mirrors the keys accepted in autowatch.yaml.
type fileConfig struct {
	RootProject   string        `mapstructure:"root_project"`
	GitHubToken   string        `mapstructure:"github_token"`
	Env           string        `mapstructure:"env"`
	FetchInterval time.Duration `mapstructure:"fetch_interval"`
	Tick          time.Duration `mapstructure:"tick"`
	LogDir        string        `mapstructure:"log_dir"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	Concurrency   int           `mapstructure:"concurrency"`
	Projects      []Project     `mapstructure:"projects"`
}

// Load merges an optional YAML file and the AutoWatch environment variables
// into cfg. Environment values win over the file; zero values leave cfg's
// current settings untouched so CLI defaults survive.
//
// Recognized variables: ROOT_PROJECT, GITHUB_TOKEN, AUTOWATCH_ENV.
func Load(cfg *Config, path string) error {
	if cfg == nil {
		return fmt.Errorf("load config: cfg is nil")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	_ = v.BindEnv("root_project", "ROOT_PROJECT")
	_ = v.BindEnv("github_token", "GITHUB_TOKEN")
	_ = v.BindEnv("env", "AUTOWATCH_ENV")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc fileConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&fc, hook); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if fc.RootProject != "" {
		cfg.Watch.RootProject = fc.RootProject
	}
	if fc.GitHubToken != "" {
		cfg.Watch.GitHubToken = fc.GitHubToken
	}
	if fc.Env != "" {
		cfg.Runtime.Env = fc.Env
	}
	if fc.FetchInterval != 0 {
		cfg.Watch.FetchInterval = fc.FetchInterval
	}
	if fc.Tick != 0 {
		cfg.Watch.Tick = fc.Tick
	}
	if fc.LogDir != "" {
		cfg.Watch.LogDir = fc.LogDir
	}
	if fc.MetricsAddr != "" {
		cfg.Watch.MetricsAddr = fc.MetricsAddr
	}
	if fc.Concurrency != 0 {
		cfg.Watch.Concurrency = fc.Concurrency
	}
	if len(fc.Projects) > 0 {
		cfg.Watch.Projects = fc.Projects
	}
	return nil
}

// secondsToDurationHook reads bare numbers as seconds, so "retry_delay: 10"
// means ten seconds rather than ten nanoseconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case uint64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}
