package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".diffdeck"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for diffdeck settings.
const envPrefix = "DIFFDECK"

// Load reads configuration from file, environment, and defaults. If
// configPath is non-empty it names an explicit config file; otherwise the
// file is searched in the CWD and $HOME. A missing config file is not an
// error.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, v, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 0)
	v.SetDefault("root_path", "")
	v.SetDefault("timeout", 0)
	v.SetDefault("watch", 10)
	v.SetDefault("manage_repos", false)

	v.SetDefault("unified", 8)
	v.SetDefault("extra_dir_diff_args", "")
	v.SetDefault("extra_file_diff_args", "")
	v.SetDefault("max_diff_width", 160)
	v.SetDefault("theme", "googlecode")
	v.SetDefault("max_lines_for_syntax", 25000)
	v.SetDefault("diff_algorithm", "")

	v.SetDefault("colors.insert", DefaultColorInsert)
	v.SetDefault("colors.delete", DefaultColorDelete)
	v.SetDefault("colors.char_insert", DefaultColorCharInsert)
	v.SetDefault("colors.char_delete", DefaultColorCharDelete)

	v.SetDefault("log_file", "")
}
