package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the strata configuration file
// (~/.config/strata/config.yaml). All optional fields use pointers so an
// unset value never shadows a flag default.
type Config struct {
	ServerAddress string `yaml:"server_address"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`

	// Bench defaults
	Layers *int64 `yaml:"layers"`
	Batch  *int64 `yaml:"batch"`
	Seq    *int64 `yaml:"seq"`
	Steps  *int64 `yaml:"steps"`
	Seed   *int64 `yaml:"seed"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "strata", "config.yaml")
}

// loadConfig reads the config file if it exists. A missing file is not an
// error; a malformed one is.
func loadConfig() (Config, error) {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
