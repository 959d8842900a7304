package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every settings key when read from the environment.
const EnvPrefix = "GCS_CONNECTOR"

// ConfigEnv names the settings file when --config is not given.
const ConfigEnv = EnvPrefix + "_CONFIG"

const DefaultMavenRepo = "https://repo1.maven.org/maven2"

type Config struct {
	SparkHome            string `mapstructure:"spark_home" yaml:"spark_home,omitempty"`
	SparkVersion         string `mapstructure:"spark_version" yaml:"spark_version,omitempty"`
	ConnectorVersion     string `mapstructure:"connector_version" yaml:"connector_version,omitempty"`
	ConnectorURL         string `mapstructure:"connector_url" yaml:"connector_url,omitempty"`
	MavenRepo            string `mapstructure:"maven_repo" yaml:"maven_repo,omitempty"`
	AuthType             string `mapstructure:"auth_type" yaml:"auth_type,omitempty"`
	KeyFilePath          string `mapstructure:"key_file_path" yaml:"key_file_path,omitempty"`
	RequesterPaysProject string `mapstructure:"requester_pays_project" yaml:"requester_pays_project,omitempty"`
}

// Keys lists the settings keys in file order.
var Keys = []string{
	"spark_home",
	"spark_version",
	"connector_version",
	"connector_url",
	"maven_repo",
	"auth_type",
	"key_file_path",
	"requester_pays_project",
}

func (c *Config) field(key string) (*string, bool) {
	switch key {
	case "spark_home":
		return &c.SparkHome, true
	case "spark_version":
		return &c.SparkVersion, true
	case "connector_version":
		return &c.ConnectorVersion, true
	case "connector_url":
		return &c.ConnectorURL, true
	case "maven_repo":
		return &c.MavenRepo, true
	case "auth_type":
		return &c.AuthType, true
	case "key_file_path":
		return &c.KeyFilePath, true
	case "requester_pays_project":
		return &c.RequesterPaysProject, true
	}
	return nil, false
}

// Get returns the value stored under key.
func (c *Config) Get(key string) (string, error) {
	p, ok := c.field(key)
	if !ok {
		return "", unknownKey(key)
	}
	return *p, nil
}

// Set stores value under key. An empty value clears the setting.
func (c *Config) Set(key, value string) error {
	p, ok := c.field(key)
	if !ok {
		return unknownKey(key)
	}
	if key == "auth_type" {
		value = strings.ToUpper(value)
	}
	*p = value
	return nil
}

func unknownKey(key string) error {
	valid := append([]string(nil), Keys...)
	sort.Strings(valid)
	return fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(valid, ", "))
}

func Load(path string) (*Config, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return defaults(), nil
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func defaults() *Config {
	return &Config{
		ConnectorVersion: "latest",
		MavenRepo:        DefaultMavenRepo,
	}
}

// DiscoverPath returns the settings file location: the flag if that file
// exists, then GCS_CONNECTOR_CONFIG, then the per-user config directory.
func DiscoverPath(flagPath string) string {
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err == nil {
			return flagPath
		}
	}

	if envPath := os.Getenv(ConfigEnv); envPath != "" {
		return envPath
	}

	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "install-gcs-connector", "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".install-gcs-connector", "config.yaml")
	}

	return filepath.Join(homeDir, ".config", "install-gcs-connector", "config.yaml")
}

// LoadWithEnv reads the settings file at path (if present) and applies
// GCS_CONNECTOR_* environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range Keys {
		_ = v.BindEnv(key)
	}

	_, err := os.Stat(path)
	if err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	d := defaults()
	if cfg.ConnectorVersion == "" {
		cfg.ConnectorVersion = d.ConnectorVersion
	}
	if cfg.MavenRepo == "" {
		cfg.MavenRepo = d.MavenRepo
	}
	cfg.AuthType = strings.ToUpper(cfg.AuthType)

	return cfg, nil
}
