package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/recordkit/internal/otel"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "RECORDKIT"
)

const configHeader = "# recordkit configuration\n# Values may be overridden with RECORDKIT_<KEY> environment variables.\n\n"

// configFile is the layout written to config.yaml.
type configFile struct {
	Backend     string      `yaml:"backend"`
	DataDir     string      `yaml:"data_dir,omitempty"`
	DBFile      string      `yaml:"db_file"`
	BusyTimeout string      `yaml:"busy_timeout"`
	LogLevel    string      `yaml:"log_level"`
	API         apiFile     `yaml:"api"`
	OTel        otel.Config `yaml:"otel"`
}

type apiFile struct {
	BaseURL          string `yaml:"base_url"`
	Timeout          string `yaml:"timeout"`
	RefreshTimeout   string `yaml:"refresh_timeout"`
	AuthExpiredCodes []int  `yaml:"auth_expired_codes"`
}

func defaultConfigFile(dataDir string) configFile {
	return configFile{
		Backend:     types.BackendSQLite,
		DataDir:     dataDir,
		DBFile:      types.DefaultDBFile,
		BusyTimeout: types.DefaultBusyTimeout.String(),
		LogLevel:    "info",
		API: apiFile{
			Timeout:          types.DefaultAPITimeout.String(),
			RefreshTimeout:   types.DefaultRefreshTimeout.String(),
			AuthExpiredCodes: types.DefaultAuthExpiredCodes,
		},
		OTel: otel.Config{Exporter: "stdout", ServiceName: otel.ScopeName, SampleRate: 1},
	}
}

// writeConfigIfMissing creates config.yaml with default values unless it
// already exists.
func writeConfigIfMissing(path, dataDir string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(defaultConfigFile(dataDir))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0o644)
}

// loadConfig reads config.yaml from configDir using Viper, creating the
// directory and a default file on first run. A missing config.yaml is not an
// error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := writeConfigIfMissing(filepath.Join(configDir, configFileExt), ""); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault("backend", types.BackendSQLite)
	v.SetDefault("data_dir", "")
	v.SetDefault("db_file", types.DefaultDBFile)
	v.SetDefault("busy_timeout", types.DefaultBusyTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", types.DefaultAPITimeout)
	v.SetDefault("api.refresh_timeout", types.DefaultRefreshTimeout)
	v.SetDefault("api.auth_expired_codes", types.DefaultAuthExpiredCodes)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.exporter", "stdout")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// settings decodes the store and telemetry configuration held by v.
func settings(v *viper.Viper) (types.Config, otel.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, otel.Config{}, fmt.Errorf("decode config: %w", err)
	}
	dataDir, err := fileDataDir(v)
	if err != nil {
		return cfg, otel.Config{}, err
	}
	cfg.DataDir = dataDir
	var oc otel.Config
	if err := v.UnmarshalKey("otel", &oc); err != nil {
		return cfg, oc, fmt.Errorf("decode otel config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, oc, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, oc, nil
}

// fileDataDir returns data_dir as written in the file v read. The
// environment is ignored here: RECORDKIT_DATA_DIR ranks below the config
// file and paths.ResolveDataDir applies it.
func fileDataDir(v *viper.Viper) (string, error) {
	path := v.ConfigFileUsed()
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}
	var cf configFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return "", fmt.Errorf("decode config: %w", err)
	}
	return cf.DataDir, nil
}
