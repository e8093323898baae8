package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/xlbricks/internal/paths"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "XLBRICKS"
)

// Config keys, matching the mapstructure tags of types.Config.
const (
	cfgKeyBackend       = "backend"
	cfgKeyDataDir       = "data_dir"
	cfgKeySyncStrategy  = "sync_strategy"
	cfgKeyStackCapacity = "stack_capacity"
	cfgKeyDType         = "dtype"
	cfgKeyMaxKeyLength  = "max_key_length"
	cfgKeyAllowEmpty    = "allow_empty"
	cfgKeySeparator     = "separator"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# xlbricks configuration

# Storage backend
backend: sqlite

# Data directory (optional; overridable by --data-dir)
# data_dir:

# When JSONL files are written: immediate or on_close
sync_strategy: immediate

# Undo and redo depth per front
stack_capacity: 50

# Coercion applied to stored payloads: any, number, text, bool
dtype: any

# Key validation
max_key_length: 255
separator: "."
allow_empty: false
`

// loadConfig reads config.yaml from the resolved config directory with
// Viper, creating the directory and a default file on first run.
// XLBRICKS_* environment variables override file values; the --data-dir
// flag overrides both.
func (a *app) loadConfig() (types.Config, error) {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return types.Config{}, system(fmt.Errorf("resolve config dir: %w", err))
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return types.Config{}, system(fmt.Errorf("ensure default config: %w", err))
	}

	def := types.DefaultConfig()
	v := viper.New()
	v.SetDefault(cfgKeyBackend, def.Backend)
	v.SetDefault(cfgKeySyncStrategy, def.SyncStrategy)
	v.SetDefault(cfgKeyStackCapacity, def.StackCapacity)
	v.SetDefault(cfgKeyDType, string(def.DType))
	v.SetDefault(cfgKeyMaxKeyLength, def.MaxKeyLength)
	v.SetDefault(cfgKeyAllowEmpty, def.AllowEmpty)
	v.SetDefault(cfgKeySeparator, def.Separator)
	v.SetDefault(cfgKeyDataDir, "")
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("%w: read config: %v", types.ErrBadRequest, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("%w: decode config: %v", types.ErrBadRequest, err)
	}
	// XLBRICKS_DATA_DIR is resolved by paths below the config file value.
	fileDataDir := ""
	if v.InConfig(cfgKeyDataDir) {
		fileDataDir = v.GetString(cfgKeyDataDir)
	}
	cfg.DataDir, err = paths.ResolveDataDir(a.flags.dataDir, fileDataDir)
	if err != nil {
		return types.Config{}, system(fmt.Errorf("resolve data dir: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("%w: config: %w", types.ErrBadRequest, err)
	}
	return cfg, nil
}

// ensureDefaultConfigFile creates the config directory and a default
// config.yaml when the file does not exist.
func ensureDefaultConfigFile(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	path := paths.ConfigFile(configDir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
