package types

import "errors"

// Config holds the options supplied once at process start. The core reads
// them and never mutates them.
type Config struct {
	Backend       string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir       string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	SyncStrategy  string `json:"sync_strategy" yaml:"sync_strategy" mapstructure:"sync_strategy"`
	StackCapacity int    `json:"stack_capacity" yaml:"stack_capacity" mapstructure:"stack_capacity"`
	DType         DType  `json:"dtype" yaml:"dtype" mapstructure:"dtype"`
	MaxKeyLength  int    `json:"max_key_length" yaml:"max_key_length" mapstructure:"max_key_length"`
	AllowEmpty    bool   `json:"allow_empty" yaml:"allow_empty" mapstructure:"allow_empty"`
	Separator     string `json:"separator" yaml:"separator" mapstructure:"separator"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Sync strategies control when collection writes reach the JSONL files.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
)

// DefaultStackCapacity bounds undo and redo depth per front.
const DefaultStackCapacity = 50

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrSyncStrategyUnknown = errors.New("unknown sync strategy")
	ErrCapacityInvalid     = errors.New("stack capacity must not be negative")
	ErrKeyLengthInvalid    = errors.New("max key length must be positive")
	ErrSeparatorInvalid    = errors.New("separator must be a single non-space character")
	ErrDTypeUnknown        = errors.New("unknown dtype")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

var knownSyncStrategies = map[string]bool{
	"":            true,
	SyncImmediate: true,
	SyncOnClose:   true,
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendSQLite,
		SyncStrategy:  SyncImmediate,
		StackCapacity: DefaultStackCapacity,
		DType:         DTypeAny,
		MaxKeyLength:  DefaultMaxKeyLength,
		Separator:     DefaultSeparator,
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if !knownSyncStrategies[c.SyncStrategy] {
		return ErrSyncStrategyUnknown
	}
	if c.StackCapacity < 0 {
		return ErrCapacityInvalid
	}
	if c.MaxKeyLength <= 0 {
		return ErrKeyLengthInvalid
	}
	if len([]rune(c.Separator)) != 1 || c.Separator == " " {
		return ErrSeparatorInvalid
	}
	if _, err := ParseDType(string(c.DType)); err != nil {
		return err
	}
	return nil
}

// Rules derives the validator rules from the configuration.
func (c Config) Rules() Rules {
	return Rules{
		MaxKeyLength: c.MaxKeyLength,
		Separator:    c.Separator,
		AllowEmpty:   c.AllowEmpty,
	}
}
