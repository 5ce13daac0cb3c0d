package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/studyfrog/internal/rehearsal"
	"github.com/conorfennell/studyfrog/internal/scheduler"
)

const (
	// EnvPrefix marks environment variables read as configuration. A double
	// underscore separates nesting levels: STUDYFROG_DATABASE__PATH.
	EnvPrefix = "STUDYFROG_"
	// DefaultFile is read when present and no --config flag is given.
	DefaultFile = "studyfrog.yaml"
)

type Config struct {
	Database  Database                `koanf:"database"`
	Log       Log                     `koanf:"log"`
	Rehearsal rehearsal.Configuration `koanf:"rehearsal"`
	Scheduler scheduler.Params        `koanf:"scheduler"`
	Import    Import                  `koanf:"import"`
}

type Database struct {
	Path string `koanf:"path" validate:"required"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type Import struct {
	ReposDir    string `koanf:"repos_dir" validate:"required"`
	Concurrency int    `koanf:"concurrency" validate:"gte=1,lte=64"`
}

var defaults = map[string]any{
	"database.path":              "studyfrog.db",
	"log.level":                  "info",
	"log.format":                 "text",
	"rehearsal.ordering":         string(rehearsal.Sequential),
	"rehearsal.limit":            0,
	"rehearsal.seed":             0,
	"rehearsal.include_not_due":  false,
	"scheduler.hard_factor":      scheduler.DefaultParams().HardFactor,
	"scheduler.good_factor":      scheduler.DefaultParams().GoodFactor,
	"scheduler.easy_factor":      scheduler.DefaultParams().EasyFactor,
	"scheduler.maximum_interval": scheduler.DefaultParams().MaximumInterval,
	"import.repos_dir":           "repos",
	"import.concurrency":         4,
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db":              "database.path",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"ordering":        "rehearsal.ordering",
	"limit":           "rehearsal.limit",
	"seed":            "rehearsal.seed",
	"include-not-due": "rehearsal.include_not_due",
	"repos-dir":       "import.repos_dir",
	"concurrency":     "import.concurrency",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", DefaultFile, "Path to a YAML configuration file")
	fs.String("db", "studyfrog.db", "Path to the SQLite database file")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.String("ordering", string(rehearsal.Sequential), "Item order: sequential, shuffled or weighted_by_priority")
	fs.Int("limit", 0, "Maximum number of items per run (0 for no limit)")
	fs.Int64("seed", 0, "Seed for shuffled ordering (0 for random)")
	fs.Bool("include-not-due", false, "Also rehearse items that are not due yet")
	fs.String("repos-dir", "repos", "Directory for git source checkouts")
	fs.Int("concurrency", 4, "Number of sources fetched at once")
}

// Load layers defaults, the YAML file, STUDYFROG_ environment variables and
// the parsed flags in fs, then validates the result.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	path, explicit := DefaultFile, false
	if f := fs.Lookup("config"); f != nil {
		path, explicit = f.Value.String(), f.Changed
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section, including the nested rehearsal and
// scheduler settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
