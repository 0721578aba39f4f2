// Package config loads lineage configuration from YAML or CUE files.
//
// Loading starts from Default, overlays the file, and validates the result.
// Unknown keys are rejected in both formats. Command-line flags are applied
// by the caller after Load.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lineage/internal/causal"
	"github.com/roach88/lineage/internal/kvstore"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the complete lineage configuration.
type Config struct {
	// Backend selects the storage engine: "sqlite" or "badger".
	Backend string `yaml:"backend" json:"backend" validate:"required,oneof=sqlite badger"`

	// Path is the SQLite database file or the Badger directory.
	Path string `yaml:"path" json:"path" validate:"required"`

	Compare CompareConfig `yaml:"compare" json:"compare"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Badger  BadgerConfig  `yaml:"badger" json:"badger"`
}

// CompareConfig bounds causal comparisons.
type CompareConfig struct {
	Budget        int `yaml:"budget" json:"budget" validate:"gte=1"`
	MaxEscalation int `yaml:"max_escalation" json:"max_escalation" validate:"gte=1,lte=1024"`
	LayerLimit    int `yaml:"layer_limit" json:"layer_limit" validate:"gte=1"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

// BadgerConfig tunes the Badger backend. Ignored for SQLite.
type BadgerConfig struct {
	SyncWrites     bool    `yaml:"sync_writes" json:"sync_writes"`
	GCInterval     string  `yaml:"gc_interval" json:"gc_interval" validate:"omitempty,duration"`
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendSQLite,
		Path:    "lineage.db",
		Compare: CompareConfig{
			Budget:        causal.DefaultBudget,
			MaxEscalation: causal.DefaultMaxEscalation,
			LayerLimit:    causal.DefaultLayerLimit,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Badger: BadgerConfig{
			SyncWrites:     true,
			GCInterval:     "5m",
			GCDiscardRatio: 0.5,
		},
	}
}

// Load reads path (.yaml, .yml or .cue) over Default and validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, &cfg)
	case ".cue":
		err = decodeCUE(path, data, &cfg)
	default:
		return cfg, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml or .cue)", path, filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

//go:embed schema.cue
var schemaSource string

// decodeCUE unifies the file with the closed #Config schema, so unknown
// fields and out-of-range values fail with CUE positions, then overlays the
// concrete result onto cfg.
func decodeCUE(path string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return fmt.Errorf("parse CUE: %w", err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate CUE: %w", err)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return fmt.Errorf("export CUE: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode CUE: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ComparatorOptions returns the causal options for c.
func (c CompareConfig) ComparatorOptions() []causal.Option {
	return []causal.Option{
		causal.WithBudget(c.Budget),
		causal.WithMaxEscalation(c.MaxEscalation),
		causal.WithLayerLimit(c.LayerLimit),
	}
}

// SlogLevel maps Level to a slog.Level. Unknown values map to Info.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// KVStore returns the Badger configuration for path.
func (c Config) KVStore(logger *slog.Logger) kvstore.Config {
	kc := kvstore.DefaultConfig(c.Path)
	kc.SyncWrites = c.Badger.SyncWrites
	kc.GCDiscardRatio = c.Badger.GCDiscardRatio
	kc.Logger = logger
	if d, err := time.ParseDuration(c.Badger.GCInterval); err == nil {
		kc.GCInterval = d
	}
	return kc
}
