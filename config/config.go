// Package config holds the configuration tree for training runs: the logger,
// the dataset and its variants, the network shape, metrics and the record
// source.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh/dataset"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the root configuration structure.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger"`
	Dataset DatasetConfig `mapstructure:"dataset"`
	Network NetworkConfig `mapstructure:"network"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Source  SourceConfig  `mapstructure:"source"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Format      string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size" validate:"min=0"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age" validate:"min=0"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

type ClassConfig struct {
	Name   string `mapstructure:"name" validate:"required"`
	Colour []int  `mapstructure:"colour" validate:"len=3,dive,min=0,max=255"`
}

type GeometryConfig struct {
	Shape         string  `mapstructure:"shape" validate:"required"`
	Radius        float64 `mapstructure:"radius" validate:"gt=0"`
	Intersections float64 `mapstructure:"intersections" validate:"gt=0"`
	MaxDistance   float64 `mapstructure:"max_distance" validate:"gt=0"`
	// Only used by cylinders.
	Height float64 `mapstructure:"height" validate:"min=0"`
}

type VariantsConfig struct {
	Mesh  dataset.MeshVariants  `mapstructure:"mesh"`
	Image dataset.ImageVariants `mapstructure:"image"`
}

type DatasetConfig struct {
	Classes     []ClassConfig  `mapstructure:"classes" validate:"required,min=1,dive"`
	Geometry    GeometryConfig `mapstructure:"geometry"`
	BatchSize   int            `mapstructure:"batch_size" validate:"min=1"`
	ShuffleSize int            `mapstructure:"shuffle_size" validate:"min=0"`
	Workers     int            `mapstructure:"workers" validate:"min=0"`
	Prefetch    int            `mapstructure:"prefetch" validate:"min=0"`
	Seed        uint64         `mapstructure:"seed"`
	Variants    VariantsConfig `mapstructure:"variants"`
}

type NetworkConfig struct {
	// Sublayer widths per group; the last group must end in one column per class.
	Groups  [][]int `mapstructure:"groups" validate:"required,min=1,dive,min=1,dive,min=1"`
	Seed    uint64  `mapstructure:"seed"`
	Workers int     `mapstructure:"workers" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`
	// Address to serve /metrics on while a command runs. Empty disables serving.
	Listen string `mapstructure:"listen"`
}

type SourceConfig struct {
	Kind   string `mapstructure:"kind" validate:"oneof=dir s3"`
	Dir    string `mapstructure:"dir" validate:"required_if=Kind dir"`
	Bucket string `mapstructure:"bucket" validate:"required_if=Kind s3"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// SetDefaults installs the defaults so a run works from a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "visualmesh")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("dataset.geometry.shape", "SPHERE")
	v.SetDefault("dataset.geometry.radius", 0.0949996)
	v.SetDefault("dataset.geometry.intersections", 6)
	v.SetDefault("dataset.geometry.max_distance", 20)
	v.SetDefault("dataset.batch_size", 20)
	v.SetDefault("dataset.shuffle_size", 1000)
	v.SetDefault("dataset.prefetch", 2)

	v.SetDefault("network.seed", 1)

	v.SetDefault("metrics.namespace", "visualmesh")

	v.SetDefault("source.kind", "dir")
	v.SetDefault("source.dir", ".")
}

// NewViper builds a viper instance with defaults, VISUALMESH_ environment
// overrides and, when path is set, that config file.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("VISUALMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints, then the cross-field rules that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if _, err := c.Dataset.ClassSet(); err != nil {
		return err
	}
	if _, err := c.Dataset.Geometry.Geometry(); err != nil {
		return errors.Wrap(err, "dataset.geometry")
	}
	groups := c.Network.Groups
	last := groups[len(groups)-1]
	if width, classes := last[len(last)-1], len(c.Dataset.Classes); width != classes {
		return errors.Errorf("network.groups: final width %d must equal the %d configured classes", width, classes)
	}
	return nil
}

// formatValidationError reports the first failed constraint by its field path.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if":
		return errors.Errorf("%s: field is required", field)
	case "min":
		return errors.Errorf("%s: must be at least %s", field, e.Param())
	case "gt":
		return errors.Errorf("%s: must be greater than %s", field, e.Param())
	case "max":
		return errors.Errorf("%s: must not exceed %s", field, e.Param())
	case "len":
		return errors.Errorf("%s: must have %s elements", field, e.Param())
	case "oneof":
		return errors.Errorf("%s: must be one of [%s], got %v", field, e.Param(), e.Value())
	default:
		return errors.Errorf("%s: validation failed (%s)", field, e.Tag())
	}
}
