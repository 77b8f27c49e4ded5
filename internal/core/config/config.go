// Package config loads runtime settings from defaults, an optional YAML file
// (HEATMAP_CONFIG) and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geo-heatmap/internal/bounds"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

type CacheCfg struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
	OpTimeout time.Duration `yaml:"op_timeout"`
	MemoSize  int           `yaml:"memo_size"`
}

type KafkaCfg struct {
	Brokers       string        `yaml:"brokers"`
	RecordsTopic  string        `yaml:"records_topic"`
	EventsTopic   string        `yaml:"events_topic"`
	EventsEnabled bool          `yaml:"events_enabled"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`

	InvalidateEnabled bool   `yaml:"invalidate_enabled"`
	InvalidateTopic   string `yaml:"invalidate_topic"`
	GroupID           string `yaml:"group_id"`
}

type RenderCfg struct {
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	BaseImage string `yaml:"base_image"`
}

type Config struct {
	Dataset    string `yaml:"dataset"`
	Source     string `yaml:"source"`
	Input      string `yaml:"input"`
	Precision  int    `yaml:"precision"`
	Bounds     string `yaml:"bounds"`
	Thresholds string `yaml:"thresholds"`
	Workers    int    `yaml:"workers"`
	MaxCells   int    `yaml:"max_cells"`
	H3Res      int    `yaml:"h3_res"`

	Addr           string `yaml:"addr"`
	LogLevel       string `yaml:"log_level"`
	LogConsole     bool   `yaml:"log_console"`
	LogSampleN     int    `yaml:"log_sample_n"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path"`

	Cache  CacheCfg  `yaml:"cache"`
	Kafka  KafkaCfg  `yaml:"kafka"`
	Render RenderCfg `yaml:"render"`
}

const (
	SourceCSV   = "csv"
	SourceKafka = "kafka"
)

func Defaults() Config {
	return Config{
		Dataset:    "default",
		Source:     SourceCSV,
		Precision:  int(precision.Default),
		Bounds:     "auto",
		Thresholds: intensity.DefaultThresholds.String(),
		Workers:    1,
		MaxCells:   density.DefaultMaxCells,
		H3Res:      9,

		Addr:           ":8090",
		LogLevel:       "info",
		MetricsEnabled: true,
		MetricsPath:    "/metrics",

		Cache: CacheCfg{
			RedisAddr: "localhost:6379",
			TTL:       10 * time.Minute,
			OpTimeout: 250 * time.Millisecond,
			MemoSize:  64,
		},
		Kafka: KafkaCfg{
			Brokers:      "localhost:9092",
			RecordsTopic: "heatmap-records",
			EventsTopic:  "heatmap-runs",
			DrainTimeout: 30 * time.Second,

			InvalidateTopic: "heatmap-invalidate",
			GroupID:         "heatmap-invalidator",
		},
		Render: RenderCfg{Width: 1166, Height: 787},
	}
}

// FromEnv returns the defaults overridden by environment variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load applies defaults, then the YAML file named by HEATMAP_CONFIG (if any),
// then the environment, and validates the result.
func Load() (Config, error) {
	cfg, err := Resolve(os.Getenv("HEATMAP_CONFIG"))
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve is Load with an explicit file path (empty for none) and without
// validation, so callers can apply flag overrides before Validate.
func Resolve(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Dataset = getenv("HEATMAP_DATASET", c.Dataset)
	c.Source = strings.ToLower(getenv("HEATMAP_SOURCE", c.Source))
	c.Input = getenv("HEATMAP_INPUT", c.Input)
	c.Precision = getint("HEATMAP_PRECISION", c.Precision)
	c.Bounds = getenv("HEATMAP_BOUNDS", c.Bounds)
	c.Thresholds = getenv("HEATMAP_THRESHOLDS", c.Thresholds)
	c.Workers = getint("HEATMAP_WORKERS", c.Workers)
	c.MaxCells = getint("HEATMAP_MAX_CELLS", c.MaxCells)
	c.H3Res = getint("H3_RES", c.H3Res)

	c.Addr = getenv("HEATMAP_ADDR", c.Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.LogSampleN = getint("LOG_SAMPLE_N", c.LogSampleN)
	c.MetricsEnabled = getbool("METRICS_ENABLED", c.MetricsEnabled)
	c.MetricsPath = getenv("METRICS_PATH", c.MetricsPath)

	c.Cache.Enabled = getbool("GRID_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.RedisAddr = getenv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.TTL = getduration("GRID_CACHE_TTL", c.Cache.TTL)
	c.Cache.OpTimeout = getduration("CACHE_OP_TIMEOUT", c.Cache.OpTimeout)
	c.Cache.MemoSize = getint("MEMO_SIZE", c.Cache.MemoSize)

	c.Kafka.Brokers = getenv("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.RecordsTopic = getenv("KAFKA_RECORDS_TOPIC", c.Kafka.RecordsTopic)
	c.Kafka.EventsTopic = getenv("KAFKA_EVENTS_TOPIC", c.Kafka.EventsTopic)
	c.Kafka.EventsEnabled = getbool("RUN_EVENTS_ENABLED", c.Kafka.EventsEnabled)
	c.Kafka.DrainTimeout = getduration("KAFKA_DRAIN_TIMEOUT", c.Kafka.DrainTimeout)
	c.Kafka.InvalidateEnabled = getbool("INVALIDATION_ENABLED", c.Kafka.InvalidateEnabled)
	c.Kafka.InvalidateTopic = getenv("KAFKA_INVALIDATE_TOPIC", c.Kafka.InvalidateTopic)
	c.Kafka.GroupID = getenv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.Render.Width = getint("HEATMAP_IMAGE_WIDTH", c.Render.Width)
	c.Render.Height = getint("HEATMAP_IMAGE_HEIGHT", c.Render.Height)
	c.Render.BaseImage = getenv("HEATMAP_BASE_IMAGE", c.Render.BaseImage)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []string

	if err := precision.Validate(precision.Digits(c.Precision)); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := bounds.ParseMode(c.Bounds); err != nil {
		errs = append(errs, fmt.Sprintf("bounds: %v", err))
	}
	if _, err := intensity.ParseThresholds(c.Thresholds); err != nil {
		errs = append(errs, fmt.Sprintf("thresholds: %v", err))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Sprintf("workers must be >= 1, got %d", c.Workers))
	}
	if c.MaxCells < 1 || c.MaxCells > density.MaxCells {
		errs = append(errs, fmt.Sprintf("max_cells must be 1..%d, got %d", density.MaxCells, c.MaxCells))
	}
	if c.H3Res < 0 || c.H3Res > 15 {
		errs = append(errs, fmt.Sprintf("h3_res must be 0..15, got %d", c.H3Res))
	}
	switch c.Source {
	case SourceCSV:
	case SourceKafka:
		if c.Kafka.RecordsTopic == "" {
			errs = append(errs, "kafka.records_topic is required for the kafka source")
		}
	default:
		errs = append(errs, fmt.Sprintf("source must be csv or kafka, got %q", c.Source))
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.Cache.MemoSize < 0 {
		errs = append(errs, "cache.memo_size must be >= 0")
	}
	if c.Kafka.EventsEnabled && c.Kafka.EventsTopic == "" {
		errs = append(errs, "kafka.events_topic is required when run events are enabled")
	}
	if c.Kafka.InvalidateEnabled && (c.Kafka.InvalidateTopic == "" || c.Kafka.GroupID == "") {
		errs = append(errs, "kafka.invalidate_topic and kafka.group_id are required when invalidation is enabled")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		errs = append(errs, fmt.Sprintf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// BoundsMode parses Bounds. Call Validate first.
func (c Config) BoundsMode() (bounds.Mode, error) { return bounds.ParseMode(c.Bounds) }

// ThresholdValues parses Thresholds. Call Validate first.
func (c Config) ThresholdValues() (intensity.Thresholds, error) {
	return intensity.ParseThresholds(c.Thresholds)
}

func (c Config) Digits() precision.Digits { return precision.Digits(c.Precision) }

// KafkaBrokerList splits the comma-separated broker list.
func (c Config) KafkaBrokerList() []string { return splitCSV(c.Kafka.Brokers) }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
