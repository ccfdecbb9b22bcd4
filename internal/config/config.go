package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cortexguard/scanhub/internal/simulate"
)

// Service variants a process can run.
const (
	VariantBaseline    = "baseline"
	VariantBlocking    = "blocking"
	VariantNonBlocking = "nonblocking"
	VariantFixed       = "fixed"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Model       ModelConfig       `mapstructure:"model"`
	Baseline    BaselineConfig    `mapstructure:"baseline"`
	Blocking    BlockingConfig    `mapstructure:"blocking"`
	NonBlocking NonBlockingConfig `mapstructure:"nonblocking"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	Variant                 string        `mapstructure:"variant"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// ModelConfig keeps the units of the original environment knobs:
// cold and startup loads in seconds, warm scans in milliseconds.
type ModelConfig struct {
	Mode            string  `mapstructure:"mode"`
	Seed            uint64  `mapstructure:"seed"`
	ColdLoadMin     float64 `mapstructure:"cold_load_min"`
	ColdLoadMax     float64 `mapstructure:"cold_load_max"`
	WarmStartupLoad float64 `mapstructure:"warm_startup_load"`
	WarmScanMin     float64 `mapstructure:"warm_scan_min"`
	WarmScanMax     float64 `mapstructure:"warm_scan_max"`
	DenyProbability float64 `mapstructure:"deny_probability"`
}

type BaselineConfig struct {
	SharedConcurrency int     `mapstructure:"shared_concurrency"`
	RequestDeadline   float64 `mapstructure:"request_deadline"` // seconds
}

type BlockingConfig struct {
	MaxConcurrency   int     `mapstructure:"max_concurrency"`
	AdmissionTimeout float64 `mapstructure:"admission_timeout"` // milliseconds
	ScanDeadline     float64 `mapstructure:"scan_deadline"`     // seconds
}

type NonBlockingConfig struct {
	Workers       int     `mapstructure:"workers"`
	MaxQueueDepth int     `mapstructure:"max_queue_depth"`
	ResultTTL     float64 `mapstructure:"result_ttl"` // seconds
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func seconds(f float64) time.Duration      { return time.Duration(f * float64(time.Second)) }
func milliseconds(f float64) time.Duration { return time.Duration(f * float64(time.Millisecond)) }

func (m ModelConfig) Simulation() simulate.Config {
	return simulate.Config{
		Mode:            simulate.Mode(m.Mode),
		ColdLoadMin:     seconds(m.ColdLoadMin),
		ColdLoadMax:     seconds(m.ColdLoadMax),
		WarmStartupLoad: seconds(m.WarmStartupLoad),
		WarmScanMin:     milliseconds(m.WarmScanMin),
		WarmScanMax:     milliseconds(m.WarmScanMax),
		DenyProbability: m.DenyProbability,
	}
}

func (b BaselineConfig) RequestDeadlineDuration() time.Duration { return seconds(b.RequestDeadline) }

func (b BlockingConfig) AdmissionTimeoutDuration() time.Duration {
	return milliseconds(b.AdmissionTimeout)
}

func (b BlockingConfig) ScanDeadlineDuration() time.Duration { return seconds(b.ScanDeadline) }

func (n NonBlockingConfig) ResultTTLDuration() time.Duration { return seconds(n.ResultTTL) }

// envAliases maps config keys to the flat environment names operators use.
// Each key is also reachable as its dotted path upper-cased with underscores.
var envAliases = map[string][]string{
	"server.variant":              {"SERVICE_VARIANT"},
	"model.mode":                  {"MODEL_MODE"},
	"model.seed":                  {"SEED"},
	"model.cold_load_min":         {"COLD_LOAD_MIN", "COLD_LOAD_MIN_S"},
	"model.cold_load_max":         {"COLD_LOAD_MAX", "COLD_LOAD_MAX_S"},
	"model.warm_startup_load":     {"WARM_STARTUP_LOAD", "WARM_STARTUP_LOAD_S"},
	"model.warm_scan_min":         {"WARM_SCAN_MIN", "WARM_SCAN_MIN_MS"},
	"model.warm_scan_max":         {"WARM_SCAN_MAX", "WARM_SCAN_MAX_MS"},
	"model.deny_probability":      {"DENY_PROBABILITY", "RANDOM_VIOLATION_RATE"},
	"baseline.shared_concurrency": {"BASELINE_SHARED_CONCURRENCY"},
	"baseline.request_deadline":   {"BASELINE_REQUEST_DEADLINE", "BASELINE_REQUEST_DEADLINE_S"},
	"blocking.max_concurrency":    {"MAX_BLOCKING_CONCURRENCY"},
	"blocking.admission_timeout":  {"BLOCKING_ADMISSION_TIMEOUT", "BLOCKING_ADMISSION_TIMEOUT_MS"},
	"blocking.scan_deadline":      {"BLOCKING_SCAN_DEADLINE", "BLOCKING_DEADLINE_SECONDS"},
	"nonblocking.workers":         {"NONBLOCKING_WORKERS"},
	"nonblocking.max_queue_depth": {"MAX_QUEUE_DEPTH"},
	"nonblocking.result_ttl":      {"RESULT_TTL", "RESULT_TTL_SECONDS"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.variant", VariantFixed)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.graceful_shutdown_timeout", 10*time.Second)

	v.SetDefault("model.mode", string(simulate.ModeWarm))
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.cold_load_min", 5.0)
	v.SetDefault("model.cold_load_max", 8.0)
	v.SetDefault("model.warm_startup_load", 8.0)
	v.SetDefault("model.warm_scan_min", 80.0)
	v.SetDefault("model.warm_scan_max", 250.0)
	v.SetDefault("model.deny_probability", 0.02)

	v.SetDefault("baseline.shared_concurrency", 24)
	v.SetDefault("baseline.request_deadline", 5.0)

	v.SetDefault("blocking.max_concurrency", 24)
	v.SetDefault("blocking.admission_timeout", 100.0)
	v.SetDefault("blocking.scan_deadline", 10.0)

	v.SetDefault("nonblocking.workers", 4)
	v.SetDefault("nonblocking.max_queue_depth", 2000)
	v.SetDefault("nonblocking.result_ttl", 86400.0)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the optional YAML file at path, overlays environment variables
// and the --variant flag when present in flags, and returns a validated Config.
// A missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable override: NONBLOCKING_WORKERS -> nonblocking.workers
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		upper := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, upper}, names...)...); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		if f := flags.Lookup("variant"); f != nil {
			if err := v.BindPFlag("server.variant", f); err != nil {
				return nil, err
			}
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Variant {
	case VariantBaseline, VariantBlocking, VariantNonBlocking, VariantFixed:
	default:
		errs = append(errs, fmt.Errorf("unknown service variant %q", c.Server.Variant))
	}
	if err := c.Model.Simulation().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Baseline.SharedConcurrency < 1 {
		errs = append(errs, fmt.Errorf("baseline.shared_concurrency must be positive"))
	}
	if c.Baseline.RequestDeadline <= 0 {
		errs = append(errs, fmt.Errorf("baseline.request_deadline must be positive"))
	}
	if c.Blocking.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("blocking.max_concurrency must be positive"))
	}
	if c.Blocking.AdmissionTimeout < 0 {
		errs = append(errs, fmt.Errorf("blocking.admission_timeout must not be negative"))
	}
	if c.Blocking.ScanDeadline <= 0 {
		errs = append(errs, fmt.Errorf("blocking.scan_deadline must be positive"))
	}
	if c.NonBlocking.Workers < 1 {
		errs = append(errs, fmt.Errorf("nonblocking.workers must be positive"))
	}
	if c.NonBlocking.MaxQueueDepth < 1 {
		errs = append(errs, fmt.Errorf("nonblocking.max_queue_depth must be positive"))
	}
	if c.NonBlocking.ResultTTL <= 0 {
		errs = append(errs, fmt.Errorf("nonblocking.result_ttl must be positive"))
	}
	return errors.Join(errs...)
}
