// Package config holds inferd's runtime parameters. Values come from
// Default, then an optional file (Load), then INFERD_* environment
// variables (ApplyEnv); command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes as "30s" in every
// supported file format.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config holds runtime parameters for the service.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	DBPath    string `json:"db_path" yaml:"db_path" toml:"db_path"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// InternalSecret, when set, admits /generate callers presenting it in
	// X-Internal-Secret.
	InternalSecret string `json:"internal_secret" yaml:"internal_secret" toml:"internal_secret"`
	RequireAPIKey  bool   `json:"require_api_key" yaml:"require_api_key" toml:"require_api_key"`
	MaxBodyBytes   int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORS      CORS      `json:"cors" yaml:"cors" toml:"cors"`
	Engine    Engine    `json:"engine" yaml:"engine" toml:"engine"`
	Embedding Embedding `json:"embedding" yaml:"embedding" toml:"embedding"`
	Cache     Cache     `json:"cache" yaml:"cache" toml:"cache"`
}

type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Engine selects and tunes the accelerator runtime.
type Engine struct {
	Kind                 string   `json:"kind" yaml:"kind" toml:"kind"`
	Bin                  string   `json:"bin" yaml:"bin" toml:"bin"`
	Host                 string   `json:"host" yaml:"host" toml:"host"`
	PortStart            int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd              int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	CtxSize              int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads              int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers            int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	GPUMemoryUtilization float64  `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	MaxModelLen          int      `json:"max_model_len" yaml:"max_model_len" toml:"max_model_len"`
	StartupTimeout       Duration `json:"startup_timeout" yaml:"startup_timeout" toml:"startup_timeout"`
	ExtraArgs            []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	Temperature          float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
}

// Embedding configures the OpenAI-compatible embeddings endpoint.
type Embedding struct {
	BaseURL      string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey       string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model        string   `json:"model" yaml:"model" toml:"model"`
	Dimensions   int      `json:"dimensions" yaml:"dimensions" toml:"dimensions"`
	Timeout      Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	MemoTTL      Duration `json:"memo_ttl" yaml:"memo_ttl" toml:"memo_ttl"`
	MemoCapacity uint64   `json:"memo_capacity" yaml:"memo_capacity" toml:"memo_capacity"`
}

// Cache configures the semantic cache.
type Cache struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	ReadEnabled bool    `json:"read_enabled" yaml:"read_enabled" toml:"read_enabled"`
	Threshold   float64 `json:"threshold" yaml:"threshold" toml:"threshold"`
	Candidates  int     `json:"candidates" yaml:"candidates" toml:"candidates"`
	// WriteTimeout bounds one background embed and insert.
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
}

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Addr:         ":8000",
		LogLevel:     "info",
		LogFormat:    "console",
		DBPath:       "~/.inferd/inferd.db",
		ModelsDir:    "~/models",
		MaxBodyBytes: 1 << 20,
		CORS: CORS{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Engine: Engine{
			Kind:                 "vllm",
			Host:                 "127.0.0.1",
			PortStart:            31000,
			PortEnd:              31999,
			CtxSize:              8192,
			GPUMemoryUtilization: 0.85,
			MaxModelLen:          8192,
			StartupTimeout:       Duration{10 * time.Minute},
			Temperature:          0.7,
		},
		Embedding: Embedding{
			BaseURL:      "http://127.0.0.1:8081/v1",
			Model:        "all-MiniLM-L6-v2",
			Dimensions:   384,
			Timeout:      Duration{10 * time.Second},
			MemoTTL:      Duration{10 * time.Minute},
			MemoCapacity: 4096,
		},
		Cache: Cache{
			Enabled:      true,
			ReadEnabled:  true,
			Threshold:    0.2,
			Candidates:   8,
			WriteTimeout: Duration{30 * time.Second},
		},
	}
}

// ApplyEnv overlays INFERD_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = b
		}
	}

	str("INFERD_ADDR", &c.Addr)
	str("INFERD_LOG_LEVEL", &c.LogLevel)
	str("INFERD_LOG_FORMAT", &c.LogFormat)
	str("INFERD_DB_PATH", &c.DBPath)
	str("INFERD_MODELS_DIR", &c.ModelsDir)
	str("INFERD_INTERNAL_SECRET", &c.InternalSecret)
	boolean("INFERD_REQUIRE_API_KEY", &c.RequireAPIKey)
	boolean("INFERD_CORS_ENABLED", &c.CORS.Enabled)
	if v, ok := os.LookupEnv("INFERD_CORS_ORIGINS"); ok {
		c.CORS.AllowedOrigins = SplitCSV(v)
	}
	str("INFERD_ENGINE_KIND", &c.Engine.Kind)
	str("INFERD_ENGINE_BIN", &c.Engine.Bin)
	str("INFERD_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	str("INFERD_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	str("INFERD_EMBEDDING_MODEL", &c.Embedding.Model)
	boolean("INFERD_CACHE_ENABLED", &c.Cache.Enabled)
	boolean("INFERD_CACHE_READ_ENABLED", &c.Cache.ReadEnabled)
	if v, ok := os.LookupEnv("INFERD_CACHE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("INFERD_CACHE_THRESHOLD: %v", err))
		} else {
			c.Cache.Threshold = f
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	switch c.Engine.Kind {
	case "llama", "llama-server", "vllm":
	default:
		return fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
	}
	if c.Engine.PortStart > c.Engine.PortEnd {
		return fmt.Errorf("engine port_start %d is above port_end %d", c.Engine.PortStart, c.Engine.PortEnd)
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 2 {
		return fmt.Errorf("cache threshold %v outside (0, 2]", c.Cache.Threshold)
	}
	if c.Cache.Candidates < 1 {
		return fmt.Errorf("cache candidates must be at least 1")
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Embedding.BaseURL) == "" {
		return fmt.Errorf("cache enabled but embedding base_url is empty")
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding dimensions must not be negative")
	}
	return nil
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
