package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// Traces is auto, otlp, stderr or none. auto picks otlp when an
	// endpoint is set and stderr otherwise.
	Traces       string `yaml:"traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Engine      EngineConfig     `yaml:"engine"`
	Render      RenderConfig     `yaml:"render"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Hooks       HooksConfig      `yaml:"hooks"`
	Batch       BatchConfig      `yaml:"batch"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EngineConfig locates the synthesis engine and the local endpoint it
// reports completions to.
type EngineConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ListenBind string `yaml:"listen_bind"`
	ListenPort int    `yaml:"listen_port"`
}

// RenderConfig holds the pacing between control messages. The engine
// needs time to apply each step before the next one arrives.
type RenderConfig struct {
	Preset              string `yaml:"preset"`
	NewDelayMS          int    `yaml:"new_delay_ms"`
	ConfigDelayMS       int    `yaml:"config_delay_ms"`
	ParamsDelayMS       int    `yaml:"params_delay_ms"`
	TopologyDelayMS     int    `yaml:"topology_delay_ms"`
	RenderDelayMS       int    `yaml:"render_delay_ms"`
	CompletionTimeoutMS int    `yaml:"completion_timeout_ms"`
	BatchSize           int    `yaml:"batch_size"`
	WriteCSV            bool   `yaml:"write_csv"`
}

type EventStoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxBatches    int    `yaml:"max_batches"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// HooksConfig configures a command run after every completed render.
type HooksConfig struct {
	OnComplete string `yaml:"on_complete"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type BatchConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"max_concurrency"`
}

func Default() Config {
	return Config{
		RuntimeName: "rpp-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			Traces:       "auto",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Host:       "127.0.0.1",
			Port:       6667,
			ListenBind: "127.0.0.1",
			ListenPort: 57126,
		},
		Render: RenderConfig{
			Preset:          "rust",
			NewDelayMS:      100,
			ConfigDelayMS:   100,
			ParamsDelayMS:   100,
			TopologyDelayMS: 100,
			RenderDelayMS:   100,
			BatchSize:       8,
			WriteCSV:        true,
		},
		EventStore: EventStoreConfig{
			Enabled:       true,
			Path:          "./data/rpp-events.db",
			RetentionDays: 30,
			MaxBatches:    10000,
		},
		Hooks: HooksConfig{
			TimeoutMS: 60000,
		},
		Batch: BatchConfig{
			Enabled:     true,
			Concurrency: 1,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "RPP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "RPP_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "RPP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "RPP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "RPP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "RPP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "RPP_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.Traces, "RPP_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Embedded, "RPP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "RPP_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "RPP_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "RPP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "RPP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "RPP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "RPP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "RPP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "RPP_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Host, "RPP_ENGINE_HOST")
	overrideInt(&cfg.Engine.Port, "RPP_ENGINE_PORT")
	overrideString(&cfg.Engine.ListenBind, "RPP_ENGINE_LISTEN_BIND")
	overrideInt(&cfg.Engine.ListenPort, "RPP_ENGINE_LISTEN_PORT")
	overrideString(&cfg.Render.Preset, "RPP_RENDER_PRESET")
	overrideInt(&cfg.Render.NewDelayMS, "RPP_RENDER_NEW_DELAY_MS")
	overrideInt(&cfg.Render.ConfigDelayMS, "RPP_RENDER_CONFIG_DELAY_MS")
	overrideInt(&cfg.Render.ParamsDelayMS, "RPP_RENDER_PARAMS_DELAY_MS")
	overrideInt(&cfg.Render.TopologyDelayMS, "RPP_RENDER_TOPOLOGY_DELAY_MS")
	overrideInt(&cfg.Render.RenderDelayMS, "RPP_RENDER_RENDER_DELAY_MS")
	overrideInt(&cfg.Render.CompletionTimeoutMS, "RPP_RENDER_COMPLETION_TIMEOUT_MS")
	overrideInt(&cfg.Render.BatchSize, "RPP_RENDER_BATCH_SIZE")
	overrideBool(&cfg.Render.WriteCSV, "RPP_RENDER_WRITE_CSV")
	overrideBool(&cfg.EventStore.Enabled, "RPP_EVENT_STORE_ENABLED")
	overrideString(&cfg.EventStore.Path, "RPP_EVENT_STORE_PATH")
	overrideInt(&cfg.EventStore.RetentionDays, "RPP_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxBatches, "RPP_EVENT_STORE_MAX_BATCHES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "RPP_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Hooks.OnComplete, "RPP_HOOKS_ON_COMPLETE")
	overrideInt(&cfg.Hooks.TimeoutMS, "RPP_HOOKS_TIMEOUT_MS")
	overrideBool(&cfg.Batch.Enabled, "RPP_BATCH_ENABLED")
	overrideInt(&cfg.Batch.Concurrency, "RPP_BATCH_MAX_CONCURRENCY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if !validPort(cfg.HTTP.Port) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if !validPort(cfg.Bus.Port) {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Engine.Host == "" {
		return errors.New("engine.host must not be empty")
	}
	if !validPort(cfg.Engine.Port) {
		return errors.New("engine.port must be between 1 and 65535")
	}
	// 0 asks the kernel for an ephemeral port.
	if cfg.Engine.ListenPort < 0 || cfg.Engine.ListenPort > 65535 {
		return errors.New("engine.listen_port must be between 0 and 65535")
	}
	switch cfg.Render.Preset {
	case "rust", "legacy", "default":
	default:
		return errors.New("render.preset must be one of rust|legacy")
	}
	for name, v := range map[string]int{
		"new_delay_ms":          cfg.Render.NewDelayMS,
		"config_delay_ms":       cfg.Render.ConfigDelayMS,
		"params_delay_ms":       cfg.Render.ParamsDelayMS,
		"topology_delay_ms":     cfg.Render.TopologyDelayMS,
		"render_delay_ms":       cfg.Render.RenderDelayMS,
		"completion_timeout_ms": cfg.Render.CompletionTimeoutMS,
	} {
		if v < 0 {
			return fmt.Errorf("render.%s must be >= 0", name)
		}
	}
	if cfg.Render.BatchSize <= 0 {
		return errors.New("render.batch_size must be >= 1")
	}
	if cfg.EventStore.Enabled && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Hooks.TimeoutMS < 0 {
		return errors.New("hooks.timeout_ms must be >= 0")
	}
	switch cfg.Telemetry.Traces {
	case "", "auto", "stderr", "none":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint is required when telemetry.traces is otlp")
		}
	default:
		return errors.New("telemetry.traces must be one of auto|otlp|stderr|none")
	}
	if cfg.Batch.Enabled && cfg.Batch.Concurrency <= 0 {
		return errors.New("batch.max_concurrency must be >= 1")
	}
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
