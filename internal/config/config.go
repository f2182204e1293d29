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
	LogLevel      string `yaml:"log_level"`
	TraceExporter string `yaml:"trace_exporter"` // stdout, otlp, none
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	MetricsPath   string `yaml:"metrics_path"`
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
	EventStore  EventStoreConfig `yaml:"event_store"`
	Chat        ChatConfig       `yaml:"chat"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ChatConfig tunes the simulated assistant. Delay ranges are half-open: [min, max).
type ChatConfig struct {
	Seed                 int64   `yaml:"seed"` // 0 picks a time-based seed
	DefaultModel         string  `yaml:"default_model"`
	LatencyMinMS         int     `yaml:"latency_min_ms"`
	LatencyMaxMS         int     `yaml:"latency_max_ms"`
	ReasoningPauseMS     int     `yaml:"reasoning_pause_ms"`
	SourcesPauseMS       int     `yaml:"sources_pause_ms"`
	TokenDelayMinMS      int     `yaml:"token_delay_min_ms"`
	TokenDelayMaxMS      int     `yaml:"token_delay_max_ms"`
	ReasoningProbability float64 `yaml:"reasoning_probability"`
}

func Default() Config {
	return Config{
		RuntimeName: "mockchat",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			TraceExporter: "stdout",
			OTLPEndpoint:  "",
			OTLPInsecure:  true,
			MetricsPath:   "/metrics",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/mockchat-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Chat: ChatConfig{
			DefaultModel:         "gpt-4o",
			LatencyMinMS:         1000,
			LatencyMaxMS:         3000,
			ReasoningPauseMS:     500,
			SourcesPauseMS:       300,
			TokenDelayMinMS:      50,
			TokenDelayMaxMS:      150,
			ReasoningProbability: 0.5,
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
	overrideString(&cfg.RuntimeName, "MOCKCHAT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MOCKCHAT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MOCKCHAT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MOCKCHAT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MOCKCHAT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "MOCKCHAT_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MOCKCHAT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MOCKCHAT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.MetricsPath, "MOCKCHAT_TELEMETRY_METRICS_PATH")
	overrideBool(&cfg.Bus.Enabled, "MOCKCHAT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MOCKCHAT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MOCKCHAT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MOCKCHAT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MOCKCHAT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MOCKCHAT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MOCKCHAT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MOCKCHAT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MOCKCHAT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "MOCKCHAT_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MOCKCHAT_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MOCKCHAT_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MOCKCHAT_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MOCKCHAT_EVENT_STORE_VACUUM_ON_START")
	overrideInt64(&cfg.Chat.Seed, "MOCKCHAT_CHAT_SEED")
	overrideString(&cfg.Chat.DefaultModel, "MOCKCHAT_CHAT_DEFAULT_MODEL")
	overrideInt(&cfg.Chat.LatencyMinMS, "MOCKCHAT_CHAT_LATENCY_MIN_MS")
	overrideInt(&cfg.Chat.LatencyMaxMS, "MOCKCHAT_CHAT_LATENCY_MAX_MS")
	overrideInt(&cfg.Chat.ReasoningPauseMS, "MOCKCHAT_CHAT_REASONING_PAUSE_MS")
	overrideInt(&cfg.Chat.SourcesPauseMS, "MOCKCHAT_CHAT_SOURCES_PAUSE_MS")
	overrideInt(&cfg.Chat.TokenDelayMinMS, "MOCKCHAT_CHAT_TOKEN_DELAY_MIN_MS")
	overrideInt(&cfg.Chat.TokenDelayMaxMS, "MOCKCHAT_CHAT_TOKEN_DELAY_MAX_MS")
	overrideFloat(&cfg.Chat.ReasoningProbability, "MOCKCHAT_CHAT_REASONING_PROBABILITY")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Telemetry.TraceExporter {
	case "stdout", "none":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of stdout|otlp|none")
	}
	if !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		return errors.New("telemetry.metrics_path must start with /")
	}
	if err := validateRange("chat.latency", cfg.Chat.LatencyMinMS, cfg.Chat.LatencyMaxMS); err != nil {
		return err
	}
	if err := validateRange("chat.token_delay", cfg.Chat.TokenDelayMinMS, cfg.Chat.TokenDelayMaxMS); err != nil {
		return err
	}
	if cfg.Chat.ReasoningPauseMS < 0 || cfg.Chat.SourcesPauseMS < 0 {
		return errors.New("chat pauses must be >= 0")
	}
	if cfg.Chat.ReasoningProbability < 0 || cfg.Chat.ReasoningProbability > 1 {
		return errors.New("chat.reasoning_probability must be between 0 and 1")
	}
	return nil
}

func validateRange(name string, min, max int) error {
	if min < 0 {
		return fmt.Errorf("%s_min_ms must be >= 0", name)
	}
	if max < min {
		return fmt.Errorf("%s_max_ms must be >= %s_min_ms", name, name)
	}
	return nil
}
