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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Staged      StagedConfig    `yaml:"staged_tts"`
	Engines     EnginesConfig   `yaml:"engines"`
	EventLog    EventLogConfig  `yaml:"event_log"`
	Progress    ProgressConfig  `yaml:"progress"`
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

// StagedConfig controls the two-speed synthesis pipeline: a fast engine
// speaks a short intro while the quality engine renders the rest.
type StagedConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MaxResponseLength   int     `yaml:"max_response_length"`
	MaxIntroLength      int     `yaml:"max_intro_length"`
	ChunkTimeoutSeconds int     `yaml:"chunk_timeout_seconds"`
	TimeoutScale        float64 `yaml:"timeout_scale"`
	MaxChunks           int     `yaml:"max_chunks"`
	EnableCaching       bool    `yaml:"enable_caching"`
	CacheMaxEntries     int     `yaml:"cache_max_entries"`
}

type EngineConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, http
	Command        string `yaml:"command"`
	Endpoint       string `yaml:"endpoint"`
	Voice          string `yaml:"voice"`
	SampleRate     int    `yaml:"sample_rate"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type EnginesConfig struct {
	Fast    EngineConfig `yaml:"fast"`
	Quality EngineConfig `yaml:"quality"`
}

type EventLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ProgressConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		RuntimeName: "staccato-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Staged: StagedConfig{
			Enabled:             true,
			MaxResponseLength:   500,
			MaxIntroLength:      120,
			ChunkTimeoutSeconds: 10,
			TimeoutScale:        1.0,
			MaxChunks:           6,
			EnableCaching:       true,
			CacheMaxEntries:     256,
		},
		Engines: EnginesConfig{
			Fast: EngineConfig{
				Mode:           "mock",
				Voice:          "de-thorsten-low",
				SampleRate:     16000,
				TimeoutSeconds: 10,
			},
			Quality: EngineConfig{
				Mode:           "mock",
				Voice:          "de-thorsten-high",
				SampleRate:     22050,
				TimeoutSeconds: 30,
			},
		},
		EventLog: EventLogConfig{
			Enabled:       true,
			Path:          "./data/staccato-events.db",
			RetentionDays: 30,
		},
		Progress: ProgressConfig{
			Enabled: true,
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
	overrideString(&cfg.RuntimeName, "STACCATO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "STACCATO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "STACCATO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "STACCATO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "STACCATO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "STACCATO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "STACCATO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "STACCATO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "STACCATO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STACCATO_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "STACCATO_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "STACCATO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "STACCATO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "STACCATO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "STACCATO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "STACCATO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "STACCATO_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Staged.Enabled, "STACCATO_STAGED_ENABLED")
	overrideInt(&cfg.Staged.MaxResponseLength, "STACCATO_STAGED_MAX_RESPONSE_LENGTH")
	overrideInt(&cfg.Staged.MaxIntroLength, "STACCATO_STAGED_MAX_INTRO_LENGTH")
	overrideInt(&cfg.Staged.ChunkTimeoutSeconds, "STACCATO_STAGED_CHUNK_TIMEOUT_SECONDS")
	overrideFloat(&cfg.Staged.TimeoutScale, "STACCATO_STAGED_TIMEOUT_SCALE")
	overrideInt(&cfg.Staged.MaxChunks, "STACCATO_STAGED_MAX_CHUNKS")
	overrideBool(&cfg.Staged.EnableCaching, "STACCATO_STAGED_ENABLE_CACHING")
	overrideInt(&cfg.Staged.CacheMaxEntries, "STACCATO_STAGED_CACHE_MAX_ENTRIES")
	overrideString(&cfg.Engines.Fast.Mode, "STACCATO_ENGINE_FAST_MODE")
	overrideString(&cfg.Engines.Fast.Command, "STACCATO_ENGINE_FAST_COMMAND")
	overrideString(&cfg.Engines.Fast.Endpoint, "STACCATO_ENGINE_FAST_ENDPOINT")
	overrideString(&cfg.Engines.Fast.Voice, "STACCATO_ENGINE_FAST_VOICE")
	overrideInt(&cfg.Engines.Fast.SampleRate, "STACCATO_ENGINE_FAST_SAMPLE_RATE")
	overrideInt(&cfg.Engines.Fast.TimeoutSeconds, "STACCATO_ENGINE_FAST_TIMEOUT_SECONDS")
	overrideString(&cfg.Engines.Quality.Mode, "STACCATO_ENGINE_QUALITY_MODE")
	overrideString(&cfg.Engines.Quality.Command, "STACCATO_ENGINE_QUALITY_COMMAND")
	overrideString(&cfg.Engines.Quality.Endpoint, "STACCATO_ENGINE_QUALITY_ENDPOINT")
	overrideString(&cfg.Engines.Quality.Voice, "STACCATO_ENGINE_QUALITY_VOICE")
	overrideInt(&cfg.Engines.Quality.SampleRate, "STACCATO_ENGINE_QUALITY_SAMPLE_RATE")
	overrideInt(&cfg.Engines.Quality.TimeoutSeconds, "STACCATO_ENGINE_QUALITY_TIMEOUT_SECONDS")
	overrideBool(&cfg.EventLog.Enabled, "STACCATO_EVENT_LOG_ENABLED")
	overrideString(&cfg.EventLog.Path, "STACCATO_EVENT_LOG_PATH")
	overrideInt(&cfg.EventLog.RetentionDays, "STACCATO_EVENT_LOG_RETENTION_DAYS")
	overrideBool(&cfg.EventLog.VacuumOnStart, "STACCATO_EVENT_LOG_VACUUM_ON_START")
	overrideBool(&cfg.Progress.Enabled, "STACCATO_PROGRESS_ENABLED")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Staged.MaxResponseLength <= 0 {
		return errors.New("staged_tts.max_response_length must be positive")
	}
	if cfg.Staged.MaxIntroLength <= 0 {
		return errors.New("staged_tts.max_intro_length must be positive")
	}
	if cfg.Staged.MaxIntroLength > cfg.Staged.MaxResponseLength {
		return errors.New("staged_tts.max_intro_length must not exceed max_response_length")
	}
	if cfg.Staged.ChunkTimeoutSeconds <= 0 {
		return errors.New("staged_tts.chunk_timeout_seconds must be positive")
	}
	if cfg.Staged.TimeoutScale <= 0 {
		return errors.New("staged_tts.timeout_scale must be positive")
	}
	if cfg.Staged.MaxChunks < 1 {
		return errors.New("staged_tts.max_chunks must be >= 1")
	}
	if cfg.Staged.EnableCaching && cfg.Staged.CacheMaxEntries <= 0 {
		return errors.New("staged_tts.cache_max_entries must be positive when caching is enabled")
	}
	for name, ec := range map[string]EngineConfig{"fast": cfg.Engines.Fast, "quality": cfg.Engines.Quality} {
		switch ec.Mode {
		case "mock", "exec", "http":
		default:
			return fmt.Errorf("engines.%s.mode must be one of mock|exec|http", name)
		}
		if ec.Mode == "exec" && ec.Command == "" {
			return fmt.Errorf("engines.%s.command must be set when mode=exec", name)
		}
		if ec.Mode == "http" && ec.Endpoint == "" {
			return fmt.Errorf("engines.%s.endpoint must be set when mode=http", name)
		}
		if ec.SampleRate <= 0 {
			return fmt.Errorf("engines.%s.sample_rate must be positive", name)
		}
	}
	if cfg.EventLog.Enabled {
		if cfg.EventLog.Path == "" {
			return errors.New("event_log.path must not be empty when the event log is enabled")
		}
		if cfg.EventLog.RetentionDays < 0 {
			return errors.New("event_log.retention_days must be >= 0")
		}
	}
	return nil
}
