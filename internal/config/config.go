package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// HTTP holds the local gateway server configuration.
type HTTP struct {
	Host string
	Port int
}

// Realtime configures the duplex event channel and the sync behavior on top
// of it.
type Realtime struct {
	Driver            string
	URL               string
	AuthToken         string
	Role              string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	AckTimeout        time.Duration
	TypingQuietPeriod time.Duration
	TypingRemoteTTL   time.Duration
}

// REST configures the platform REST API used for page-load snapshots.
type REST struct {
	BaseURL   string
	Timeout   time.Duration
	PageLimit int
}

// Cache configures snapshot caching behavior and backend selection.
type Cache struct {
	Enabled    bool
	Driver     string
	DefaultTTL time.Duration
	Redis      Redis
}

// Redis contains redis-specific connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Firehose configures republication of reconciled store changes.
type Firehose struct {
	Driver  string
	Enabled bool
	Kafka   Kafka
}

// Kafka holds Kafka connection details for the firehose publisher.
type Kafka struct {
	Brokers        []string
	ClientID       string
	Topic          string
	ConnectTimeout time.Duration
}

// Observability contains logging, tracing, and metrics configuration.
type Observability struct {
	ServiceName     string
	Environment     string
	LogLevel        string
	LogEncoding     string
	EnableTracing   bool
	TraceExporter   string
	TraceEndpoint   string
	TraceInsecure   bool
	EnableMetrics   bool
	MetricsExporter string
	PrometheusPath  string
}

// Config wraps all application configuration knobs.
type Config struct {
	HTTP          HTTP
	Realtime      Realtime
	REST          REST
	Cache         Cache
	Firehose      Firehose
	Observability Observability
}

// Module wires the configuration loader into the Fx graph.
var Module = fx.Provide(New)

var loadEnvOnce sync.Once

// New builds a Config from environment variables or defaults.
func New() (Config, error) {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})

	cfg := Config{
		HTTP: HTTP{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnvAsInt("HTTP_PORT", 8090),
		},
		Realtime: Realtime{
			Driver:            getEnv("RT_DRIVER", "websocket"),
			URL:               getEnv("RT_URL", "ws://localhost:8000/socket"),
			AuthToken:         getEnv("RT_TOKEN", ""),
			Role:              getEnv("RT_ROLE", "staff"),
			HandshakeTimeout:  getEnvAsDuration("RT_HANDSHAKE_TIMEOUT", 10*time.Second),
			ReconnectDelay:    getEnvAsDuration("RT_RECONNECT_DELAY", time.Second),
			ReconnectAttempts: getEnvAsInt("RT_RECONNECT_ATTEMPTS", 0),
			PingInterval:      getEnvAsDuration("RT_PING_INTERVAL", 25*time.Second),
			WriteTimeout:      getEnvAsDuration("RT_WRITE_TIMEOUT", 5*time.Second),
			AckTimeout:        getEnvAsDuration("RT_ACK_TIMEOUT", 10*time.Second),
			TypingQuietPeriod: getEnvAsDuration("RT_TYPING_QUIET", 3*time.Second),
			TypingRemoteTTL:   getEnvAsDuration("RT_TYPING_REMOTE_TTL", 10*time.Second),
		},
		REST: REST{
			BaseURL:   getEnv("REST_BASE_URL", "http://localhost:8000/api"),
			Timeout:   getEnvAsDuration("REST_TIMEOUT", 10*time.Second),
			PageLimit: getEnvAsInt("REST_PAGE_LIMIT", 100),
		},
		Cache: Cache{
			Enabled:    getEnvAsBool("CACHE_ENABLED", true),
			Driver:     getEnv("CACHE_DRIVER", "redis"),
			DefaultTTL: getEnvAsDuration("CACHE_DEFAULT_TTL", time.Minute*5),
			Redis: Redis{
				Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
		},
		Firehose: Firehose{
			Driver:  getEnv("FIREHOSE_DRIVER", "kafka"),
			Enabled: getEnvAsBool("FIREHOSE_ENABLED", false),
			Kafka: Kafka{
				Brokers:        getEnvAsStringSlice("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
				ClientID:       getEnv("KAFKA_CLIENT_ID", "tablewire-agent"),
				Topic:          getEnv("KAFKA_TOPIC", "tablewire.changes"),
				ConnectTimeout: getEnvAsDuration("KAFKA_CONNECT_TIMEOUT", 5*time.Second),
			},
		},
		Observability: Observability{
			ServiceName:     getEnv("OBS_SERVICE_NAME", "tablewire"),
			Environment:     getEnv("OBS_ENVIRONMENT", "local"),
			LogLevel:        getEnv("OBS_LOG_LEVEL", "info"),
			LogEncoding:     getEnv("OBS_LOG_ENCODING", "json"),
			EnableTracing:   getEnvAsBool("OBS_ENABLE_TRACING", true),
			TraceExporter:   getEnv("OBS_TRACE_EXPORTER", "stdout"),
			TraceEndpoint:   getEnv("OBS_OTLP_ENDPOINT", "localhost:4317"),
			TraceInsecure:   getEnvAsBool("OBS_OTLP_INSECURE", true),
			EnableMetrics:   getEnvAsBool("OBS_ENABLE_METRICS", true),
			MetricsExporter: getEnv("OBS_METRICS_EXPORTER", "prometheus"),
			PrometheusPath:  getEnv("OBS_PROMETHEUS_PATH", "/metrics"),
		},
	}

	if cfg.HTTP.Port <= 0 {
		return Config{}, fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}

	switch cfg.Realtime.Driver {
	case "websocket", "pipe":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported realtime driver: %s", cfg.Realtime.Driver)
	}

	if cfg.Realtime.Driver == "websocket" && cfg.Realtime.URL == "" {
		return Config{}, fmt.Errorf("missing RT_URL for websocket driver")
	}

	switch cfg.Realtime.Role {
	case "staff", "customer":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported realtime role: %s", cfg.Realtime.Role)
	}

	if cfg.Realtime.ReconnectDelay <= 0 {
		cfg.Realtime.ReconnectDelay = time.Second
	}
	if cfg.Realtime.AckTimeout <= 0 {
		cfg.Realtime.AckTimeout = 10 * time.Second
	}
	if cfg.Realtime.TypingQuietPeriod <= 0 {
		cfg.Realtime.TypingQuietPeriod = 3 * time.Second
	}
	if cfg.Realtime.PingInterval <= 0 {
		cfg.Realtime.PingInterval = 25 * time.Second
	}
	if cfg.Realtime.WriteTimeout <= 0 {
		cfg.Realtime.WriteTimeout = 5 * time.Second
	}

	if cfg.REST.BaseURL == "" {
		return Config{}, fmt.Errorf("missing REST_BASE_URL")
	}
	if cfg.REST.PageLimit <= 0 {
		cfg.REST.PageLimit = 100
	}
	if cfg.REST.Timeout <= 0 {
		cfg.REST.Timeout = 10 * time.Second
	}

	if !cfg.Cache.Enabled {
		cfg.Cache.Driver = "noop"
	}

	switch cfg.Cache.Driver {
	case "redis", "noop":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}

	if cfg.Cache.Driver == "redis" && cfg.Cache.Redis.Addr == "" {
		return Config{}, fmt.Errorf("missing REDIS_ADDR for redis cache")
	}

	if cfg.Cache.DefaultTTL < 0 {
		cfg.Cache.DefaultTTL = time.Minute * 5
	}

	if !cfg.Firehose.Enabled {
		cfg.Firehose.Driver = "noop"
	}

	switch cfg.Firehose.Driver {
	case "kafka", "noop":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported firehose driver: %s", cfg.Firehose.Driver)
	}

	if cfg.Firehose.Driver == "kafka" {
		if len(cfg.Firehose.Kafka.Brokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS must be provided")
		}
		if cfg.Firehose.Kafka.Topic == "" {
			return Config{}, fmt.Errorf("KAFKA_TOPIC must be provided")
		}
	}

	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	cfg.Observability.LogEncoding = strings.ToLower(strings.TrimSpace(cfg.Observability.LogEncoding))
	if cfg.Observability.LogEncoding == "" {
		cfg.Observability.LogEncoding = "json"
	}
	cfg.Observability.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.TraceExporter))
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = "stdout"
	}
	cfg.Observability.MetricsExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.MetricsExporter))
	if cfg.Observability.MetricsExporter == "" {
		cfg.Observability.MetricsExporter = "prometheus"
	}

	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	} else if !strings.HasPrefix(cfg.Observability.PrometheusPath, "/") {
		cfg.Observability.PrometheusPath = "/" + cfg.Observability.PrometheusPath
	}

	return cfg, nil
}
