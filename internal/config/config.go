// Package config loads application configuration from an optional YAML file
// and ALERTRELAY_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bissquit/alert-relay/internal/feedback"
	"github.com/bissquit/alert-relay/internal/keystore"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/notifications/browser"
	"github.com/bissquit/alert-relay/internal/notifications/email"
	"github.com/bissquit/alert-relay/internal/notifications/ivm"
	"github.com/bissquit/alert-relay/internal/notifications/push"
	"github.com/bissquit/alert-relay/internal/notifications/sms"
	"github.com/bissquit/alert-relay/internal/pkg/auth"
	"github.com/bissquit/alert-relay/internal/pkg/redis"
	"github.com/bissquit/alert-relay/internal/retry"
	"github.com/bissquit/alert-relay/internal/stream/kafka"
)

// EnvPrefix prefixes every environment variable read by Load. Nested keys
// are separated by a double underscore: ALERTRELAY_DATABASE__URL.
const EnvPrefix = "ALERTRELAY_"

// Config is the application configuration.
type Config struct {
	Server    ServerConfig                   `koanf:"server"`
	Log       LogConfig                      `koanf:"log"`
	CORS      CORSConfig                     `koanf:"cors"`
	Database  DatabaseConfig                 `koanf:"database"`
	Redis     redis.Config                   `koanf:"redis"`
	Kafka     KafkaConfig                    `koanf:"kafka"`
	Keystore  KeystoreConfig                 `koanf:"keystore"`
	Retry     RetryConfig                    `koanf:"retry"`
	Feedback  feedback.Config                `koanf:"feedback"`
	Dispatch  notifications.DispatcherConfig `koanf:"dispatch"`
	Providers ProvidersConfig                `koanf:"providers"`
	JWT       auth.Config                    `koanf:"jwt"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// KafkaConfig holds broker settings and the alert consumer setup.
type KafkaConfig struct {
	Enabled    bool                       `koanf:"enabled"`
	Brokers    []string                   `koanf:"brokers"`
	ClientID   string                     `koanf:"client_id"`
	Group      string                     `koanf:"group"`
	RetryTopic string                     `koanf:"retry_topic"`
	Worker     notifications.WorkerConfig `koanf:"worker"`
}

// Conn returns the broker connection settings.
func (c KafkaConfig) Conn() kafka.Config {
	return kafka.Config{
		Brokers:    c.Brokers,
		ClientID:   c.ClientID,
		Group:      c.Group,
		RetryTopic: c.RetryTopic,
	}
}

// KeystoreConfig holds key store TTLs and Bloom filter sizing.
type KeystoreConfig struct {
	Bloom          keystore.BloomConfig `koanf:"bloom"`
	DedupTTL       time.Duration        `koanf:"dedup_ttl"`
	AssociationTTL time.Duration        `koanf:"association_ttl"`
	BounceTTL      time.Duration        `koanf:"bounce_ttl"`
}

// RetryConfig holds in-process and redelivery retry settings.
type RetryConfig struct {
	Template   retry.TemplateConfig          `koanf:"template"`
	CacheTTL   time.Duration                 `koanf:"cache_ttl"`
	Redelivery notifications.ProcessorConfig `koanf:"redelivery"`
}

// ProvidersConfig holds channel provider settings.
type ProvidersConfig struct {
	Email   email.Config        `koanf:"email"`
	SMS     []sms.GatewayConfig `koanf:"sms"`
	Push    push.Config         `koanf:"push"`
	Browser browser.Config      `koanf:"browser"`
	IVM     ivm.Config          `koanf:"ivm"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectAttempts: 5,
			ConnectTimeout:  30 * time.Second,
			MigrateOnStart:  true,
		},
		Redis: redis.Config{
			Addr:        "localhost:6379",
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			Databases: map[string]int{
				string(keystore.StoreUserAssociation): 0,
				string(keystore.StoreUserDedup):       1,
				string(keystore.StoreUserBounce):      2,
				string(keystore.StoreUserRetry):       3,
			},
		},
		Kafka: KafkaConfig{
			Enabled:    true,
			Brokers:    []string{"localhost:9092"},
			ClientID:   "alert-relay",
			Group:      "alert-relay",
			RetryTopic: "vehicle.alerts.retry",
			Worker:     notifications.DefaultWorkerConfig(),
		},
		Keystore: KeystoreConfig{
			Bloom:     keystore.DefaultBloomConfig(),
			DedupTTL:  72 * time.Hour,
			BounceTTL: 30 * 24 * time.Hour,
		},
		Retry: RetryConfig{
			Template:   retry.DefaultTemplateConfig(),
			CacheTTL:   24 * time.Hour,
			Redelivery: notifications.DefaultProcessorConfig(),
		},
		Feedback: feedback.Config{
			Enabled:             true,
			DefaultTopicEnabled: true,
			DefaultTopic:        "vehicle.alerts.feedback",
		},
		Dispatch: notifications.DefaultDispatcherConfig(),
		Providers: ProvidersConfig{
			Email:   email.Config{SMTPPort: 587, BatchSize: 50},
			Browser: browser.Config{Enabled: true},
			IVM:     ivm.Config{Topic: "vehicle.messages"},
		},
		JWT: auth.Config{Leeway: 30 * time.Second},
	}
}

// Load reads path (skipped when empty) and the environment on top of
// Default, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			// Lists and maps given in the file or environment replace the
			// defaults instead of being merged into them.
			ZeroFields:       true,
			WeaklyTypedInput: true,
			TagName:          "koanf",
			Result:           cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps ALERTRELAY_SERVER__METRICS_PORT to server.metrics_port.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports every missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if c.Kafka.Group == "" {
			errs = append(errs, errors.New("kafka.group is required when kafka is enabled"))
		}
		if len(c.Kafka.Worker.Topics) == 0 {
			errs = append(errs, errors.New("kafka.worker.topics is required when kafka is enabled"))
		}
	}

	if c.Providers.IVM.Enabled && !c.Kafka.Enabled {
		errs = append(errs, errors.New("providers.ivm requires kafka to be enabled"))
	}

	if c.Feedback.Enabled && c.Feedback.DefaultTopicEnabled && c.Feedback.DefaultTopic == "" {
		errs = append(errs, errors.New("feedback.default_topic is required when default topic is enabled"))
	}

	seen := make(map[string]bool, len(c.Providers.SMS))
	for i, gw := range c.Providers.SMS {
		if gw.Name == "" {
			errs = append(errs, fmt.Errorf("providers.sms[%d].name is required", i))
			continue
		}
		if seen[gw.Name] {
			errs = append(errs, fmt.Errorf("providers.sms gateway %q is defined twice", gw.Name))
		}
		seen[gw.Name] = true
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}
