package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix     = "LUNCH_LIST"
	EnvConfigPath = "LUNCH_LIST_CONFIG"

	MinAccessTTL = 10 * time.Minute
	MaxAccessTTL = 60 * time.Minute
)

var ErrMissingSecret = errors.New("config: LUNCH_LIST_SECRET is required")

type OTELConfig struct {
	Enable      bool    `mapstructure:"enable"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Config is resolved once at startup and handed to constructors by value.
type Config struct {
	Addr          string `mapstructure:"addr"`
	Port          int    `mapstructure:"port"`
	Redis         string `mapstructure:"redis"`
	RedisPoolSize int    `mapstructure:"redis_pool_size"`

	Secret       string        `mapstructure:"secret"`
	SignupSecret string        `mapstructure:"signup_secret"`
	AccessTTL    time.Duration `mapstructure:"access_ttl"`
	RefreshTTL   time.Duration `mapstructure:"refresh_ttl"`
	CookieSecure bool          `mapstructure:"cookie_secure"`

	StaticDir  string `mapstructure:"static_dir"`
	LogLevel   string `mapstructure:"log_level"`
	TrustProxy bool   `mapstructure:"trust_proxy"`

	DatabaseURL        string        `mapstructure:"database_url"`
	LoginMaxFailures   int           `mapstructure:"login_max_failures"`
	LoginFailureWindow time.Duration `mapstructure:"login_failure_window"`

	KafkaBrokers string `mapstructure:"kafka_brokers"`
	KafkaTopic   string `mapstructure:"kafka_topic"`

	OTEL OTELConfig `mapstructure:"otel"`
}

// Load reads an optional .env file, an optional YAML file at path and
// LUNCH_LIST_* environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetDefault("addr", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("redis", "localhost:6379")
	v.SetDefault("redis_pool_size", 10)

	v.SetDefault("secret", "")
	v.SetDefault("signup_secret", "")
	v.SetDefault("access_ttl", "15m")
	v.SetDefault("refresh_ttl", "168h")
	v.SetDefault("cookie_secure", true)

	v.SetDefault("static_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("trust_proxy", false)

	v.SetDefault("database_url", "")
	v.SetDefault("login_max_failures", 5)
	v.SetDefault("login_failure_window", "15m")

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "auth_events")

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "lunch-list")
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrMissingSecret
	}
	cfg.AccessTTL = clampAccessTTL(cfg.AccessTTL)
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, fmt.Errorf("config: refresh_ttl (%s) must exceed access_ttl (%s)", cfg.RefreshTTL, cfg.AccessTTL)
	}

	return &cfg, nil
}

func clampAccessTTL(d time.Duration) time.Duration {
	switch {
	case d < MinAccessTTL:
		return MinAccessTTL
	case d > MaxAccessTTL:
		return MaxAccessTTL
	default:
		return d
	}
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

func (c *Config) Brokers() []string {
	return CSV(c.KafkaBrokers)
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
