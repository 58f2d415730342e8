package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys, as they appear in config.yml.
const (
	KeyPort           = "port"
	KeyLogLevel       = "log.level"
	KeyDBPath         = "db.path"
	KeyRetention      = "db.retention"
	KeyPushURL        = "push.url"
	KeyPollURL        = "poll.url"
	KeyPollInterval   = "poll.interval"
	KeyPollTimeout    = "poll.timeout"
	KeyReconnectDelay = "reconnect.delay"
	KeyDemoEnabled    = "demo.enabled"
	KeyDemoInterval   = "demo.interval"
	KeyRateLimit      = "http.rate_limit"
	KeyRateBurst      = "http.rate_burst"
)

// Defaults match the Node-RED flow the dashboard was built against.
const (
	DefaultPort           = "8080"
	DefaultLogLevel       = "info"
	DefaultDBPath         = "app.db"
	DefaultRetention      = 7 * 24 * time.Hour
	DefaultPushURL        = "ws://localhost:1880/transformer"
	DefaultPollURL        = "http://localhost:1880/transformer"
	DefaultPollInterval   = 2 * time.Second
	DefaultPollTimeout    = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultDemoInterval   = 2 * time.Second
	DefaultRateLimit      = 20.0
	DefaultRateBurst      = 40

	envPrefix = "TRANSFORMER"
)

var (
	ErrInvalidPushURL  = errors.New("push.url must be a ws:// or wss:// URL")
	ErrInvalidPollURL  = errors.New("poll.url must be an http:// or https:// URL")
	ErrInvalidDuration = errors.New("durations must be > 0")
	ErrInvalidRate     = errors.New("http.rate_limit must be >= 0 and http.rate_burst > 0 when limiting")
)

// Config is the typed application configuration.
type Config struct {
	Port     string
	LogLevel string
	DBPath   string

	// Retention bounds the journal age; zero keeps everything.
	Retention time.Duration

	PushURL        string
	PollURL        string
	PollInterval   time.Duration
	PollTimeout    time.Duration
	ReconnectDelay time.Duration

	DemoEnabled  bool
	DemoInterval time.Duration

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// New returns a viper instance with defaults, config file lookup and env overrides.
// TRANSFORMER_PUSH_URL overrides push.url and so on.
func New(paths ...string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyDBPath, DefaultDBPath)
	v.SetDefault(KeyRetention, DefaultRetention)
	v.SetDefault(KeyPushURL, DefaultPushURL)
	v.SetDefault(KeyPollURL, DefaultPollURL)
	v.SetDefault(KeyPollInterval, DefaultPollInterval)
	v.SetDefault(KeyPollTimeout, DefaultPollTimeout)
	v.SetDefault(KeyReconnectDelay, DefaultReconnectDelay)
	v.SetDefault(KeyDemoEnabled, false)
	v.SetDefault(KeyDemoInterval, DefaultDemoInterval)
	v.SetDefault(KeyRateLimit, DefaultRateLimit)
	v.SetDefault(KeyRateBurst, DefaultRateBurst)
}

// Load reads configs/config.yml (a missing file is fine) and returns the validated config.
func Load(paths ...string) (*Config, error) {
	v := New(paths...)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString(KeyPort),
		LogLevel:       v.GetString(KeyLogLevel),
		DBPath:         v.GetString(KeyDBPath),
		Retention:      v.GetDuration(KeyRetention),
		PushURL:        v.GetString(KeyPushURL),
		PollURL:        v.GetString(KeyPollURL),
		PollInterval:   v.GetDuration(KeyPollInterval),
		PollTimeout:    v.GetDuration(KeyPollTimeout),
		ReconnectDelay: v.GetDuration(KeyReconnectDelay),
		DemoEnabled:    v.GetBool(KeyDemoEnabled),
		DemoInterval:   v.GetDuration(KeyDemoInterval),
		RateLimit:      v.GetFloat64(KeyRateLimit),
		RateBurst:      v.GetInt(KeyRateBurst),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks endpoint schemes and that every cadence is positive.
func (c *Config) Validate() error {
	if err := checkURL(c.PushURL, "ws", "wss"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPushURL, err)
	}
	if err := checkURL(c.PollURL, "http", "https"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPollURL, err)
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 || c.ReconnectDelay <= 0 {
		return ErrInvalidDuration
	}
	if c.Retention < 0 || (c.DemoEnabled && c.DemoInterval <= 0) {
		return ErrInvalidDuration
	}
	// A zero rate turns API limiting off.
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return ErrInvalidRate
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}
