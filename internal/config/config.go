package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the signaling server configuration.
type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	TokenKey      string        `mapstructure:"token_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	PairingPolicy string        `mapstructure:"pairing_policy"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	WriteWait     time.Duration `mapstructure:"write_wait"`

	FindMatchLimit  int           `mapstructure:"find_match_limit"`
	FindMatchWindow time.Duration `mapstructure:"find_match_window"`
	TokenLimit      int           `mapstructure:"token_limit"`
	TokenWindow     time.Duration `mapstructure:"token_window"`
}

// ClientConfig drives the headless client.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	TokenURL          string        `mapstructure:"token_url"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	TokenTimeout      time.Duration `mapstructure:"token_timeout"`
	TokenRetries      int           `mapstructure:"token_retries"`
	TokenBackoff      time.Duration `mapstructure:"token_backoff"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	GateStaleAfter    time.Duration `mapstructure:"gate_stale_after"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	TypingIdle        time.Duration `mapstructure:"typing_idle"`
	STUNURLs          []string      `mapstructure:"stun_urls"`
}

// Load reads config/config.<CONFIG_ENV>.yaml and ROULETTE_* env vars on top of defaults.
func Load() (*Config, error) {
	v := New()
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("token_key", "")
	v.SetDefault("token_ttl", "2m")
	v.SetDefault("pairing_policy", "lifo")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("find_match_limit", 10)
	v.SetDefault("find_match_window", "10s")
	v.SetDefault("token_limit", 5)
	v.SetDefault("token_window", "1m")
	readFile(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("secret must be set")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("pairing", cfg.PairingPolicy).Msg("server config")
	return &cfg, nil
}

// LoadClient unmarshals v after applying client defaults. Callers bind flags onto v first.
func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	SetClientDefaults(v)
	readFile(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url must be set")
	}
	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = 1
	}
	log.Info().Str("module", "config").Str("server", cfg.ServerURL).Msg("client config")
	return &cfg, nil
}

func SetClientDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("token_url", "http://localhost:8080/api/token")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("token_timeout", "10s")
	v.SetDefault("token_retries", 3)
	v.SetDefault("token_backoff", "500ms")
	v.SetDefault("heartbeat_interval", "10s")
	v.SetDefault("connection_timeout", "30s")
	v.SetDefault("gate_stale_after", "5s")
	v.SetDefault("reconnect_attempts", 3)
	v.SetDefault("reconnect_backoff", "1s")
	v.SetDefault("typing_idle", "1500ms")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
}

// New returns a viper instance wired to the ROULETTE_ env prefix.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ROULETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readFile(v *viper.Viper) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
}
