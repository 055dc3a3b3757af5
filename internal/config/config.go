package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	PeersReplyToRequest = "request"
	PeersReplyToSender  = "sender"
)

type Config struct {
	Mode       string       `mapstructure:"mode"`
	Port       int          `mapstructure:"port"`
	LogLevel   string       `mapstructure:"log_level"`
	StaticPath string       `mapstructure:"static_path"`
	Secret     string       `mapstructure:"secret"`
	Signal     SignalConfig `mapstructure:"signal"`
	WebRTC     WebRTCConfig `mapstructure:"webrtc"`
}

type SignalConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	// PeersReplyTo is "request" (answer goes to the id in the body) or "sender".
	PeersReplyTo  string `mapstructure:"peers_reply_to"`
	ErrorFrames   bool   `mapstructure:"error_frames"`
	AnnounceLeave bool   `mapstructure:"announce_leave"`
	KickSlow      bool   `mapstructure:"kick_slow"`
}

type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and CALLS_* env overrides.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("calls")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "")
	v.SetDefault("secret", "calls-dev-secret")
	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.send_buffer", 256)
	v.SetDefault("signal.rate_limit", 0)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.peers_reply_to", PeersReplyToRequest)
	v.SetDefault("signal.error_frames", false)
	v.SetDefault("signal.announce_leave", true)
	v.SetDefault("signal.kick_slow", false)
	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("peers_reply_to", cfg.Signal.PeersReplyTo).
		Bool("error_frames", cfg.Signal.ErrorFrames).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Signal.PeersReplyTo {
	case PeersReplyToRequest, PeersReplyToSender:
	default:
		errs = append(errs, fmt.Errorf("signal.peers_reply_to %q: want %q or %q", c.Signal.PeersReplyTo, PeersReplyToRequest, PeersReplyToSender))
	}
	if c.Signal.ReadLimit <= 0 {
		errs = append(errs, errors.New("signal.read_limit must be positive"))
	}
	if c.Signal.PingPeriod <= 0 {
		errs = append(errs, errors.New("signal.ping_period must be positive"))
	}
	if c.Signal.RateLimit < 0 {
		errs = append(errs, errors.New("signal.rate_limit must not be negative"))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("secret must be set"))
	}
	return errors.Join(errs...)
}
