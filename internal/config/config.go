package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/proximity/internal/proximity"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`
	Backpressure string        `mapstructure:"backpressure"`
	JoinRate     float64       `mapstructure:"join_rate"`
	JoinBurst    int           `mapstructure:"join_burst"`

	Proximity Proximity `mapstructure:"proximity"`
}

// Proximity mirrors the bubble geometry the renderer draws with.
type Proximity struct {
	Threshold    float64 `mapstructure:"threshold"`
	AvatarRadius float64 `mapstructure:"avatar_radius"`
	Padding      float64 `mapstructure:"padding"`
	MinRadius    float64 `mapstructure:"min_radius"`
}

func (p Proximity) Engine() proximity.Engine {
	return proximity.Engine{
		Threshold:    p.Threshold,
		AvatarRadius: p.AvatarRadius,
		Padding:      p.Padding,
		MinRadius:    p.MinRadius,
	}
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("PROXIMITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Float64("threshold", cfg.Proximity.Threshold).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("backpressure", "drop")
	v.SetDefault("join_rate", 1.0)
	v.SetDefault("join_burst", 5)
	v.SetDefault("proximity.threshold", proximity.DefaultThreshold)
	v.SetDefault("proximity.avatar_radius", proximity.DefaultAvatarRadius)
	v.SetDefault("proximity.padding", proximity.DefaultPadding)
	v.SetDefault("proximity.min_radius", proximity.DefaultMinRadius)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Proximity.Threshold <= 0 {
		errs = append(errs, errors.New("proximity.threshold must be positive"))
	}
	if c.PingPeriod <= 0 || c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("ping_period and write_timeout must be positive"))
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		errs = append(errs, fmt.Errorf("backpressure %q is not drop or kick", c.Backpressure))
	}
	return errors.Join(errs...)
}
