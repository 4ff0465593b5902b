package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Machine    MachineConfig    `mapstructure:"machine"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type SimulationConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type MachineConfig struct {
	Profile     string       `mapstructure:"profile"`
	SearchPaths []string     `mapstructure:"search_paths"`
	Sample      SampleConfig `mapstructure:"sample"`
}

type SampleConfig struct {
	Name            string  `mapstructure:"name"`
	EffectiveLength float64 `mapstructure:"effective_length"`
	ClampingLength  float64 `mapstructure:"clamping_length"`
}

type AuthConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	JWTSecretEnv   string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration        `mapstructure:"access_token_ttl"`
	Issuer         string               `mapstructure:"issuer"`
	MachineTokens  []MachineTokenConfig `mapstructure:"machine_tokens"`
}

// MachineTokenConfig registers a long-lived token for an automation client.
// Only the SHA-256 hash of the token is stored.
type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	Hash        string   `mapstructure:"hash"`
	Permissions []string `mapstructure:"permissions"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the YAML file at path on top of the defaults. An empty path
// uses defaults and environment only. Every key can be overridden through
// OTR_<SECTION>_<KEY>, e.g. OTR_SERVER_HTTP_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("simulation.tick_interval", "20ms")
	v.SetDefault("machine.profile", "opentestrig/ut50")
	v.SetDefault("machine.search_paths", []string{"./profiles"})
	v.SetDefault("machine.sample.name", "")
	v.SetDefault("machine.sample.effective_length", 0.0)
	v.SetDefault("machine.sample.clamping_length", 0.0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.issuer", "opentestrig")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetEnvPrefix("OTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}
	if c.Simulation.TickInterval <= 0 {
		return fmt.Errorf("simulation.tick_interval must be positive, got %s", c.Simulation.TickInterval)
	}
	if len(c.Machine.SearchPaths) == 0 {
		return fmt.Errorf("machine.search_paths must not be empty")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// GetJWTSecret reads the signing secret from the configured environment
// variable and falls back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}

func (l LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
