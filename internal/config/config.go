package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stlehmann/qthmi.ads/internal/ads"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	ADS      ADSConfig      `mapstructure:"ads"`
	Screens  ScreensConfig  `mapstructure:"screens"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Transports for ADSConfig.Transport
const (
	TransportTCP    = "tcp"
	TransportMemory = "memory"
)

type ADSConfig struct {
	Transport    string        `mapstructure:"transport"`
	Address      string        `mapstructure:"address"`
	TargetNetID  string        `mapstructure:"target_net_id"`
	SourceNetID  string        `mapstructure:"source_net_id"`
	SourcePort   int           `mapstructure:"source_port"`
	Port         int           `mapstructure:"port"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RollbackOnWriteFailure restores the cached value when a write fails.
	RollbackOnWriteFailure bool `mapstructure:"rollback_on_write_failure"`
}

type ScreensConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	Default     string   `mapstructure:"default"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
	Users                  []StaticUser  `mapstructure:"users"`
}

// StaticUser is a user declared in the config file, used when no database
// is configured.
type StaticUser struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// Load reads the YAML file at path. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.development", false)

	v.SetDefault("ads.transport", TransportTCP)
	v.SetDefault("ads.address", "127.0.0.1:48898")
	v.SetDefault("ads.target_net_id", "")
	v.SetDefault("ads.source_net_id", "")
	v.SetDefault("ads.source_port", 32905)
	v.SetDefault("ads.port", ads.PortPLCRuntime1)
	v.SetDefault("ads.timeout", "2s")
	v.SetDefault("ads.poll_interval", "500ms")
	v.SetDefault("ads.rollback_on_write_failure", false)

	v.SetDefault("screens.search_paths", []string{"screens"})
	v.SetDefault("screens.default", "demo")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "qthmi")
	v.SetDefault("database.user", "qthmi")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	// Auth Defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	// Environment Variables mit Prefix QTHMI_, z.B. QTHMI_ADS_ADDRESS
	v.SetEnvPrefix("QTHMI")
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
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.ADS.Transport {
	case TransportTCP, TransportMemory:
	default:
		return fmt.Errorf("ads.transport must be %q or %q, got %q", TransportTCP, TransportMemory, c.ADS.Transport)
	}
	if c.ADS.Port < 1 || c.ADS.Port > 0xFFFF {
		return fmt.Errorf("ads.port %d out of range", c.ADS.Port)
	}
	if c.ADS.SourcePort < 1 || c.ADS.SourcePort > 0xFFFF {
		return fmt.Errorf("ads.source_port %d out of range", c.ADS.SourcePort)
	}
	if c.ADS.PollInterval <= 0 {
		return fmt.Errorf("ads.poll_interval must be positive")
	}
	if c.ADS.Timeout <= 0 {
		return fmt.Errorf("ads.timeout must be positive")
	}
	if _, err := c.ADS.TargetNetIDValue(); err != nil {
		return err
	}
	if _, err := c.ADS.SourceNetIDValue(); err != nil {
		return err
	}
	for i, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth.users[%d]: username and password_hash are required", i)
		}
	}
	return nil
}

// TargetNetIDValue parses target_net_id. An empty value yields the zero id.
func (a *ADSConfig) TargetNetIDValue() (ads.NetID, error) {
	return parseOptionalNetID("ads.target_net_id", a.TargetNetID)
}

func (a *ADSConfig) SourceNetIDValue() (ads.NetID, error) {
	return parseOptionalNetID("ads.source_net_id", a.SourceNetID)
}

func parseOptionalNetID(key, s string) (ads.NetID, error) {
	if s == "" {
		return ads.NetID{}, nil
	}
	id, err := ads.ParseNetID(s)
	if err != nil {
		return ads.NetID{}, fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
