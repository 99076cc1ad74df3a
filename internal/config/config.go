package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// DefaultRUTTokenKey is used when RUT_TOKEN_KEY is unset. It is public, so
// tokens minted with it are only stable, not secret.
const DefaultRUTTokenKey = "insecure-default-rut-token-key"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		URL string
	}
	Auth struct {
		SecretKey    string        `mapstructure:"secret_key"`
		TokenTTL     time.Duration `mapstructure:"token_ttl"`
		CookieSecure bool          `mapstructure:"cookie_secure"`
		BcryptCost   int           `mapstructure:"bcrypt_cost"`
	}
	RUT struct {
		TokenKey string `mapstructure:"token_key"`
	}
	CORS struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	}
	Log struct {
		Level  string
		Format string
	}
	// Metrics.Addr is the internal listener for /metrics; empty disables it.
	Metrics struct {
		Addr string
	}
}

// Load reads configuration from environment variables, an optional .env file
// and an optional config.yaml in the working directory. Variables already set
// in the environment win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load() // optional file

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8000")
	v.SetDefault("database.url", "data/personas.db")
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.cookie_secure", true)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("rut.token_key", DefaultRUTTokenKey)
	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "127.0.0.1:9090")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitOrigins(cfg.CORS.AllowedOrigins)

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return fmt.Errorf("%w: AUTH_SECRET_KEY is required", ErrInvalidConfig)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("%w: AUTH_TOKEN_TTL must be positive", ErrInvalidConfig)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: AUTH_BCRYPT_COST must be between %d and %d", ErrInvalidConfig, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if strings.TrimSpace(c.RUT.TokenKey) == "" {
		return fmt.Errorf("%w: RUT_TOKEN_KEY must not be blank", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("%w: DATABASE_URL must not be blank", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err)
	}
	if c.Metrics.Addr != "" && c.Metrics.Addr == c.Server.Addr {
		return fmt.Errorf("%w: METRICS_ADDR must differ from SERVER_ADDR", ErrInvalidConfig)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be text or json", ErrInvalidConfig)
	}
	return nil
}

// UsesDefaultRUTKey reports whether RUT tokens are derived from the public
// fallback key.
func (c Config) UsesDefaultRUTKey() bool {
	return c.RUT.TokenKey == DefaultRUTTokenKey
}

// splitOrigins flattens comma separated entries and drops blanks.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}
