package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"bookguard/core"
	"bookguard/csrf"
	"bookguard/dedup"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. BOOKGUARD_REDIS_ADDR
const EnvPrefix = "BOOKGUARD"

// Environment names
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// minJWTSecretLength is 256 bits, the HS256 key size
const minJWTSecretLength = 32

// Config holds all configuration for the bookguard gateway
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment" validate:"oneof=development production"`

	Server struct {
		Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	} `mapstructure:"server" yaml:"server"`

	API struct {
		// UpstreamURL is the booking application; empty means requests are acknowledged locally
		UpstreamURL          string   `mapstructure:"upstream_url" yaml:"upstream_url" validate:"omitempty,url"`
		TrustProxy           bool     `mapstructure:"trust_proxy" yaml:"trust_proxy"`
		TrustedProxyNetworks []string `mapstructure:"trusted_proxy_networks" yaml:"trusted_proxy_networks"`
	} `mapstructure:"api" yaml:"api"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	} `mapstructure:"auth" yaml:"auth"`

	Secrets SecretsConfig `mapstructure:"secrets" yaml:"secrets"`

	Dedup          dedup.Config              `mapstructure:"dedup" yaml:"dedup"`
	CSRF           csrf.Config               `mapstructure:"csrf" yaml:"csrf"`
	Redis          core.RedisOptions         `mapstructure:"redis" yaml:"redis"`
	CircuitBreaker core.CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"logging" yaml:"logging"`
}

// IsProduction reports whether the gateway runs with production hardening
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("api.upstream_url", "")
	v.SetDefault("api.trust_proxy", false)
	v.SetDefault("api.trusted_proxy_networks", []string{})

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("secrets.provider", "")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", defaultVaultPath)
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.secret_id", defaultAWSSecretID)
	v.SetDefault("secrets.aws.endpoint", "")
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")

	d := dedup.DefaultConfig()
	v.SetDefault("dedup.enabled", d.Enabled)
	v.SetDefault("dedup.default_window", d.DefaultWindow)
	v.SetDefault("dedup.route_classes", routeClassDefaults(d.RouteClasses))
	v.SetDefault("dedup.max_size", d.MaxSize)
	v.SetDefault("dedup.shards", d.Shards)
	v.SetDefault("dedup.sweep_interval", d.SweepInterval)
	v.SetDefault("dedup.max_body_bytes", d.MaxBodyBytes)
	v.SetDefault("dedup.skip_paths", d.SkipPaths)

	c := csrf.DefaultConfig()
	v.SetDefault("csrf.enabled", c.Enabled)
	v.SetDefault("csrf.hard_expiry", c.HardExpiry)
	v.SetDefault("csrf.rotation_threshold", c.RotationThreshold)
	v.SetDefault("csrf.token_bytes", c.TokenBytes)
	v.SetDefault("csrf.store_ttl_grace", c.StoreTTLGrace)
	v.SetDefault("csrf.header_name", c.HeaderName)
	v.SetDefault("csrf.header_aliases", c.HeaderAliases)
	v.SetDefault("csrf.body_field", c.BodyField)
	v.SetDefault("csrf.max_body_bytes", c.MaxBodyBytes)
	v.SetDefault("csrf.cookie_name", c.CookieName)
	v.SetDefault("csrf.cookie_path", c.CookiePath)
	v.SetDefault("csrf.secure_cookie", c.SecureCookie)
	v.SetDefault("csrf.token_path", c.TokenPath)
	v.SetDefault("csrf.logout_path", c.LogoutPath)
	v.SetDefault("csrf.skip_paths", c.SkipPaths)
	v.SetDefault("csrf.store", c.Store)
	v.SetDefault("csrf.memory_capacity", c.MemoryCapacity)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.op_timeout", "250ms")
	v.SetDefault("redis.key_prefix", "bookguard:")

	cb := core.DefaultCircuitBreakerConfig()
	v.SetDefault("circuit_breaker.max_failures", cb.MaxFailures)
	v.SetDefault("circuit_breaker.timeout", cb.Timeout)
	v.SetDefault("circuit_breaker.max_half_open_requests", cb.MaxHalfOpenRequests)

	v.SetDefault("logging.level", "info")
}

// routeClassDefaults flattens route classes into the map form viper merges with file values
func routeClassDefaults(classes []dedup.RouteClassConfig) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(classes))
	for _, rc := range classes {
		out = append(out, map[string]interface{}{
			"name":     rc.Name,
			"window":   rc.Window.String(),
			"patterns": rc.Patterns,
		})
	}
	return out
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings operators touch most
	_ = v.BindEnv("auth.jwt_secret", EnvPrefix+"_JWT_SECRET", EnvPrefix+"_AUTH_JWT_SECRET")
	_ = v.BindEnv("api.upstream_url", EnvPrefix+"_UPSTREAM_URL", EnvPrefix+"_API_UPSTREAM_URL")
}

// LoadConfig loads configuration from config.yaml (when present) and environment variables
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load reads configuration from path, or searches the default locations when path is empty.
// A missing file is not an error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := LoadSecrets(context.Background(), &config); err != nil {
		return nil, err
	}

	config.applyEnvironment()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvironment hardens settings that must not be relaxed in production
func (c *Config) applyEnvironment() {
	if c.IsProduction() {
		c.CSRF.SecureCookie = true
	}
}

func validateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return formatValidationError(err)
	}

	if err := config.Dedup.Validate(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if err := config.CSRF.Validate(); err != nil {
		return fmt.Errorf("csrf: %w", err)
	}
	if err := config.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}

	if config.API.UpstreamURL != "" {
		parsed, err := url.Parse(config.API.UpstreamURL)
		if err != nil {
			return fmt.Errorf("invalid upstream URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid upstream URL: scheme must be http or https")
		}
	}

	for _, network := range config.API.TrustedProxyNetworks {
		if !isValidIPOrCIDR(network) {
			return fmt.Errorf("invalid trusted proxy network: %q", network)
		}
	}

	if config.IsProduction() {
		if len(config.Auth.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT secret must be at least %d characters in production", minJWTSecretLength)
		}
		weakSecrets := []string{"secret", "password", "changeme", "default", "test", "example"}
		lowerSecret := strings.ToLower(config.Auth.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				return fmt.Errorf("JWT secret appears to contain weak/default value: please use a cryptographically secure random string")
			}
		}
	}

	return nil
}

// formatValidationError reports the first failing field by its namespace
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag())
}

// isValidIPOrCIDR checks if a string is a valid IP address or CIDR
func isValidIPOrCIDR(ipStr string) bool {
	if ip := net.ParseIP(ipStr); ip != nil {
		return true
	}
	if _, _, err := net.ParseCIDR(ipStr); err == nil {
		return true
	}
	return false
}
