package csrf

import (
	"errors"
	"time"
)

// Config holds the CSRF guard settings
type Config struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	HardExpiry        time.Duration `mapstructure:"hard_expiry" yaml:"hard_expiry" validate:"gt=0"`
	RotationThreshold time.Duration `mapstructure:"rotation_threshold" yaml:"rotation_threshold" validate:"gt=0,ltfield=HardExpiry"`
	TokenBytes        int           `mapstructure:"token_bytes" yaml:"token_bytes" validate:"gte=16,lte=128"`
	StoreTTLGrace     time.Duration `mapstructure:"store_ttl_grace" yaml:"store_ttl_grace" validate:"gte=0"`
	HeaderName        string        `mapstructure:"header_name" yaml:"header_name" validate:"required"`
	HeaderAliases     []string      `mapstructure:"header_aliases" yaml:"header_aliases"`
	BodyField         string        `mapstructure:"body_field" yaml:"body_field"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
	CookieName        string        `mapstructure:"cookie_name" yaml:"cookie_name" validate:"required"`
	CookiePath        string        `mapstructure:"cookie_path" yaml:"cookie_path"`
	SecureCookie      bool          `mapstructure:"secure_cookie" yaml:"secure_cookie"`
	TokenPath         string        `mapstructure:"token_path" yaml:"token_path" validate:"required,startswith=/"`
	LogoutPath        string        `mapstructure:"logout_path" yaml:"logout_path"`
	SkipPaths         []string      `mapstructure:"skip_paths" yaml:"skip_paths"`
	Store             string        `mapstructure:"store" yaml:"store" validate:"oneof=redis memory"`
	MemoryCapacity    int           `mapstructure:"memory_capacity" yaml:"memory_capacity" validate:"gt=0"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		HardExpiry:        time.Hour,
		RotationThreshold: 30 * time.Minute,
		TokenBytes:        32,
		StoreTTLGrace:     time.Minute,
		HeaderName:        "X-CSRF-Token",
		HeaderAliases:     []string{"X-XSRF-Token"},
		BodyField:         "_csrf",
		MaxBodyBytes:      1 << 20,
		CookieName:        "csrf_token",
		CookiePath:        "/",
		TokenPath:         "/csrf-token",
		LogoutPath:        "/auth/logout",
		SkipPaths: []string{
			"/auth/login",
			"/auth/register",
			"/auth/refresh",
			"/auth/google",
			"/auth/oauth",
			"/csrf-token",
			"/health",
			"/metrics",
		},
		Store:          "redis",
		MemoryCapacity: 100000,
	}
}

// StoreTTL is how long the store keeps a record: the hard expiry plus grace
func (c Config) StoreTTL() time.Duration {
	return c.HardExpiry + c.StoreTTLGrace
}

// Validate checks the invariants the guard relies on
func (c Config) Validate() error {
	if c.HardExpiry <= 0 {
		return errors.New("hard expiry must be positive")
	}
	if c.RotationThreshold <= 0 || c.RotationThreshold >= c.HardExpiry {
		return errors.New("rotation threshold must be positive and below the hard expiry")
	}
	if c.TokenBytes < 16 {
		return errors.New("token bytes must be at least 16")
	}
	if c.HeaderName == "" || c.CookieName == "" {
		return errors.New("header and cookie names are required")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}
