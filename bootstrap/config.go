package bootstrap

import (
	"fmt"
	"os"

	"bookguard/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Secrets.Provider != "" {
		sugar.Infow("Secrets loaded from provider", "provider", cfg.Secrets.Provider)
	}
	if cfg.Auth.JWTSecret == "" {
		sugar.Warn("No JWT secret configured: every caller is treated as anonymous")
	}

	sugar.Infow("Config loaded",
		"environment", cfg.Environment,
		"addr", cfg.Server.Addr,
		"upstream", upstreamDescription(cfg),
		"csrf_store", cfg.CSRF.Store,
		"dedup_enabled", cfg.Dedup.Enabled,
		"csrf_enabled", cfg.CSRF.Enabled)

	return cfg, nil
}

func upstreamDescription(cfg *config.Config) string {
	if cfg.API.UpstreamURL == "" {
		return "local acknowledgement"
	}
	return cfg.API.UpstreamURL
}
