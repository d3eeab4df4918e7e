package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

const (
	defaultVaultPath   = "secret/bookguard"
	defaultAWSSecretID = "bookguard/secrets"

	// Secret keys looked up in the provider
	SecretJWT           = "jwt_secret"
	SecretRedisPassword = "redis_password"
)

// ErrSecretNotFound is returned when the provider has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// SecretsConfig selects where the JWT secret and Redis password come from.
// An empty provider keeps the values from the config file and environment.
type SecretsConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=vault aws"`
	Vault    struct {
		Address string `mapstructure:"address" yaml:"address"`
		Token   string `mapstructure:"token" yaml:"-"`
		Path    string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"vault" yaml:"vault"`
	AWS struct {
		Region    string `mapstructure:"region" yaml:"region"`
		SecretID  string `mapstructure:"secret_id" yaml:"secret_id"`
		Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
		AccessKey string `mapstructure:"access_key" yaml:"-"`
		SecretKey string `mapstructure:"secret_key" yaml:"-"`
	} `mapstructure:"aws" yaml:"aws"`
}

// SecretManager retrieves named secrets from an external store
type SecretManager interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	path   string
	client *api.Client
}

// NewVaultSecretManager creates a Vault-backed secret manager. The token falls back to VAULT_TOKEN.
func NewVaultSecretManager(cfg SecretsConfig) (*VaultSecretManager, error) {
	vaultCfg := api.DefaultConfig()
	if cfg.Vault.Address != "" {
		vaultCfg.Address = cfg.Vault.Address
	}
	vaultCfg.Timeout = 10 * time.Second

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Vault.Token != "" {
		client.SetToken(cfg.Vault.Token)
	}

	path := cfg.Vault.Path
	if path == "" {
		path = defaultVaultPath
	}
	return &VaultSecretManager{path: path, client: client}, nil
}

func (v *VaultSecretManager) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: nothing at path %s", ErrSecretNotFound, v.path)
	}

	data := secret.Data
	// KV version 2 nests the values under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s in Vault secret", ErrSecretNotFound, key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager. The secret holds a JSON object.
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager
}

// NewAWSSecretManager creates an AWS Secrets Manager client. Static credentials are used when
// both keys are configured, otherwise the default credential chain applies.
func NewAWSSecretManager(cfg SecretsConfig) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.AWS.Region)}
	if cfg.AWS.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.AWS.Endpoint)
	}
	if cfg.AWS.AccessKey != "" && cfg.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AWS.AccessKey, cfg.AWS.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := cfg.AWS.SecretID
	if secretID == "" {
		secretID = defaultAWSSecretID
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(ctx context.Context, key string) (string, error) {
	result, err := a.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrSecretNotFound, a.secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}
	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s in AWS secret", ErrSecretNotFound, key)
	}
	return value, nil
}

// NewSecretManager creates the configured secret manager, or nil when no provider is set
func NewSecretManager(cfg SecretsConfig) (SecretManager, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "vault":
		return NewVaultSecretManager(cfg)
	case "aws":
		return NewAWSSecretManager(cfg)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// LoadSecrets overwrites the JWT secret, and the Redis password when present, from the
// configured provider. The JWT secret is required once a provider is configured.
func LoadSecrets(ctx context.Context, config *Config) error {
	manager, err := NewSecretManager(config.Secrets)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	if manager == nil {
		return nil
	}
	return applySecrets(ctx, manager, config)
}

func applySecrets(ctx context.Context, manager SecretManager, config *Config) error {
	jwtSecret, err := manager.GetSecret(ctx, SecretJWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT secret: %w", err)
	}
	config.Auth.JWTSecret = jwtSecret

	redisPassword, err := manager.GetSecret(ctx, SecretRedisPassword)
	switch {
	case err == nil:
		config.Redis.Password = redisPassword
	case errors.Is(err, ErrSecretNotFound):
	default:
		return fmt.Errorf("failed to load Redis password: %w", err)
	}
	return nil
}
