package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/vault-client-go"
	"go.uber.org/zap"
)

// ProvideVault builds a vault client from VAULT_ADDR/VAULT_TOKEN. Without
// VAULT_ADDR no client is returned and secrets come from config only.
func ProvideVault() (*vault.Client, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	return client, nil
}

func overlayVault(ctx context.Context, client *vault.Client, cfg *Config) error {
	path := cfg.Vault.SecretPath
	if path == "" {
		path = cfg.AppEnv
	}

	zap.L().Info("Starting Get Secrets", zap.String("path", path))
	secret, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(cfg.Vault.MountPath))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return fmt.Errorf("read vault secret %q: %w", path, err)
	}
	zap.L().Info("Success Get Secret")

	applySecrets(cfg, secret.Data.Data)
	return nil
}

// applySecrets overrides credentials with the values present in data.
// Missing keys keep whatever the file or environment provided.
func applySecrets(cfg *Config, data map[string]any) {
	get := func(key, fallback string) string {
		if val, ok := data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("database_user", cfg.Database.User)
	cfg.Database.Password = get("database_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Minio.AccessKey = get("minio_access_key", cfg.Minio.AccessKey)
	cfg.Minio.SecretKey = get("minio_secret_key", cfg.Minio.SecretKey)
	cfg.ThirdPartyAPI.APIKey = get("third_party_api_key", cfg.ThirdPartyAPI.APIKey)
	cfg.AIGateway.APIKey = get("ai_gateway_api_key", cfg.AIGateway.APIKey)
}
