package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
)

// SecretsClient is the part of the Secrets Manager API LoadEnv uses.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadEnv pulls secrets from AWS Secrets Manager when
// AWS_SECRETS_MANAGER_SECRET_ID is set, then loads a .env file. Values
// already in the environment win over both unless
// AWS_SECRETS_MANAGER_OVERWRITE=true. Failures are logged, never fatal.
func LoadEnv(ctx context.Context, defaultEnvPath string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if secretID := secretIDFromEnv(); secretID != "" {
		client, err := newSecretsClient(ctx, os.Getenv("AWS_SECRETS_MANAGER_REGION"))
		if err != nil {
			logger.Warn("Skipping AWS Secrets Manager load", "error", err)
		} else if err := loadSecretIntoEnv(ctx, client, secretID, logger); err != nil {
			logger.Warn("Skipping AWS Secrets Manager load", "secret_id", secretID, "error", err)
		}
	}

	loadDotEnv(defaultEnvPath, logger)
}

func secretIDFromEnv() string {
	if id := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID"); id != "" {
		return id
	}
	return os.Getenv("AWS_SECRET_ID")
}

func newSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

func loadSecretIntoEnv(ctx context.Context, client SecretsClient, secretID string, logger *slog.Logger) error {
	versionStage := os.Getenv("AWS_SECRETS_MANAGER_VERSION_STAGE")
	if versionStage == "" {
		versionStage = "AWSCURRENT"
	}

	output, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(versionStage),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload []byte
	switch {
	case output.SecretString != nil:
		payload = []byte(*output.SecretString)
	case len(output.SecretBinary) > 0:
		payload = output.SecretBinary
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")
	applied, err := applySecret(payload, overwrite)
	if err != nil {
		return fmt.Errorf("secret %s: %w", secretID, err)
	}

	logger.Info("Loaded environment from AWS Secrets Manager",
		"secret_id", secretID,
		"applied", applied,
		"overwrite", overwrite)
	return nil
}

// applySecret sets every key of a flat JSON object as an environment
// variable and returns how many were set.
func applySecret(payload []byte, overwrite bool) (int, error) {
	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err != nil {
		return 0, fmt.Errorf("parsing secret as JSON: %w", err)
	}

	applied := 0
	for key, val := range kv {
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return applied, fmt.Errorf("setting env %s from secret: %w", key, err)
		}
		applied++
	}
	return applied, nil
}

func loadDotEnv(defaultEnvPath string, logger *slog.Logger) {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = defaultEnvPath
	}

	err := godotenv.Load(envFile)
	if err == nil {
		logger.Debug("Loaded .env file", "path", envFile)
		return
	}
	if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", "path", envFile, "error", err)
		return
	}
	// Orchestrators inject the environment directly.
	if os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		logger.Info("No .env file, using process environment", "path", envFile)
	}
}
