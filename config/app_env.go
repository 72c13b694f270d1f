package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/pkg/utils"
	"github.com/joho/godotenv"
)

const AppEnvKey = "APP_ENV"

// autoMigrateEnvs are the APP_ENV values that may run --auto-migrate.
var autoMigrateEnvs = []string{"", "dev", "development", "local", "test", "testing"}

// InitializeEnvFile loads .env into the process environment unless
// SKIP_DOTENV is set. Variables already present are kept.
func InitializeEnvFile(logger *log.Logger) {
	if utils.GetEnvBool("SKIP_DOTENV", false) {
		logger.Info("Skipping .env file load", "skip_dotenv", true)
		return
	}

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file loaded", "error", err.Error())
		return
	}

	logger.Info("Environment variables loaded from .env file")
}

// GetAppEnv returns APP_ENV lowercased.
func GetAppEnv() string {
	return strings.ToLower(utils.GetEnvTrimmed(AppEnvKey))
}

func ValidateAutoMigrateAllowed(appEnv string) error {
	appEnv = strings.ToLower(strings.TrimSpace(appEnv))
	if slices.Contains(autoMigrateEnvs, appEnv) {
		return nil
	}
	return fmt.Errorf("--auto-migrate is not allowed when %s=%q (allowed: %q)", AppEnvKey, appEnv, autoMigrateEnvs)
}
