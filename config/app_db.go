package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/caarlos0/env/v11"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// DatabaseConfig selects and tunes the waitlist database. APP_DATABASE_URL,
// when set, wins over the POSTGRES_* parts.
type DatabaseConfig struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"`
	URL        string `env:"APP_DATABASE_URL"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"waitlist.db"`

	Host     string `env:"POSTGRES_HOST"`
	Port     int    `env:"POSTGRES_PORT"`
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
	Name     string `env:"POSTGRES_DB_NAME"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"require"`

	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1m"`
}

// LoadDatabaseConfig reads DatabaseConfig from the environment. Values quoted
// in a .env file are unquoted.
func LoadDatabaseConfig() (*DatabaseConfig, error) {
	cfg := &DatabaseConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	for _, field := range []*string{&cfg.Driver, &cfg.URL, &cfg.SQLitePath, &cfg.Host, &cfg.User, &cfg.Password, &cfg.Name, &cfg.SSLMode} {
		*field = unquote(*field)
	}
	cfg.Driver = strings.ToLower(cfg.Driver)
	return cfg, nil
}

// NewDatabase opens the waitlist database. A nil cfg is loaded from the environment.
func NewDatabase(logger *log.Logger, cfg *DatabaseConfig) (*gorm.DB, error) {
	if cfg == nil {
		var err error
		if cfg, err = LoadDatabaseConfig(); err != nil {
			logger.Error("Invalid database configuration", "error", err)
			return nil, err
		}
	}

	dialector, err := buildDialector(logger, cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Error("Failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Error("Failed to get database instance", "error", err)
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == DBDriverSQLite {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		logger.Error("Database ping failed", "error", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Database connection established successfully", "driver", cfg.Driver)
	return gdb, nil
}

func buildDialector(logger *log.Logger, cfg *DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DBDriverSQLite:
		logger.Info("Using SQLite database", "path", cfg.SQLitePath)
		return sqlite.Open(cfg.SQLitePath), nil
	case DBDriverPostgres:
		dsn, err := cfg.postgresDSN()
		if err != nil {
			logger.Error("Invalid postgres configuration", "error", err)
			return nil, err
		}
		logger.Info("Connecting to database", "host", cfg.Host, "port", cfg.Port, "dbname", cfg.Name, "sslmode", cfg.SSLMode, "from_url", cfg.URL != "")
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (allowed: %s, %s)", cfg.Driver, DBDriverPostgres, DBDriverSQLite)
	}
}

func (cfg *DatabaseConfig) postgresDSN() (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "POSTGRES_HOST")
	}
	if cfg.Port == 0 {
		missing = append(missing, "POSTGRES_PORT")
	}
	if cfg.User == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if cfg.Name == "" {
		missing = append(missing, "POSTGRES_DB_NAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required database env vars: %s", strings.Join(missing, ", "))
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	), nil
}

func unquote(v string) string {
	s := strings.TrimSpace(v)
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		s = s[1 : len(s)-1]
	}
	return s
}

func AutoMigrate(logger *log.Logger, db *gorm.DB, models ...interface{}) error {
	if db == nil {
		logger.Error("Cannot migrate: db is empty")
		return fmt.Errorf("cannot migrate: db is empty")
	}

	if err := db.AutoMigrate(models...); err != nil {
		logger.Error("Database migration failed", "error", err)
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	logger.Info("Database migration completed successfully")
	return nil
}

func CloseDatabase(db *gorm.DB, logger *log.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get SQL DB instance", "error", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	} else {
		logger.Info("Database closed successfully")
	}
}
