package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/akeren/waitlist-gate/config"
	"github.com/akeren/waitlist-gate/domain/waitlist"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/internal/models"
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/akeren/waitlist-gate/pkg/migrations"
	"github.com/akeren/waitlist-gate/pkg/utils"
)

func main() {
	logger := log.NewLoggerWithJSONOutput()

	config.InitializeEnvFile(logger) // Load envs early for CLI consistency

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "migrate":
		if err := runMigrations(logger); err != nil {
			logger.Error("Database migration failed", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("Database migrations completed")

	case "stats":
		var email string
		if len(args) > 1 {
			email = args[1]
		}
		if err := printStats(logger, email); err != nil {
			logger.Error("Failed to read waitlist stats", "error", err.Error())
			os.Exit(1)
		}

	case "signup":
		if err := RunSignup(logger, os.Stdin, os.Stdout); err != nil {
			logger.Error("Signup failed", "error", err.Error())
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func runMigrations(logger *log.Logger) error {
	db, err := config.NewDatabase(logger, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer config.CloseDatabase(db, logger)

	if db.Dialector.Name() != config.DBDriverPostgres {
		return config.AutoMigrate(logger, db, models.ModelRegistry...)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get SQL DB instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	return migrations.Up(ctx, sqlDB, migrations.Config{
		Dir:    utils.GetEnvTrimmed("MIGRATIONS_DIR"),
		Logger: logger,
	})
}

func printStats(logger *log.Logger, email string) error {
	db, err := config.NewDatabase(logger, nil)
	if err != nil {
		return err
	}
	defer config.CloseDatabase(db, logger)

	service := waitlist.NewWaitlistServiceFactory(db, logger).CreateService()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return writeStats(ctx, service, email, os.Stdout)
}

// writeStats prints the entry count, and when email is set, whether that
// address is already on the waitlist.
func writeStats(ctx context.Context, service waitlist.WaitlistService, email string, out io.Writer) error {
	stats, err := service.GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "waitlist entries: %d\n", stats.Total)

	if email == "" {
		return nil
	}

	entry, err := service.FindEntryByEmail(ctx, email)
	switch {
	case apperrors.IsType(err, apperrors.ErrorTypeNotFound):
		fmt.Fprintf(out, "%s: not on the waitlist\n", waitlist.NormalizeEmail(email))
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "%s: joined %s\n", entry.Email, entry.CreatedAt)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: cli <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate  Run database migrations and exit (SQL files on postgres, auto-migrate on sqlite)")
	fmt.Println("  stats    Print the number of waitlist entries; 'stats <email>' also looks up one address")
	fmt.Println("  signup   Walk through the signup flow interactively against the configured backend")
}
