// Package main provides the gdpubsub maintenance CLI: schema migration, the
// cleanup pass and the delivery-timeout sweep.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coregx/gdpubsub/cmd/gdpubsub/internal/config"
)

// SimpleLogger implements gdpubsub.Logger for standard logging.
type SimpleLogger struct{}

func (l *SimpleLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[DEBUG] "+format, args...)
}
func (l *SimpleLogger) Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}
func (l *SimpleLogger) Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}
func (l *SimpleLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}
func (l *SimpleLogger) Info(message string) {
	log.Printf("[INFO] %s", message)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gdpubsub",
		Short:         "Maintenance tooling for the guaranteed-delivery pub/sub engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newCleanupCommand())
	cmd.AddCommand(newSweepCommand())
	return cmd
}

// openDatabase connects to the configured relational store and verifies the
// connection before returning it.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if cfg.Backend != config.BackendSQL {
		return nil, fmt.Errorf("this command requires PUBSUB_BACKEND=%s", config.BackendSQL)
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
