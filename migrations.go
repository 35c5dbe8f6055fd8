package gdpubsub

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// MigrationFiles contains the SQL schema migrations embedded in the binary,
// one directory per driver ("mysql", "postgres", "sqlite3"). Users can apply
// them with ApplyMigrations or feed the files to their preferred migration
// tool.
//
//go:embed migrations/*/*.sql
var MigrationFiles embed.FS

// MigrationStatements returns the ordered SQL statements for the driver.
// Files are applied in lexical order; statements are split on ";" so drivers
// without multi-statement support can execute them one at a time.
func MigrationStatements(driverName string) ([]string, error) {
	dir := "migrations/" + driverName

	entries, err := fs.ReadDir(MigrationFiles, dir)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration,
			fmt.Sprintf("no migrations for driver %q", driverName), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var stmts []string
	for _, name := range names {
		data, err := fs.ReadFile(MigrationFiles, dir+"/"+name)
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to read migration file", err)
		}
		for _, stmt := range strings.Split(string(data), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
		}
	}

	return stmts, nil
}

// ApplyMigrations executes the driver's schema migrations against the given
// database. It is not idempotent; run it once against an empty schema.
func ApplyMigrations(ctx context.Context, db *sql.DB, driverName string) error {
	stmts, err := MigrationStatements(driverName)
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "failed to apply migration", err)
		}
	}

	return nil
}
