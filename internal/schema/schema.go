// Package schema holds the explicit table definitions for the measurement
// and station tables, one script per supported driver.
package schema

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed sql/*.sql
var files embed.FS

// Direction selects the up or down script.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Script returns the SQL for driver and direction.
func Script(driver string, dir Direction) (string, error) {
	if dir != Up && dir != Down {
		return "", fmt.Errorf("unknown migration direction %q", dir)
	}
	content, err := files.ReadFile(fmt.Sprintf("sql/%s.%s.sql", driver, dir))
	if err != nil {
		return "", fmt.Errorf("no schema for driver %q: %w", driver, err)
	}
	return string(content), nil
}

// Apply runs the script for the database's driver.
func Apply(ctx context.Context, db *sqlx.DB, dir Direction) error {
	script, err := Script(db.DriverName(), dir)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to apply %s schema: %w", dir, err)
	}
	return nil
}
