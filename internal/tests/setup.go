// Package tests holds end-to-end tests that need a PostgreSQL database
// (DATABASE_URL). They are skipped when it is not set.
package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/labbooking/server/internal/model"
)

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE session_tokens, otp_records, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}

// SetRole changes the role of the user with the given phone. Registration only
// creates plain users.
func SetRole(ctx context.Context, db *sql.DB, phone string, role model.Role) error {
	res, err := db.ExecContext(ctx, "UPDATE users SET role = $1 WHERE phone = $2", role, phone)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("set role: %d users with phone %s", n, phone)
	}
	return nil
}
