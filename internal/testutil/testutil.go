// Package testutil holds helpers shared by storage and service tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/daytrader-api/internal/config"
	"github.com/ksred/daytrader-api/internal/database"
)

// NewDB opens a private in-memory SQLite database with the full schema
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.NewDatabase(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

// Dec parses a decimal literal and panics on bad input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AssertDecimal compares decimals by value within a tolerance, since
// SQLite stores numerics as floating point
func AssertDecimal(t testing.TB, want string, got decimal.Decimal) {
	t.Helper()
	w := Dec(want)
	diff := w.Sub(got).Abs()
	require.Truef(t, diff.LessThan(Dec("0.000001")), "want %s, got %s", w, got)
}
