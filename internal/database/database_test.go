package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/daytrader-api/internal/config"
)

func TestLoggerSkipsRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(zerolog.New(&buf))
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT * FROM `accounts` WHERE username = \"nobody\"", 0 }

	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(ctx, time.Now(), query, errors.New("disk I/O error"))
	assert.Contains(t, buf.String(), "disk I/O error")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewDatabase(t *testing.T) {
	_, err := NewDatabase(config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	db, err := NewDatabase(config.DatabaseConfig{Driver: "sqlite", DSN: "file:database_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	defer Close(db)

	for _, table := range []string{"accounts", "positions", "pending_buys", "pending_sells", "buy_triggers", "sell_triggers"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
