package dao

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB renders statements for Postgres without connecting and hands
// each generated INSERT to capture.
func dryRunDB(t *testing.T, capture func(string)) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=test dbname=test sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture", func(tx *gorm.DB) {
		capture(tx.Statement.SQL.String())
	}))
	return db
}

func TestSave_SingleUpsertStatement(t *testing.T) {
	var statements []string
	db := dryRunDB(t, func(sql string) { statements = append(statements, sql) })

	require.NoError(t, NewSessionDAO(db).Save(context.Background(), "0123456789abcdef", []byte(`{}`)))

	require.Len(t, statements, 1)
	sql := statements[0]
	assert.Contains(t, sql, `INSERT INTO "chat_sessions"`)
	assert.Contains(t, sql, `ON CONFLICT ("id") DO UPDATE SET`)
	assert.Contains(t, sql, `"data"="excluded"."data"`)
	assert.Contains(t, sql, `"updated_at"="excluded"."updated_at"`)
	assert.NotContains(t, sql, `"created_at"="excluded"`)
}
