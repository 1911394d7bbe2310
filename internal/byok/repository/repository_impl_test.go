package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sqlRecorder struct {
	statements []string
}

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.statements = append(r.statements, sql)
}

func TestUpsertCredentialReplacesCiphertext(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&byokdomain.Credential{}))

	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertCredential(ctx, conn, &byokdomain.Credential{
		ID: 1, UserID: "user-1", Provider: byokdomain.ProviderPlaces, Ciphertext: "v1", CreatedAt: now, UpdatedAt: now,
	}))
	later := now.Add(time.Hour)
	require.NoError(t, repo.UpsertCredential(ctx, conn, &byokdomain.Credential{
		ID: 2, UserID: "user-1", Provider: byokdomain.ProviderPlaces, Ciphertext: "v2", CreatedAt: later, UpdatedAt: later,
	}))

	items, err := repo.ListCredentials(ctx, conn, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), int64(items[0].ID))
	assert.Equal(t, "v2", items[0].Ciphertext)
	assert.True(t, items[0].UpdatedAt.Equal(later))
}

func TestUpsertCredentialUsesDialectConflictSyntax(t *testing.T) {
	rec := &sqlRecorder{}
	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "leadforge:secret@tcp(127.0.0.1:3306)/leadforge?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: rec})
	require.NoError(t, err)

	require.NoError(t, Provide().UpsertCredential(context.Background(), conn, &byokdomain.Credential{
		ID: 1, UserID: "user-1", Provider: byokdomain.ProviderGeneration, Ciphertext: "v1",
	}))

	require.Len(t, rec.statements, 1)
	assert.Contains(t, rec.statements[0], "ON DUPLICATE KEY UPDATE `ciphertext`=VALUES(`ciphertext`)")
	assert.NotContains(t, rec.statements[0], "ON CONFLICT")
}
