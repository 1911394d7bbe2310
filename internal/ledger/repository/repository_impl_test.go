package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
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

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&ledgerdomain.Wallet{}, &ledgerdomain.Transaction{}))
	return conn
}

func openMySQLDryRun(t *testing.T) (*gorm.DB, *sqlRecorder) {
	t.Helper()
	rec := &sqlRecorder{}
	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "leadforge:secret@tcp(127.0.0.1:3306)/leadforge?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: rec})
	require.NoError(t, err)
	return conn, rec
}

func TestInsertWalletOnlyOnce(t *testing.T) {
	conn := openSQLite(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	w := &ledgerdomain.Wallet{UserID: "user-1", Balance: 0, IsTrial: false, CreatedAt: now, UpdatedAt: now}
	inserted, err := repo.InsertWallet(ctx, conn, w)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := &ledgerdomain.Wallet{UserID: "user-1", Balance: 500, IsTrial: true, TrialGranted: true, CreatedAt: now, UpdatedAt: now}
	inserted, err = repo.InsertWallet(ctx, conn, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.FindWallet(ctx, conn, "user-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Zero(t, stored.Balance)
	assert.False(t, stored.IsTrial)
	assert.False(t, stored.TrialGranted)
}

func TestInsertWalletUsesDialectConflictSyntax(t *testing.T) {
	conn, rec := openMySQLDryRun(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := Provide().InsertWallet(context.Background(), conn, &ledgerdomain.Wallet{UserID: "user-1", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	require.Len(t, rec.statements, 1)
	assert.Contains(t, rec.statements[0], "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, rec.statements[0], "ON CONFLICT")
}
