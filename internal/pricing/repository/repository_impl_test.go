package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
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
	require.NoError(t, conn.AutoMigrate(&pricingdomain.CreditCost{}))
	return conn
}

func TestInsertIfMissingKeepsExistingRow(t *testing.T) {
	conn := openSQLite(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	inserted, err := repo.InsertIfMissing(ctx, conn, &pricingdomain.CreditCost{
		ActionType: "bulk_export", CreditsRequired: 100, IsActive: false, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertIfMissing(ctx, conn, &pricingdomain.CreditCost{
		ActionType: "bulk_export", CreditsRequired: 5, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	var stored pricingdomain.CreditCost
	require.NoError(t, conn.Where("action_type = ?", "bulk_export").First(&stored).Error)
	assert.Equal(t, int64(100), stored.CreditsRequired)
	assert.False(t, stored.IsActive)
}

func TestUpsertOverwritesCost(t *testing.T) {
	conn := openSQLite(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, conn, &pricingdomain.CreditCost{
		ActionType: "ai_email", CreditsRequired: 20, Description: "email", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	later := now.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, conn, &pricingdomain.CreditCost{
		ActionType: "ai_email", CreditsRequired: 25, Description: "cold email", IsActive: true, CreatedAt: later, UpdatedAt: later,
	}))

	active, err := repo.ListActive(ctx, conn)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(25), active[0].CreditsRequired)
	assert.Equal(t, "cold email", active[0].Description)
	assert.True(t, active[0].CreatedAt.Equal(now))
}

func TestUpsertUsesDialectConflictSyntax(t *testing.T) {
	rec := &sqlRecorder{}
	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "leadforge:secret@tcp(127.0.0.1:3306)/leadforge?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: rec})
	require.NoError(t, err)

	repo := Provide()
	ctx := context.Background()
	cost := &pricingdomain.CreditCost{ActionType: "ai_email", CreditsRequired: 20, IsActive: true}
	require.NoError(t, repo.Upsert(ctx, conn, cost))
	_, err = repo.InsertIfMissing(ctx, conn, cost)
	require.NoError(t, err)

	require.Len(t, rec.statements, 2)
	for _, stmt := range rec.statements {
		assert.Contains(t, stmt, "ON DUPLICATE KEY UPDATE")
		assert.NotContains(t, stmt, "ON CONFLICT")
	}
	assert.Contains(t, rec.statements[0], "`credits_required`=VALUES(`credits_required`)")
}
