package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/leadforge/internal/audit/auditcontext"
	auditdomain "github.com/smallbiznis/leadforge/internal/audit/domain"
	"github.com/smallbiznis/leadforge/internal/audit/repository"
	"github.com/smallbiznis/leadforge/internal/clock"
	obscontext "github.com/smallbiznis/leadforge/internal/observability/context"
	"github.com/smallbiznis/leadforge/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAuditService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, clk
}

func TestRecordMasksSecretsAndCapturesRequest(t *testing.T) {
	svc, _ := setupAuditService(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = auditcontext.WithRequest(ctx, "10.0.0.1", "curl/8.0")

	err := svc.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    "user-1",
		Action:     "byok.keys_saved",
		TargetType: "wallet",
		TargetID:   "user-1",
		Metadata:   map[string]any{"places_api_key": "AIzaSyabcdwxyz", "provider": "places"},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "byok.keys_saved", entry.Action)
	assert.Equal(t, auditdomain.ActorTypeUser, entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user-1", *entry.ActorID)
	assert.Equal(t, "****wxyz", entry.Metadata["places_api_key"])
	assert.Equal(t, "places", entry.Metadata["provider"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
	require.NotNil(t, entry.UserAgent)
	assert.Equal(t, "curl/8.0", *entry.UserAgent)
}

func TestRecordResolvesActorFromContext(t *testing.T) {
	svc, _ := setupAuditService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{Action: "scheduler.run"}))
	require.NoError(t, svc.Record(obscontext.WithUserID(context.Background(), "user-9"), auditdomain.Entry{Action: "byok.toggled"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 2)

	byAction := map[string]auditdomain.AuditLog{}
	for _, entry := range resp.AuditLogs {
		byAction[entry.Action] = entry
	}
	assert.Equal(t, auditdomain.ActorTypeSystem, byAction["scheduler.run"].ActorType)
	assert.Nil(t, byAction["scheduler.run"].ActorID)
	assert.Equal(t, "unknown", byAction["scheduler.run"].TargetType)
	assert.Equal(t, auditdomain.ActorTypeUser, byAction["byok.toggled"].ActorType)
	require.NotNil(t, byAction["byok.toggled"].ActorID)
	assert.Equal(t, "user-9", *byAction["byok.toggled"].ActorID)
}

func TestRecordRequiresAction(t *testing.T) {
	svc, _ := setupAuditService(t)

	err := svc.Record(context.Background(), auditdomain.Entry{Action: "  "})
	assert.True(t, errors.Is(err, auditdomain.ErrInvalidAction))
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, clk := setupAuditService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		clk.Advance(time.Minute)
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{
			ActorType:  auditdomain.ActorTypeAdmin,
			ActorID:    "admin-1",
			Action:     "credits.grant",
			TargetType: "wallet",
			TargetID:   fmt.Sprintf("user-%d", i),
		}))
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{ActorID: "admin-1", Action: "plan.create"}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{Page: 1, Limit: 2},
		Action:     "credits.grant",
	})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)
	assert.Equal(t, int64(3), resp.PageInfo.Total)
	assert.Equal(t, 2, resp.PageInfo.TotalPages)
	require.NotNil(t, resp.AuditLogs[0].TargetID)
	assert.Equal(t, "user-2", *resp.AuditLogs[0].TargetID)

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{TargetID: "user-0"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "credits."})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.PageInfo.Total)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc, _ := setupAuditService(t)
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.True(t, errors.Is(err, auditdomain.ErrInvalidTimeRange))
}
