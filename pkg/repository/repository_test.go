package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/leadforge/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type catalogRow struct {
	ID       int64 `gorm:"primaryKey"`
	Slug     string
	Active   bool
	Position int
}

func newStore(t *testing.T) (*gorm.DB, Repository[catalogRow]) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&catalogRow{}))
	return conn, ProvideStore[catalogRow](conn)
}

func TestStoreFindAndCount(t *testing.T) {
	ctx := context.Background()
	_, store := newStore(t)

	require.NoError(t, store.Create(ctx, &catalogRow{ID: 1, Slug: "starter", Active: true, Position: 2}))
	require.NoError(t, store.Create(ctx, &catalogRow{ID: 2, Slug: "pro", Active: true, Position: 1}))
	require.NoError(t, store.Create(ctx, &catalogRow{ID: 3, Slug: "legacy", Position: 3}))

	rows, err := store.Find(ctx, &catalogRow{Active: true}, option.OrderBy("position", false, map[string]bool{"position": true}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pro", rows[0].Slug)

	total, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestStoreFindOneMissingReturnsNil(t *testing.T) {
	_, store := newStore(t)

	row, err := store.FindOne(context.Background(), &catalogRow{Slug: "missing"})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestStoreWithTrxRollsBack(t *testing.T) {
	ctx := context.Background()
	conn, store := newStore(t)

	tx := conn.Begin()
	require.NoError(t, store.WithTrx(tx).Create(ctx, &catalogRow{ID: 9, Slug: "draft"}))
	require.NoError(t, tx.Rollback().Error)

	row, err := store.FindOne(ctx, &catalogRow{Slug: "draft"})
	require.NoError(t, err)
	assert.Nil(t, row)
}
