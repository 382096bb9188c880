// Package storetest opens throwaway SQLite databases with the store schema
// for package tests.
package storetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-event-inventory/internal/models"
)

// Tables lists the store models in creation order.
var Tables = []interface{}{
	(*models.EventRecord)(nil),
	(*models.Reservation)(nil),
	(*models.StatusChange)(nil),
	(*models.InventoryMovement)(nil),
}

// NewSQLite returns an in-memory database with every table created. The
// pool is pinned to one connection so the memory database outlives idle
// connection churn and write transactions serialize.
func NewSQLite(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range Tables {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}
	return bunDB
}
