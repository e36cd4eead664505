package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPostgresStore_EnsureSchemaExecutesCreateTable(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS workflow_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_SaveUpsertsRow(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	mock.ExpectExec("INSERT INTO workflow_snapshots").
		WithArgs("run-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Save(context.Background(), "run-1", Snapshot{
		Queue:   json.RawMessage(`{"size":2}`),
		Workers: json.RawMessage(`[]`),
		Results: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_LoadReturnsNotOKWhenNoRows(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	mock.ExpectQuery("SELECT taken_at, queue, workers, results").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"taken_at", "queue", "workers", "results"}))

	_, ok, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when no row is found")
	}
}

func TestPostgresStore_LoadScansExistingRow(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	rows := sqlmock.NewRows([]string{"taken_at", "queue", "workers", "results"}).
		AddRow(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), []byte(`{"size":5}`), []byte(`[]`), []byte(`{}`))
	mock.ExpectQuery("SELECT taken_at, queue, workers, results").
		WithArgs("run-2").
		WillReturnRows(rows)

	snap, ok, err := store.Load(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if string(snap.Queue) != `{"size":5}` {
		t.Fatalf("unexpected queue payload: %s", snap.Queue)
	}
}
