package connections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/werkhub/booking-engine/pkg/logging"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewStore(mock, logging.Default()), mock
}

func TestStoreGet_NoRowsIsErrNoConnection(t *testing.T) {
	store, mock := newMockStore(t)
	scopeID := uuid.New()

	mock.ExpectQuery("SELECT scope_id, calendar_id").
		WithArgs(scopeID).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), scopeID)
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreGet_ScansConnection(t *testing.T) {
	store, mock := newMockStore(t)
	scopeID := uuid.New()
	now := time.Now().UTC()
	expiry := now.Add(time.Hour)

	rows := pgxmock.NewRows([]string{
		"scope_id", "calendar_id", "access_token", "refresh_token",
		"expires_at", "reauth_required", "created_at", "updated_at",
	}).AddRow(scopeID, "primary", "acc-1", "ref-1", expiry, false, now, now)

	mock.ExpectQuery("SELECT scope_id, calendar_id").
		WithArgs(scopeID).
		WillReturnRows(rows)

	conn, err := store.Get(context.Background(), scopeID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !conn.Usable() {
		t.Fatalf("connection should be usable: %+v", conn)
	}
	if conn.CalendarID != "primary" {
		t.Fatalf("calendar id = %s", conn.CalendarID)
	}
}

func TestStoreUpdateTokens_MissingRowIsErrNoConnection(t *testing.T) {
	store, mock := newMockStore(t)
	scopeID := uuid.New()
	expiry := time.Now().Add(time.Hour)

	mock.ExpectExec("UPDATE calendar_connections").
		WithArgs(scopeID, "acc-2", "", expiry).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateTokens(context.Background(), scopeID, "acc-2", "", expiry)
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
}

func TestStoreSaveUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	scopeID := uuid.New()
	expiry := time.Now().Add(time.Hour)

	mock.ExpectExec("INSERT INTO calendar_connections").
		WithArgs(scopeID, "primary", "acc-1", "ref-1", expiry).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Save(context.Background(), &Connection{
		ScopeID:      scopeID,
		CalendarID:   "primary",
		AccessToken:  "acc-1",
		RefreshToken: "ref-1",
		ExpiresAt:    expiry,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConnectionUsable(t *testing.T) {
	base := Connection{
		CalendarID:   "primary",
		AccessToken:  "acc",
		RefreshToken: "ref",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	if !base.Usable() {
		t.Fatal("complete connection should be usable")
	}

	partial := base
	partial.RefreshToken = ""
	if partial.Usable() {
		t.Fatal("partial connection must not be usable")
	}

	flagged := base
	flagged.ReauthRequired = true
	if flagged.Usable() {
		t.Fatal("reauth-required connection must not be usable")
	}

	var nilConn *Connection
	if nilConn.Usable() {
		t.Fatal("nil connection must not be usable")
	}
}
