package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/porthorian/authlite/pkg/storage"
)

type preparedMocks struct {
	createUser *sqlmock.ExpectedPrepare
	getUser    *sqlmock.ExpectedPrepare
	deleteUser *sqlmock.ExpectedPrepare
	getMask    *sqlmock.ExpectedPrepare
	putMask    *sqlmock.ExpectedPrepare
	grantMask  *sqlmock.ExpectedPrepare
	revokeMask *sqlmock.ExpectedPrepare
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, preparedMocks) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	prepared := preparedMocks{
		createUser: mock.ExpectPrepare(`INSERT INTO authlite\.users \(login,password_hash,permissions_mask,date_added\) VALUES \(\$1,\$2,\$3,\$4\) RETURNING id`),
		getUser:    mock.ExpectPrepare(`SELECT id, login, password_hash, permissions_mask, date_added, date_modified FROM authlite\.users WHERE id = \$1`),
		deleteUser: mock.ExpectPrepare(`DELETE FROM authlite\.users WHERE id = \$1`),
		getMask:    mock.ExpectPrepare(`SELECT permissions_mask FROM authlite\.users WHERE id = \$1`),
		putMask:    mock.ExpectPrepare(`UPDATE authlite\.users SET permissions_mask = \$1, date_modified = \$2 WHERE id = \$3`),
		grantMask:  mock.ExpectPrepare(`UPDATE authlite\.users SET permissions_mask = permissions_mask \| \$1, date_modified = \$2 WHERE id = \$3 RETURNING permissions_mask`),
		revokeMask: mock.ExpectPrepare(`UPDATE authlite\.users SET permissions_mask = permissions_mask & ~CAST\(\$1 AS BIGINT\), date_modified = \$2 WHERE id = \$3 RETURNING permissions_mask`),
	}

	adapter, err := NewAdapter(db, Options{})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter, mock, prepared
}

func TestCreateUser(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	prepared.createUser.ExpectQuery().
		WithArgs("alice", "hash", int64(3), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	id, err := adapter.CreateUser(context.Background(), storage.UserRecord{
		Login:          "alice",
		CredentialHash: "hash",
		PermissionMask: 3,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserDuplicateLogin(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	prepared.createUser.ExpectQuery().
		WithArgs("alice", "hash", int64(0), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	_, err := adapter.CreateUser(context.Background(), storage.UserRecord{Login: "alice", CredentialHash: "hash"})
	if !errors.Is(err, storage.ErrDuplicateLogin) {
		t.Fatalf("expected ErrDuplicateLogin, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserPassesThroughTransportErrors(t *testing.T) {
	adapter, _, prepared := newMockAdapter(t)

	prepared.createUser.ExpectQuery().WillReturnError(sql.ErrConnDone)

	_, err := adapter.CreateUser(context.Background(), storage.UserRecord{Login: "alice"})
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("expected sql.ErrConnDone, got %v", err)
	}
}

func TestGetUserScansRecord(t *testing.T) {
	adapter, _, prepared := newMockAdapter(t)
	added := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	prepared.getUser.ExpectQuery().
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(7), "alice", "hash", int64(-1<<63), added, nil))

	record, err := adapter.GetUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if record.ID != 7 || record.Login != "alice" || record.CredentialHash != "hash" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.PermissionMask != 1<<63 {
		t.Fatalf("expected bit 63 to survive the bigint column, got %b", record.PermissionMask)
	}
	if !record.DateAdded.Equal(added) || record.DateModified != nil {
		t.Fatalf("unexpected dates %+v", record)
	}
}

func TestMissingUserIsNotFound(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)
	ctx := context.Background()

	prepared.getMask.ExpectQuery().WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"permissions_mask"}))
	prepared.deleteUser.ExpectExec().WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	prepared.putMask.ExpectExec().WithArgs(int64(1), sqlmock.AnyArg(), int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	prepared.grantMask.ExpectQuery().WithArgs(int64(1), sqlmock.AnyArg(), int64(9)).WillReturnRows(sqlmock.NewRows([]string{"permissions_mask"}))
	prepared.getUser.ExpectQuery().WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows(userColumns))

	if _, err := adapter.GetPermissionMask(ctx, 9); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get mask: expected ErrNotFound, got %v", err)
	}
	if err := adapter.DeleteUser(ctx, 9); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
	if err := adapter.PutPermissionMask(ctx, 9, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("put mask: expected ErrNotFound, got %v", err)
	}
	if _, err := adapter.GrantPermissionMask(ctx, 9, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("grant: expected ErrNotFound, got %v", err)
	}
	if _, err := adapter.GetUser(ctx, 9); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get user: expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestZeroMaskIsNotNotFound(t *testing.T) {
	adapter, _, prepared := newMockAdapter(t)

	prepared.getMask.ExpectQuery().WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"permissions_mask"}).AddRow(int64(0)))

	mask, err := adapter.GetPermissionMask(context.Background(), 1)
	if err != nil {
		t.Fatalf("get mask: %v", err)
	}
	if mask != 0 {
		t.Fatalf("expected zero mask, got %b", mask)
	}
}

func TestGrantAndRevokeAreSingleStatements(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)
	ctx := context.Background()

	prepared.grantMask.ExpectQuery().
		WithArgs(int64(0b10), sqlmock.AnyArg(), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"permissions_mask"}).AddRow(int64(0b11)))
	prepared.revokeMask.ExpectQuery().
		WithArgs(int64(0b01), sqlmock.AnyArg(), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"permissions_mask"}).AddRow(int64(0b10)))
	prepared.putMask.ExpectExec().
		WithArgs(int64(0b100), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prepared.deleteUser.ExpectExec().WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))

	mask, err := adapter.GrantPermissionMask(ctx, 1, 0b10)
	if err != nil || mask != 0b11 {
		t.Fatalf("grant: mask=%b err=%v", mask, err)
	}
	mask, err = adapter.RevokePermissionMask(ctx, 1, 0b01)
	if err != nil || mask != 0b10 {
		t.Fatalf("revoke: mask=%b err=%v", mask, err)
	}
	if err := adapter.PutPermissionMask(ctx, 1, 0b100); err != nil {
		t.Fatalf("put mask: %v", err)
	}
	if err := adapter.DeleteUser(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNewAdapterValidation(t *testing.T) {
	if _, err := NewAdapter(nil, Options{}); !errors.Is(err, ErrNilDB) {
		t.Fatalf("expected ErrNilDB, got %v", err)
	}

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewAdapter(db, Options{Table: "users; DROP TABLE x"}); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}
}

func TestNewAdapterClosesPreparedOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPrepare(`INSERT INTO app_users`)
	mock.ExpectPrepare(`SELECT id`).WillReturnError(errors.New("boom"))

	if _, err := NewAdapter(db, Options{Table: "app_users"}); err == nil {
		t.Fatal("expected prepare failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUninitializedAdapter(t *testing.T) {
	var adapter *Adapter
	if _, err := adapter.GetPermissionMask(context.Background(), 1); !errors.Is(err, ErrNilDB) {
		t.Fatalf("expected ErrNilDB, got %v", err)
	}
}
