package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/porthorian/authlite/pkg/storage"
)

// Masks are stored in a BIGINT column. The uint64 <-> int64 conversions keep
// the bit pattern, so bit 63 round-trips as a negative column value.

func (a *Adapter) CreateUser(ctx context.Context, record storage.UserRecord) (int64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	var id int64
	err := a.stmts.createUser.QueryRowContext(
		ctx,
		record.Login,
		record.CredentialHash,
		int64(record.PermissionMask),
		dateAdded,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateLogin
		}
		return 0, err
	}

	return id, nil
}

func (a *Adapter) GetUser(ctx context.Context, id int64) (storage.UserRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.UserRecord{}, err
	}

	record, err := scanUser(a.stmts.getUser.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	return record, err
}

func (a *Adapter) DeleteUser(ctx context.Context, id int64) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	result, err := a.stmts.deleteUser.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (a *Adapter) GetPermissionMask(ctx context.Context, id int64) (uint64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	return scanMask(a.stmts.getMask.QueryRowContext(ctx, id))
}

func (a *Adapter) PutPermissionMask(ctx context.Context, id int64, mask uint64) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	result, err := a.stmts.putMask.ExecContext(ctx, int64(mask), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (a *Adapter) GrantPermissionMask(ctx context.Context, id int64, bits uint64) (uint64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	return scanMask(a.stmts.grantMask.QueryRowContext(ctx, int64(bits), time.Now().UTC(), id))
}

func (a *Adapter) RevokePermissionMask(ctx context.Context, id int64, bits uint64) (uint64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	return scanMask(a.stmts.revokeMask.QueryRowContext(ctx, int64(bits), time.Now().UTC(), id))
}

func scanUser(s scanner) (storage.UserRecord, error) {
	var (
		record       storage.UserRecord
		mask         int64
		dateAdded    time.Time
		dateModified sql.NullTime
	)

	if err := s.Scan(
		&record.ID,
		&record.Login,
		&record.CredentialHash,
		&mask,
		&dateAdded,
		&dateModified,
	); err != nil {
		return storage.UserRecord{}, err
	}

	record.PermissionMask = uint64(mask)
	record.DateAdded = dateAdded.UTC()
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		record.DateModified = &t
	}

	return record, nil
}

func scanMask(s scanner) (uint64, error) {
	var mask int64
	if err := s.Scan(&mask); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	return uint64(mask), nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
