package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/squirrel"
	"github.com/porthorian/authlite/pkg/storage"
)

// DefaultUsersTable is the table created by the bundled migrations.
const DefaultUsersTable = "authlite.users"

type Options struct {
	// Table is a bare or schema-qualified table name. Empty means
	// DefaultUsersTable.
	Table string
}

type Adapter struct {
	db    *sql.DB
	table string

	stmts preparedStatements
}

type preparedStatements struct {
	createUser *sql.Stmt
	getUser    *sql.Stmt
	deleteUser *sql.Stmt

	getMask    *sql.Stmt
	putMask    *sql.Stmt
	grantMask  *sql.Stmt
	revokeMask *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	build  func(table string) squirrel.Sqlizer
	assign func(*preparedStatements, *sql.Stmt)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var userColumns = []string{"id", "login", "password_hash", "permissions_mask", "date_added", "date_modified"}

// Statements are built with nil placeholder values; only the SQL text is kept
// and the real arguments are bound at execution time.
var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "create user",
		build: func(table string) squirrel.Sqlizer {
			return psql.Insert(table).
				Columns("login", "password_hash", "permissions_mask", "date_added").
				Values(nil, nil, nil, nil).
				Suffix("RETURNING id")
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.createUser = stmt
		},
	},
	{
		label: "get user",
		build: func(table string) squirrel.Sqlizer {
			return psql.Select(userColumns...).From(table).Where("id = ?", nil)
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getUser = stmt
		},
	},
	{
		label: "delete user",
		build: func(table string) squirrel.Sqlizer {
			return psql.Delete(table).Where("id = ?", nil)
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteUser = stmt
		},
	},
	{
		label: "get permissions mask",
		build: func(table string) squirrel.Sqlizer {
			return psql.Select("permissions_mask").From(table).Where("id = ?", nil)
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getMask = stmt
		},
	},
	{
		label: "put permissions mask",
		build: func(table string) squirrel.Sqlizer {
			return psql.Update(table).
				Set("permissions_mask", nil).
				Set("date_modified", nil).
				Where("id = ?", nil)
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putMask = stmt
		},
	},
	{
		label: "grant permissions mask",
		build: func(table string) squirrel.Sqlizer {
			return psql.Update(table).
				Set("permissions_mask", squirrel.Expr("permissions_mask | ?", nil)).
				Set("date_modified", nil).
				Where("id = ?", nil).
				Suffix("RETURNING permissions_mask")
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.grantMask = stmt
		},
	},
	{
		label: "revoke permissions mask",
		build: func(table string) squirrel.Sqlizer {
			return psql.Update(table).
				Set("permissions_mask", squirrel.Expr("permissions_mask & ~CAST(? AS BIGINT)", nil)).
				Set("date_modified", nil).
				Where("id = ?", nil).
				Suffix("RETURNING permissions_mask")
		},
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeMask = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
	ErrInvalidTable          = errors.New("postgres adapter: invalid table name")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var _ storage.UserStore = (*Adapter)(nil)

func NewAdapter(db *sql.DB, options Options) (*Adapter, error) {
	table := options.Table
	if table == "" {
		table = DefaultUsersTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	adapter := &Adapter{
		db:    db,
		table: table,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

// Table is the table the adapter reads and writes.
func (a *Adapter) Table() string {
	return a.table
}

func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.createUser,
		a.stmts.getUser,
		a.stmts.deleteUser,
		a.stmts.getMask,
		a.stmts.putMask,
		a.stmts.grantMask,
		a.stmts.revokeMask,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
			a.stmts = preparedStatements{}
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		query, _, buildErr := spec.build(a.table).ToSql()
		if buildErr != nil {
			err = fmt.Errorf("postgres adapter: build %s statement: %w", spec.label, buildErr)
			return err
		}

		stmt, prepErr := db.Prepare(query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.createUser == nil || a.stmts.getUser == nil || a.stmts.deleteUser == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.getMask == nil || a.stmts.putMask == nil || a.stmts.grantMask == nil || a.stmts.revokeMask == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
