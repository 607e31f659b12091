package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/porthorian/authlite/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

const defaultMigrationsTable = "authlite.schema_migrations"

type migrateConfig struct {
	MigrationsTable string
	// MigrationsPath overrides the embedded migrations with a directory or
	// source URL.
	MigrationsPath string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{MigrationsTable: defaultMigrationsTable}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the users and settings schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Version table, table or schema.table. Can also be set via AUTHLITE_MIGRATIONS_TABLE.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Directory or source URL to read migrations from instead of the embedded set.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, source string) error {
				if hasSteps {
					err = runner.Steps(steps)
				} else {
					err = runner.Up()
				}
				return reportMigration(cmd, err, "Applied", source, steps, hasSteps)
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, source string) error {
				return reportMigration(cmd, runner.Steps(-steps), "Rolled back", source, steps, true)
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the migration version (-1 clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				version, dirty, err := runner.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read migration version: %w", err)
				}
				cmd.Printf("%d (dirty=%t)\n", version, dirty)
				return nil
			})
		},
	})

	return migrateCmd
}

// reportMigration turns golang-migrate boundary errors into messages; running
// out of migrations is not a failure.
func reportMigration(cmd *cobra.Command, err error, verb string, source string, steps int, hasSteps bool) error {
	if err == nil {
		if hasSteps {
			cmd.Printf("%s %d migration step(s) from %s\n", verb, steps, source)
		} else {
			cmd.Printf("%s all pending migrations from %s\n", verb, source)
		}
		return nil
	}

	if isNoChangeError(err) {
		cmd.Println("No schema changes.")
		return nil
	}

	var shortLimit migrate.ErrShortLimit
	if hasSteps && errors.As(err, &shortLimit) {
		done := steps - int(shortLimit.Short)
		if done <= 0 {
			cmd.Println("No schema changes.")
			return nil
		}
		cmd.Printf("%s %d of %d requested migration step(s) from %s\n", verb, done, steps, source)
		return nil
	}

	return fmt.Errorf("%s migrations: %w", strings.ToLower(verb), err)
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, run func(runner *migrate.Migrate, source string) error) error {
	runner, source, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return run(runner, source)
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(globalFlags.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	table, err := parseTableName(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return nil, "", err
	}
	if err := ensureSchema(databaseURL, table.Schema); err != nil {
		return nil, "", err
	}
	databaseURL, err = withMigrationsTable(databaseURL, table)
	if err != nil {
		return nil, "", err
	}

	if path := strings.TrimSpace(cfg.MigrationsPath); path != "" {
		sourceURL, err := fileSourceURL(path)
		if err != nil {
			return nil, "", err
		}
		runner, err := migrate.New(sourceURL, databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("create migrate runner: %w", err)
		}
		return runner, sourceURL, nil
	}

	source, err := iofs.New(postgres.Migrations, postgres.MigrationsDir)
	if err != nil {
		return nil, "", fmt.Errorf("open embedded migrations: %w", err)
	}
	runner, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, "embedded migrations", nil
}

func resolveMigrationsTable(flagValue string) string {
	value := strings.TrimSpace(flagValue)
	if value == "" || value == defaultMigrationsTable {
		if env := lookupEnv("AUTHLITE_MIGRATIONS_TABLE"); env != "" {
			return env
		}
	}
	if value == "" {
		return defaultMigrationsTable
	}
	return value
}

type tableName struct {
	Schema string
	Table  string
}

func parseTableName(value string) (tableName, error) {
	parts := strings.Split(strings.TrimSpace(value), ".")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"`)
		if parts[i] == "" {
			return tableName{}, fmt.Errorf("invalid table name %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return tableName{Table: parts[0]}, nil
	case 2:
		return tableName{Schema: parts[0], Table: parts[1]}, nil
	default:
		return tableName{}, fmt.Errorf("invalid table name %q: expected table or schema.table", value)
	}
}

// withMigrationsTable points golang-migrate's postgres driver at table unless
// the URL already names one.
func withMigrationsTable(databaseURL string, table tableName) (string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database URL: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if table.Schema != "" {
		query.Set("x-migrations-table", pq.QuoteIdentifier(table.Schema)+"."+pq.QuoteIdentifier(table.Table))
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table.Table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ensureSchema creates the schema holding the version table; golang-migrate
// will not.
func ensureSchema(databaseURL string, schema string) error {
	if schema == "" {
		return nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsed).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure schema %q exists: %w", schema, err)
	}
	return nil
}

func fileSourceURL(pathOrURL string) (string, error) {
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func parseStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

// golang-migrate reports a step command at the first or last version as a
// bare os.ErrNotExist.
func isNoChangeError(err error) bool {
	return errors.Is(err, migrate.ErrNoChange) || err == os.ErrNotExist
}
