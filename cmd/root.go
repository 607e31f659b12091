package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

type rootFlags struct {
	ConfigFiles    []string
	DatabaseURL    string
	SettingsTable  string
	RedisAddr      string
	RedisNamespace string
	Strict         bool
	Verbosity      int
}

var globalFlags rootFlags

var rootCmd = &cobra.Command{
	Use:   "authlite",
	Short: "authlite CLI",
	Long:  "Manage authlite users, permission masks and schema migrations.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		stdr.SetVerbosity(globalFlags.Verbosity)
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&globalFlags.ConfigFiles, "config", nil, "Settings file (.json or .ini). Repeatable; later files win.")
	flags.StringVar(&globalFlags.DatabaseURL, "database-url", "", "Postgres URL. Can also be set via AUTHLITE_DATABASE_URL.")
	flags.StringVar(&globalFlags.SettingsTable, "settings-table", "", "Table holding property/value settings that override files.")
	flags.StringVar(&globalFlags.RedisAddr, "redis-addr", "", "Redis address for the permission cache. Can also be set via AUTHLITE_REDIS_ADDR.")
	flags.StringVar(&globalFlags.RedisNamespace, "redis-namespace", "", "Optional prefix for permission cache keys. Empty keeps the plain user:{id}:data key.")
	flags.BoolVar(&globalFlags.Strict, "strict", false, "Reject unknown permission names instead of ignoring them.")
	flags.IntVarP(&globalFlags.Verbosity, "verbosity", "v", 0, "Log verbosity.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the authlite CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func newLogger() logr.Logger {
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
