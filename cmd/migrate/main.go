package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lumen.studio/internal/config"
	"lumen.studio/internal/migrate"
	"lumen.studio/internal/obs"
	"lumen.studio/migrations"
)

// openDB is replaced in tests.
var openDB = func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) }

func main() {
	root, closeDB := newRootCmd()
	err := root.Execute()
	closeDB()
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

// newRootCmd returns the command tree and a func that closes the database
// opened by whichever subcommand ran. It is safe to call on every path.
func newRootCmd() (*cobra.Command, func()) {
	v := config.NewViper()
	var (
		db  *sql.DB
		mgr *migrate.Manager
		log zerolog.Logger
	)

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the gateway schema and row-level security policies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log = obs.NewLogger(os.Stderr, v.GetString("log.level"), v.GetString("log.format"))
			dsn := v.GetString("store.dsn")
			if dsn == "" {
				return errors.New("missing DSN: provide via --dsn or LUMEN_STORE_DSN")
			}
			var err error
			db, err = openDB(dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			mgr = migrate.NewManager(db, migrations.Schema(), migrations.Seeds())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("dsn", "", "PostgreSQL DSN")
	_ = v.BindPFlag("store.dsn", flags.Lookup("dsn"))
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	flags.String("log-format", "console", "Log format (console, json)")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	flags.Duration("timeout", 30*time.Second, "Overall timeout")
	_ = v.BindPFlag("migrate.timeout", flags.Lookup("timeout"))

	run := func(name string, fn func(ctx context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:  name,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := withTimeout(cmd.Context(), v)
				defer cancel()
				if err := fn(ctx); err != nil {
					return fmt.Errorf("migrate %s: %w", name, err)
				}
				log.Info().Str("command", name).Msg("migrate complete")
				return nil
			},
		}
	}

	up := run("up", func(ctx context.Context) error { return mgr.Up(ctx) })
	up.Short = "Apply all pending migrations"
	down := run("down", func(ctx context.Context) error { return mgr.Down(ctx) })
	down.Short = "Roll back the most recent migration"
	seed := run("seed", func(ctx context.Context) error { return mgr.Seed(ctx) })
	seed.Short = "Load development fixtures"

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied migrations in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd.Context(), v)
			defer cancel()
			history, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, item := range history {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		},
	}

	root.AddCommand(up, down, seed, status)
	return root, func() {
		if db != nil {
			_ = db.Close()
			db = nil
		}
	}
}

func withTimeout(parent context.Context, v *viper.Viper) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	timeout := v.GetDuration("migrate.timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}
