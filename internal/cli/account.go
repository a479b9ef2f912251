package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/catalog"
)

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the cached balance and pro status",
		Long: `Remove the cached coin balance and pro flag from the local cache, as a
sign-out does. The balance log is kept.

Examples:
  coinsync logout --cache ./coinsync.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, err := opts.openEnv(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			cache.ClearSession(ctx, e.cache)
			e.logger.Info("local session cleared", "cache", opts.Config.CachePath)

			cleared := []string{cache.KeyCoinsCount, cache.KeyProStatus}
			return e.out.Emit(map[string]any{"cleared": cleared}, func(w io.Writer) {
				fmt.Fprintln(w, "Signed out; cached balance and pro status cleared.")
			})
		},
	}
}

// NewPacksCommand creates the packs command.
func NewPacksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "packs",
		Short: "List coin packs available for recharge",
		Long: `List the coin packs from the catalog. COINSYNC_CATALOG selects a CUE
catalog file; the built-in catalog is used otherwise.

Examples:
  coinsync packs
  COINSYNC_CATALOG=./packs.cue coinsync packs --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.catalog()
			if err != nil {
				return err
			}
			out := opts.formatter(cmd)
			return out.Emit(cat, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCOINS\tPRICE")
				for _, p := range cat.Packs {
					name := p.Name
					if p.Popular {
						name += " *"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d.%02d %s\n",
						p.ID, name, p.Coins, p.PriceCents/100, p.PriceCents%100, p.Currency)
				}
				tw.Flush()
			})
		},
	}
}

func (o *RootOptions) catalog() (*catalog.Catalog, error) {
	if o.Config.CatalogPath == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(o.Config.CatalogPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	return cat, nil
}

// migrator is implemented by *remote.Postgres.
type migrator interface {
	Migrate(ctx context.Context) error
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users table and change trigger",
		Long: `Create the users table, the coin_credits table and the trigger that
publishes row changes for realtime subscribers. Also brings the local cache
schema up to date. Safe to run repeatedly.

Examples:
  coinsync migrate --dsn postgres://localhost/coinsync?sslmode=disable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, err := opts.openEnv(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			m, ok := e.remote.(migrator)
			if !ok {
				return NewExitError(ExitCommandError, "users table does not support migrations")
			}
			if err := m.Migrate(ctx); err != nil {
				_ = e.out.Error(CodeRemote, "migration failed", err.Error())
				return WrapExitError(ExitFailure, "migration failed", err)
			}
			e.logger.Info("users table migrated")

			return e.out.Emit(map[string]any{"migrated": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Users table and local cache are up to date.")
			})
		},
	}
}
