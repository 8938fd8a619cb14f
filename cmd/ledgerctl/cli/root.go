// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/dealerledger/internal/app"
	"github.com/odyssey-erp/dealerledger/internal/platform/db"
	"github.com/odyssey-erp/dealerledger/jobs"
	"github.com/odyssey-erp/dealerledger/migrations"
)

// ErrDriftFound is returned by verify-balances when any cached balance disagrees with its entries.
var ErrDriftFound = errors.New("ledgerctl: balance drift found")

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operator tooling for the dealership ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newMigrateCommand(),
		newVerifyCommand(),
		newRecomputeCommand(),
		newSeedCommand(),
		newPruneIdempotencyCommand(),
		newJobsCommand(),
	)
	return rootCmd
}

type env struct {
	cfg    *app.Config
	logger *slog.Logger
}

func loadEnv() (env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return env{}, fmt.Errorf("load config: %w", err)
	}
	return env{cfg: cfg, logger: app.NewLogger(cfg)}, nil
}

func withServices(ctx context.Context, fn func(*app.Services, env) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	svc, err := app.Connect(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer svc.Close(e.logger)
	return fn(svc, e)
}

func parseOutlet(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid outlet id %q", raw)
	}
	return id, nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), e.cfg.PGDSN, db.Options{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			ran, err := migrations.Apply(cmd.Context(), pool, e.logger)
			if err != nil {
				return err
			}
			if len(ran) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, v := range ran {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}

func newVerifyCommand() *cobra.Command {
	var outlet string
	cmd := &cobra.Command{
		Use:   "verify-balances",
		Short: "Replay ledger entries and report accounts whose cached balance drifted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outletID, err := parseOutlet(outlet)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(svc *app.Services, _ env) error {
				return runVerify(cmd.Context(), svc.Ledger, outletID, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&outlet, "outlet", "", "outlet id (all outlets when empty)")
	return cmd
}

func runVerify(ctx context.Context, verifier jobs.BalanceVerifier, outletID uuid.UUID, out io.Writer) error {
	drifts, err := verifier.VerifyAccountBalances(ctx, outletID)
	if err != nil {
		return err
	}
	if len(drifts) == 0 {
		fmt.Fprintln(out, "all balances consistent")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tCODE\tCACHED\tREPLAYED")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.AccountID, d.Code, d.Cached.StringFixed(2), d.Replayed.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %d accounts", ErrDriftFound, len(drifts))
}

func newRecomputeCommand() *cobra.Command {
	var (
		outlet   string
		products []string
	)
	cmd := &cobra.Command{
		Use:   "recompute-stock",
		Short: "Rebuild product stock and cost caches from the movement ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outletID, err := parseOutlet(outlet)
			if err != nil {
				return err
			}
			payload := jobs.InventoryRevaluationPayload{OutletID: outletID}
			for _, raw := range products {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid product id %q", raw)
				}
				payload.ProductIDs = append(payload.ProductIDs, id)
			}
			return withServices(cmd.Context(), func(svc *app.Services, e env) error {
				job := jobs.NewInventoryRevaluationJob(svc.Ledger, svc.Inventory, e.logger, nil)
				return runRecompute(cmd.Context(), job, payload, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&outlet, "outlet", "", "outlet id (all outlets when empty)")
	cmd.Flags().StringSliceVar(&products, "product", nil, "product id, repeatable (all products when omitted)")
	return cmd
}

type revaluer interface {
	Run(ctx context.Context, payload jobs.InventoryRevaluationPayload) (jobs.RevaluationSummary, error)
}

func runRecompute(ctx context.Context, job revaluer, payload jobs.InventoryRevaluationPayload, out io.Writer) error {
	summary, err := job.Run(ctx, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "products=%d changed=%d rebalanced=%d\n", summary.Products, summary.Changed, summary.Rebalanced)
	return nil
}

type idempotencyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

func newPruneIdempotencyCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune-idempotency",
		Short: "Delete processed idempotency keys older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd.Context(), func(svc *app.Services, _ env) error {
				return runPrune(cmd.Context(), svc.Idem, olderThan, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window")
	return cmd
}

func runPrune(ctx context.Context, pruner idempotencyPruner, olderThan time.Duration, out io.Writer) error {
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	if err := pruner.Cleanup(ctx, olderThan); err != nil {
		return err
	}
	fmt.Fprintf(out, "pruned idempotency keys older than %s\n", olderThan)
	return nil
}
