package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/dealerledger/internal/app"
	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/posting"
)

// seedActor owns the audit trail of demo data.
var seedActor = uuid.MustParse("00000000-0000-0000-0000-00000000d3a1")

var demoChart = []struct {
	role ledger.SubType
	code string
	name string
	typ  ledger.AccountType
}{
	{ledger.SubTypeCash, "1000", "Cash on Hand", ledger.AccountTypeAsset},
	{ledger.SubTypeBank, "1010", "Operating Bank", ledger.AccountTypeAsset},
	{ledger.SubTypeAccountsReceivable, "1100", "Customer Receivables", ledger.AccountTypeAsset},
	{ledger.SubTypeInventory, "1200", "Vehicle and Parts Inventory", ledger.AccountTypeAsset},
	{ledger.SubTypeVATReceivable, "1300", "Input VAT", ledger.AccountTypeAsset},
	{ledger.SubTypeAccountsPayable, "2000", "Supplier Payables", ledger.AccountTypeLiability},
	{ledger.SubTypeVATPayable, "2100", "Output VAT", ledger.AccountTypeLiability},
	{ledger.SubTypeOwnerEquity, "3000", "Owner Capital", ledger.AccountTypeEquity},
	{ledger.SubTypeSalesRevenue, "4000", "Vehicle and Parts Sales", ledger.AccountTypeRevenue},
	{ledger.SubTypeServiceRevenue, "4100", "Workshop Labour", ledger.AccountTypeRevenue},
	{ledger.SubTypeSalesReturns, "4900", "Sales Returns", ledger.AccountTypeRevenue},
	{ledger.SubTypeCOGS, "5000", "Cost of Goods Sold", ledger.AccountTypeExpense},
	{ledger.SubTypeExpense, "6100", "Rent", ledger.AccountTypeExpense},
	{ledger.SubTypeExpense, "6200", "Utilities", ledger.AccountTypeExpense},
}

var demoProducts = []struct {
	sku  string
	name string
	qty  int64
	cost string
}{
	{"VH-SCOOT-125", "Scooter 125cc", 6, "1450.00"},
	{"VH-SPORT-250", "Sport Bike 250cc", 3, "3900.00"},
	{"PT-OIL-10W40", "Engine Oil 10W-40 1L", 120, "6.50"},
	{"PT-BRK-PAD", "Brake Pad Set", 40, "14.25"},
	{"PT-TYRE-90", "Tyre 90/90-14", 0, "31.00"},
}

// SeedStore writes demo master data. Rows are keyed deterministically so reruns are no-ops.
type SeedStore interface {
	UpsertAccount(ctx context.Context, acc ledger.Account) (bool, error)
	UpsertProduct(ctx context.Context, p ledger.Product) (bool, error)
}

// SeedReport counts what a seed run created.
type SeedReport struct {
	Accounts      int
	Products      int
	OpeningStocks int
}

func demoID(outletID uuid.UUID, kind, key string) uuid.UUID {
	return uuid.NewSHA1(outletID, []byte(kind+":"+key))
}

// SeedDemoOutlet creates the system chart and a small product catalogue for outletID, then
// posts opening stock for products created in this run.
func SeedDemoOutlet(ctx context.Context, store SeedStore, postingSvc *posting.Service, outletID uuid.UUID, asOf time.Time) (SeedReport, error) {
	var report SeedReport
	for _, c := range demoChart {
		created, err := store.UpsertAccount(ctx, ledger.Account{
			ID:       demoID(outletID, "account", c.code),
			OutletID: outletID,
			Code:     c.code,
			Name:     c.name,
			Type:     c.typ,
			SubType:  c.role,
			IsSystem: c.role != ledger.SubTypeExpense,
		})
		if err != nil {
			return report, fmt.Errorf("seed account %s: %w", c.code, err)
		}
		if created {
			report.Accounts++
		}
	}

	for _, p := range demoProducts {
		product := ledger.Product{
			ID:       demoID(outletID, "product", p.sku),
			OutletID: outletID,
			Name:     p.name,
			SKU:      p.sku,
		}
		created, err := store.UpsertProduct(ctx, product)
		if err != nil {
			return report, fmt.Errorf("seed product %s: %w", p.sku, err)
		}
		if !created {
			continue
		}
		report.Products++
		if p.qty == 0 {
			continue
		}
		_, err = postingSvc.PostInventoryAdjustment(ctx, posting.InventoryAdjustment{
			OutletID:     outletID,
			ProductID:    product.ID,
			Date:         asOf,
			Quantity:     decimal.NewFromInt(p.qty),
			UnitCost:     decimal.RequireFromString(p.cost),
			Reason:       "opening stock",
			OpeningStock: true,
		}, seedActor)
		if err != nil {
			return report, fmt.Errorf("opening stock %s: %w", p.sku, err)
		}
		report.OpeningStocks++
	}
	return report, nil
}

type pgSeedStore struct {
	pool *pgxpool.Pool
}

func (s pgSeedStore) UpsertAccount(ctx context.Context, a ledger.Account) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO accounts (id, outlet_id, code, name, type, sub_type, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (outlet_id, code) DO NOTHING`,
		a.ID, a.OutletID, a.Code, a.Name, a.Type, a.SubType, a.IsSystem)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s pgSeedStore) UpsertProduct(ctx context.Context, p ledger.Product) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO products (id, outlet_id, name, sku)
		VALUES ($1, $2, $3, $4) ON CONFLICT (outlet_id, sku) DO NOTHING`,
		p.ID, p.OutletID, p.Name, p.SKU)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func newSeedCommand() *cobra.Command {
	var (
		outlet string
		asOf   string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo outlet with a system chart, products and opening stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outletID, err := parseOutlet(outlet)
			if err != nil {
				return err
			}
			if outletID == uuid.Nil {
				outletID = uuid.New()
			}
			date := time.Now().UTC().Truncate(24 * time.Hour)
			if asOf != "" {
				if date, err = time.Parse("2006-01-02", asOf); err != nil {
					return fmt.Errorf("invalid --as-of %q", asOf)
				}
			}
			return withServices(cmd.Context(), func(svc *app.Services, _ env) error {
				report, err := SeedDemoOutlet(cmd.Context(), pgSeedStore{pool: svc.Pool}, svc.Posting, outletID, date)
				if err != nil {
					return err
				}
				printSeedReport(cmd.OutOrStdout(), outletID, report)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outlet, "outlet", "", "outlet id (generated when empty)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "opening date YYYY-MM-DD (today when empty)")
	return cmd
}

func printSeedReport(out io.Writer, outletID uuid.UUID, r SeedReport) {
	fmt.Fprintf(out, "outlet=%s accounts=%d products=%d opening_stocks=%d\n", outletID, r.Accounts, r.Products, r.OpeningStocks)
}
