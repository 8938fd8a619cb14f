package posting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

func validateSale(sale Sale) error {
	if err := requireOutlet(sale.OutletID, sale.ID); err != nil {
		return err
	}
	if len(sale.Lines) == 0 {
		return fmt.Errorf("%w: sale without lines", ErrInvalidPayload)
	}
	for idx, line := range sale.Lines {
		if err := requirePositive(fmt.Sprintf("line %d quantity", idx), line.Quantity); err != nil {
			return err
		}
		if line.UnitPrice.IsNegative() || line.Tax.IsNegative() || line.CostPrice.IsNegative() {
			return fmt.Errorf("%w: line %d carries a negative amount", ErrInvalidPayload, idx)
		}
	}
	if sale.AmountPaid.IsNegative() || sale.BalanceDue.IsNegative() {
		return fmt.Errorf("%w: negative settlement", ErrInvalidPayload)
	}
	return nil
}

// PostSale posts the receipt voucher for a sale and, when any product line carries cost,
// a separate COGS journal, then takes the sold units out of stock.
func (s *Service) PostSale(ctx context.Context, sale Sale, userID uuid.UUID) (SaleResult, error) {
	var result SaleResult
	err := validateSale(sale)
	if err == nil {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			var err error
			result, err = s.postSale(ctx, tx, sale, userID)
			return err
		})
	}
	s.observe("sale", err)
	if err != nil {
		return SaleResult{}, err
	}
	s.ledger.Record(ctx, userID, "sale.post", result.VoucherID.String(), map[string]any{
		"sale_id": sale.ID,
		"number":  result.VoucherNumber,
	})
	return result, nil
}

type costedLine struct {
	line SaleLine
	cost decimal.Decimal
}

func (s *Service) postSale(ctx context.Context, tx ledger.TxRepository, sale Sale, userID uuid.UUID) (SaleResult, error) {
	accounts, err := s.ledger.SystemAccounts(ctx, tx, sale.OutletID)
	if err != nil {
		return SaleResult{}, err
	}
	if err := s.ensureUnposted(ctx, tx, sale.OutletID, ledger.RefSale, sale.ID); err != nil {
		return SaleResult{}, err
	}

	productRevenue, laborRevenue, tax := decimal.Zero, decimal.Zero, decimal.Zero
	for _, line := range sale.Lines {
		if line.IsLabor {
			laborRevenue = laborRevenue.Add(line.Amount())
		} else {
			productRevenue = productRevenue.Add(line.Amount())
		}
		tax = tax.Add(line.Tax.Round(2))
	}
	// discounts are not posted, so the grand total must match the priced lines
	total, err := reconcileTotal("grand total", sale.GrandTotal, productRevenue.Add(laborRevenue).Add(tax), s.ledger.Tolerance())
	if err != nil {
		return SaleResult{}, err
	}
	paid, due, err := splitSettlement(sale.PaymentMethod, total, sale.AmountPaid, sale.BalanceDue, s.ledger.Tolerance())
	if err != nil {
		return SaleResult{}, err
	}

	var lines []ledger.EntryLine
	if paid.IsPositive() {
		lines = append(lines, ledger.Debit(settlementAccount(accounts, sale.PaymentMethod), paid, ""))
	}
	if due.IsPositive() {
		lines = append(lines, ledger.Debit(accounts.AccountsReceivable, due, "Balance due"))
	}
	if productRevenue.IsPositive() {
		lines = append(lines, ledger.Credit(accounts.SalesRevenue, productRevenue, ""))
	}
	if laborRevenue.IsPositive() {
		lines = append(lines, ledger.Credit(accounts.ServiceRevenueOrFallback(s.logger), laborRevenue, "Workshop labor"))
	}
	if tax.IsPositive() {
		vat, err := accounts.Require(ledger.SubTypeVATPayable)
		if err != nil {
			return SaleResult{}, err
		}
		lines = append(lines, ledger.Credit(vat, tax, "Output VAT"))
	}
	receipt, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
		OutletID:      sale.OutletID,
		Type:          ledger.VoucherTypeReceipt,
		Date:          sale.Date,
		Narration:     saleNarration(sale, total),
		ReferenceType: ledger.RefSale,
		ReferenceID:   sale.ID,
		CreatedBy:     userID,
		Lines:         lines,
	})
	if err != nil {
		return SaleResult{}, err
	}
	result := SaleResult{VoucherID: receipt.ID, VoucherNumber: receipt.Number}

	var stocked []costedLine
	cogs := decimal.Zero
	for _, line := range sale.Lines {
		if line.IsLabor || line.ProductID == nil {
			continue
		}
		cost := line.CostPrice
		if !cost.IsPositive() {
			product, err := tx.GetProductForUpdate(ctx, *line.ProductID)
			if err != nil {
				return SaleResult{}, err
			}
			cost = product.CostPrice
		}
		stocked = append(stocked, costedLine{line: line, cost: cost})
		if cost.IsPositive() {
			cogs = cogs.Add(cost.Mul(line.Quantity).Round(2))
		}
	}
	if cogs.IsPositive() {
		journal, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
			OutletID:      sale.OutletID,
			Type:          ledger.VoucherTypeJournal,
			Date:          sale.Date,
			Narration:     cogsNarration(sale, cogs),
			ReferenceType: ledger.RefSaleCOGS,
			ReferenceID:   sale.ID,
			CreatedBy:     userID,
			Lines: []ledger.EntryLine{
				ledger.Debit(accounts.COGS, cogs, ""),
				ledger.Credit(accounts.Inventory, cogs, ""),
			},
		})
		if err != nil {
			return SaleResult{}, err
		}
		result.CogsVoucherID = ptr(journal.ID)
	}
	for _, item := range stocked {
		if _, err := s.ledger.AppendMovement(ctx, tx, ledger.MovementInput{
			ProductID:     *item.line.ProductID,
			Type:          ledger.MovementSale,
			Quantity:      item.line.Quantity.Neg(),
			UnitCost:      item.cost,
			VoucherID:     ptr(receipt.ID),
			ReferenceType: ledger.RefSale,
			ReferenceID:   sale.ID,
			Date:          receipt.Date,
		}); err != nil {
			return SaleResult{}, err
		}
	}
	s.logger.Info("sale posted",
		slog.String("sale_id", sale.ID),
		slog.String("voucher", receipt.Number),
		slog.String("total", total.StringFixed(2)),
		slog.String("cogs", cogs.StringFixed(2)))
	return result, nil
}
