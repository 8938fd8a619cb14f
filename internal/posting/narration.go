package posting

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// amount groups thousands in the exact two-place rendering of v.
func amount(v decimal.Decimal) string {
	digits := v.StringFixed(2)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	whole, frac, _ := strings.Cut(digits, ".")
	var b strings.Builder
	b.WriteString(sign)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func saleNarration(s Sale, total decimal.Decimal) string {
	return printer.Sprintf("Sale %s to %s - %s", orDefault(s.InvoiceNumber, s.ID), orDefault(s.CustomerName, "walk-in customer"), amount(total))
}

func cogsNarration(s Sale, cost decimal.Decimal) string {
	return printer.Sprintf("Cost of goods sold for %s - %s", orDefault(s.InvoiceNumber, s.ID), amount(cost))
}

func purchaseNarration(p Purchase, total decimal.Decimal) string {
	return printer.Sprintf("Purchase %s from %s - %s", orDefault(p.BillNumber, p.ID), orDefault(p.SupplierName, "supplier"), amount(total))
}

func purchasePaymentNarration(p PurchasePayment) string {
	if p.PurchaseID != "" {
		return printer.Sprintf("Payment against purchase %s - %s", p.PurchaseID, amount(p.Amount))
	}
	return printer.Sprintf("Payment to %s - %s", orDefault(p.SupplierName, "supplier"), amount(p.Amount))
}

func expenseNarration(e Expense, total decimal.Decimal) string {
	return printer.Sprintf("Expense %s - %s", orDefault(e.Description, e.ID), amount(total))
}

func adjustmentNarration(a InventoryAdjustment, product string, value decimal.Decimal) string {
	if a.OpeningStock {
		return printer.Sprintf("Opening stock %s x %s - %s", product, a.Quantity.String(), amount(value))
	}
	return printer.Sprintf("Stock adjustment %s %s - %s", product, signed(a.Quantity), orDefault(a.Reason, "manual correction"))
}

func returnNarration(r Return) string {
	if r.SaleID != "" {
		return printer.Sprintf("Return %s against sale %s - %s", r.ID, r.SaleID, amount(r.Amount))
	}
	return printer.Sprintf("Return %s - %s", r.ID, amount(r.Amount))
}

// reversalNarration formats "REVERSAL: <original narration> - <reason>".
func reversalNarration(original, reason string) string {
	if reason == "" {
		return "REVERSAL: " + original
	}
	return "REVERSAL: " + original + " - " + reason
}

func signed(q decimal.Decimal) string {
	if q.IsPositive() {
		return "+" + q.String()
	}
	return q.String()
}
