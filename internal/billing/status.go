// Package billing holds the pure money math shared by the service layer and
// both store implementations: tax/total computation and the payment-status
// derivation. Keeping it in one place means every mutation path recomputes
// status the same way instead of re-growing per-handler if/else chains.
package billing

import (
	"math"
	"time"

	"stitchworks/backend/internal/domain"
)

// Totals computes tax and total from a subtotal in cents and a fractional
// tax rate. Rounding happens once, on the tax, so total == subtotal + tax
// always holds exactly.
func Totals(subtotalCents int64, taxRate float64) (taxCents int64, totalCents int64) {
	taxCents = int64(math.Round(float64(subtotalCents) * taxRate))
	return taxCents, subtotalCents + taxCents
}

// SubtotalFromLines sums qty * unit price over an invoice's line snapshot.
func SubtotalFromLines(lines []domain.InvoiceLine) int64 {
	var subtotal int64
	for _, line := range lines {
		subtotal += int64(line.Qty) * line.UnitPriceCents
	}
	return subtotal
}

// DeriveStatus maps paid/total amounts and the due date onto a payment
// status. Cancelled is a manual transition and is never returned here;
// callers that see a cancelled invoice must not re-derive over it.
func DeriveStatus(paidCents, totalCents int64, dueDate, now time.Time) string {
	switch {
	case paidCents >= totalCents && totalCents > 0:
		return domain.PaymentStatusPaid
	case paidCents > 0:
		return domain.PaymentStatusPartial
	case now.After(dueDate):
		return domain.PaymentStatusOverdue
	default:
		return domain.PaymentStatusPending
	}
}

// Remaining is total minus paid, floored at zero (overpayment never goes
// negative on the invoice).
func Remaining(paidCents, totalCents int64) int64 {
	remaining := totalCents - paidCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Apply recomputes the derived payment fields of an invoice in place from
// its paid amount. Status and remaining amount are never updated
// independently of each other; every mutation path funnels through here.
// A cancelled invoice keeps its status but still gets remaining recomputed.
func Apply(inv *domain.Invoice, now time.Time) {
	inv.RemainingCents = Remaining(inv.PaidCents, inv.TotalCents)
	if inv.PaymentStatus == domain.PaymentStatusCancelled {
		return
	}
	inv.PaymentStatus = DeriveStatus(inv.PaidCents, inv.TotalCents, inv.DueDate, now)
	if inv.PaymentStatus == domain.PaymentStatusPaid && inv.PaymentDate == nil {
		at := now
		inv.PaymentDate = &at
	}
}
