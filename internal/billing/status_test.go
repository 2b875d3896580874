package billing

import (
	"testing"
	"time"

	"stitchworks/backend/internal/domain"
)

func TestTotalsRoundsTaxOnce(t *testing.T) {
	tax, total := Totals(30000, 0.18)
	if tax != 5400 {
		t.Fatalf("expected tax 5400, got %d", tax)
	}
	if total != 35400 {
		t.Fatalf("expected total 35400, got %d", total)
	}

	// 333 * 0.18 = 59.94, rounds to 60
	tax, total = Totals(333, 0.18)
	if tax != 60 {
		t.Fatalf("expected tax 60, got %d", tax)
	}
	if total != 393 {
		t.Fatalf("expected total 393, got %d", total)
	}

	tax, total = Totals(1000, 0)
	if tax != 0 || total != 1000 {
		t.Fatalf("expected zero tax passthrough, got tax=%d total=%d", tax, total)
	}
}

func TestSubtotalFromLines(t *testing.T) {
	subtotal := SubtotalFromLines([]domain.InvoiceLine{
		{Qty: 3, UnitPriceCents: 10000},
		{Qty: 2, UnitPriceCents: 250},
	})
	if subtotal != 30500 {
		t.Fatalf("expected subtotal 30500, got %d", subtotal)
	}
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	if got := DeriveStatus(0, 1000, future, now); got != domain.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if got := DeriveStatus(400, 1000, future, now); got != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", got)
	}
	if got := DeriveStatus(1000, 1000, future, now); got != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", got)
	}
	if got := DeriveStatus(1200, 1000, future, now); got != domain.PaymentStatusPaid {
		t.Fatalf("expected paid on overpayment, got %s", got)
	}
	if got := DeriveStatus(0, 1000, past, now); got != domain.PaymentStatusOverdue {
		t.Fatalf("expected overdue, got %s", got)
	}
	// Partial beats overdue: any money on the books means the customer is paying.
	if got := DeriveStatus(400, 1000, past, now); got != domain.PaymentStatusPartial {
		t.Fatalf("expected partial past due, got %s", got)
	}
}

func TestRemainingFloorsAtZero(t *testing.T) {
	if got := Remaining(400, 1000); got != 600 {
		t.Fatalf("expected 600, got %d", got)
	}
	if got := Remaining(1200, 1000); got != 0 {
		t.Fatalf("expected 0 on overpayment, got %d", got)
	}
}

func TestApplySetsPaymentDateOnceOnPaid(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	inv := domain.Invoice{
		TotalCents: 1000,
		PaidCents:  1000,
		DueDate:    now.Add(24 * time.Hour),
	}

	Apply(&inv, now)
	if inv.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", inv.PaymentStatus)
	}
	if inv.PaymentDate == nil || !inv.PaymentDate.Equal(now) {
		t.Fatalf("expected payment date %s, got %v", now, inv.PaymentDate)
	}

	later := now.Add(time.Hour)
	Apply(&inv, later)
	if !inv.PaymentDate.Equal(now) {
		t.Fatalf("expected payment date preserved on re-apply, got %v", inv.PaymentDate)
	}
}

func TestApplyPreservesCancelled(t *testing.T) {
	now := time.Now().UTC()
	inv := domain.Invoice{
		TotalCents:    1000,
		PaidCents:     400,
		PaymentStatus: domain.PaymentStatusCancelled,
		DueDate:       now.Add(24 * time.Hour),
	}

	Apply(&inv, now)
	if inv.PaymentStatus != domain.PaymentStatusCancelled {
		t.Fatalf("expected cancelled preserved, got %s", inv.PaymentStatus)
	}
	if inv.RemainingCents != 600 {
		t.Fatalf("expected remaining still recomputed to 600, got %d", inv.RemainingCents)
	}
}
