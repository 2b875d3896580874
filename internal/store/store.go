package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stitchworks/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("already exists")
)

// StockShortage describes one line of an availability failure.
type StockShortage struct {
	InventoryItemID string `json:"inventory_item_id"`
	ItemName        string `json:"item_name"`
	Available       int    `json:"available"`
	Required        int    `json:"required"`
}

// StockError carries the per-line detail for an insufficient-stock failure.
// It unwraps to ErrInsufficientStock so callers can keep using errors.Is.
type StockError struct {
	Shortages []StockShortage
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s: available %d, required %d", s.ItemName, s.Available, s.Required))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type Repository interface {
	// Customers
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// DeleteCustomer fails with ErrInvalidState while any invoice, work
	// order, or machine still references the customer.
	DeleteCustomer(ctx context.Context, id string) error
	CountCustomersSince(ctx context.Context, since time.Time) (int, error)

	// Inventory
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListInventoryItems(ctx context.Context, limit int) ([]domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, item domain.InventoryItem, movement *domain.StockMovement) (*domain.InventoryItem, error)
	ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error)
	ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error)
	CountLowStockItems(ctx context.Context) (int, error)

	// Invoices. CreateInvoice runs the whole new_sale sequence in one
	// transaction: lock item rows, check availability per item (duplicate
	// lines count against their combined quantity) before any decrement,
	// re-price lines from stored items, decrement, insert. A shortage
	// surfaces as *StockError with no rows touched.
	CreateInvoice(ctx context.Context, inv domain.Invoice, initialPayment *domain.PaymentTransaction) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error)
	UpdateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, error)
	// DeleteInvoice restores stock from the invoice's own line snapshot
	// (skipping items that no longer exist), cascades the invoice's
	// payment transactions, and removes the row, all in one transaction.
	DeleteInvoice(ctx context.Context, id string) error
	SumPaidInvoicesBetween(ctx context.Context, from, to time.Time) (int64, error)

	// Payments. Both recompute the parent invoice's paid/remaining/status
	// under a row lock in the same transaction.
	CreatePayment(ctx context.Context, payment domain.PaymentTransaction) (*domain.PaymentTransaction, *domain.Invoice, error)
	DeletePayment(ctx context.Context, paymentID string) (*domain.Invoice, error)
	ListPayments(ctx context.Context, invoiceID string) ([]domain.PaymentTransaction, error)

	// Work orders
	CreateWorkOrder(ctx context.Context, wo domain.WorkOrder) (*domain.WorkOrder, error)
	GetWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error)
	ListWorkOrders(ctx context.Context, status string, limit int) ([]domain.WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, wo domain.WorkOrder) (*domain.WorkOrder, error)
	CountWorkOrdersByStatus(ctx context.Context, statuses []string) (int, error)
	CountWorkOrdersDueBetween(ctx context.Context, from, to time.Time) (int, error)

	// Machines
	CreateMachine(ctx context.Context, machine domain.Machine) (*domain.Machine, error)
	ListMachines(ctx context.Context, customerID string, limit int) ([]domain.Machine, error)

	// Audit
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)

	// Users
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
