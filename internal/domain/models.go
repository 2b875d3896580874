package domain

import "time"

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

type InventoryItem struct {
	ID                  string    `json:"id"`
	SKU                 string    `json:"sku"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	Brand               string    `json:"brand,omitempty"`
	Type                string    `json:"type"`
	CostCents           int64     `json:"cost_cents"`
	PriceCents          int64     `json:"price_cents"`
	Quantity            int       `json:"quantity"`
	MinimumStock        int       `json:"minimum_stock"`
	Location            string    `json:"location,omitempty"`
	WarrantyPeriodYears int       `json:"warranty_period_years"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type InventoryItemCreateRequest struct {
	SKU                 string `json:"sku,omitempty"`
	Name                string `json:"name"`
	Category            string `json:"category"`
	Brand               string `json:"brand,omitempty"`
	Type                string `json:"type"`
	CostCents           int64  `json:"cost_cents"`
	PriceCents          int64  `json:"price_cents"`
	Quantity            int    `json:"quantity"`
	MinimumStock        int    `json:"minimum_stock"`
	Location            string `json:"location,omitempty"`
	WarrantyPeriodYears int    `json:"warranty_period_years"`
}

type InventoryItemUpdateRequest struct {
	Name                *string `json:"name,omitempty"`
	Category            *string `json:"category,omitempty"`
	Brand               *string `json:"brand,omitempty"`
	CostCents           *int64  `json:"cost_cents,omitempty"`
	PriceCents          *int64  `json:"price_cents,omitempty"`
	Quantity            *int    `json:"quantity,omitempty"`
	MinimumStock        *int    `json:"minimum_stock,omitempty"`
	Location            *string `json:"location,omitempty"`
	WarrantyPeriodYears *int    `json:"warranty_period_years,omitempty"`
}

// StockMovement records every quantity mutation with its source, so manual
// adjustments and invoice effects stay distinguishable after the fact.
type StockMovement struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	SKU           string    `json:"sku"`
	Change        int       `json:"change"`
	QuantityAfter int       `json:"quantity_after"`
	SourceType    string    `json:"source_type"`
	SourceID      string    `json:"source_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// InvoiceLine is a point-in-time snapshot of a sold item. It is stored with
// the invoice and never joined back against live inventory, so deleting the
// invoice restores exactly what was decremented at creation time.
type InvoiceLine struct {
	InventoryItemID string `json:"inventory_item_id"`
	Name            string `json:"name"`
	Qty             int    `json:"qty"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
}

type Invoice struct {
	ID             string        `json:"id"`
	InvoiceNumber  string        `json:"invoice_number"`
	CustomerID     string        `json:"customer_id"`
	WorkOrderID    string        `json:"work_order_id,omitempty"`
	Type           string        `json:"type"`
	Items          []InvoiceLine `json:"items,omitempty"`
	SubtotalCents  int64         `json:"subtotal_cents"`
	TaxRate        float64       `json:"tax_rate"`
	TaxCents       int64         `json:"tax_cents"`
	TotalCents     int64         `json:"total_cents"`
	PaidCents      int64         `json:"paid_cents"`
	RemainingCents int64         `json:"remaining_cents"`
	PaymentStatus  string        `json:"payment_status"`
	PaymentDate    *time.Time    `json:"payment_date,omitempty"`
	DueDate        time.Time     `json:"due_date"`
	Notes          string        `json:"notes,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type InvoiceLineRequest struct {
	InventoryItemID string `json:"inventory_item_id"`
	Qty             int    `json:"qty"`
}

type InvoiceCreateRequest struct {
	CustomerID     string               `json:"customer_id"`
	WorkOrderID    string               `json:"work_order_id,omitempty"`
	Type           string               `json:"type"`
	Items          []InvoiceLineRequest `json:"items,omitempty"`
	SubtotalCents  int64                `json:"subtotal_cents,omitempty"`
	TaxRate        *float64             `json:"tax_rate,omitempty"`
	DueDate        string               `json:"due_date"`
	Notes          string               `json:"notes,omitempty"`
	InitialPayment *PaymentRequest      `json:"initial_payment,omitempty"`
}

type InvoiceUpdateRequest struct {
	PaymentStatus *string `json:"payment_status,omitempty"`
	PaymentDate   *string `json:"payment_date,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type PaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	Reference   string `json:"reference,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type PaymentTransaction struct {
	ID          string    `json:"id"`
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	Reference   string    `json:"reference,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type WorkOrder struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	MachineID          string     `json:"machine_id,omitempty"`
	Title              string     `json:"title"`
	Status             string     `json:"status"`
	EstimatedCostCents int64      `json:"estimated_cost_cents"`
	ActualCostCents    *int64     `json:"actual_cost_cents,omitempty"`
	DueDate            time.Time  `json:"due_date"`
	Notes              string     `json:"notes,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type WorkOrderCreateRequest struct {
	CustomerID         string `json:"customer_id"`
	MachineID          string `json:"machine_id,omitempty"`
	Title              string `json:"title"`
	EstimatedCostCents int64  `json:"estimated_cost_cents"`
	DueDate            string `json:"due_date"`
	Notes              string `json:"notes,omitempty"`
}

type WorkOrderUpdateRequest struct {
	Status          *string `json:"status,omitempty"`
	ActualCostCents *int64  `json:"actual_cost_cents,omitempty"`
	DueDate         *string `json:"due_date,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// Machine is a customer-owned unit tracked for warranty purposes. When it is
// registered against a sold inventory item, the warranty window is derived
// from that item's warranty period.
type Machine struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id"`
	InventoryItemID string     `json:"inventory_item_id,omitempty"`
	Brand           string     `json:"brand"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serial_number"`
	PurchaseDate    *time.Time `json:"purchase_date,omitempty"`
	WarrantyUntil   *time.Time `json:"warranty_until,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type MachineCreateRequest struct {
	CustomerID      string `json:"customer_id"`
	InventoryItemID string `json:"inventory_item_id,omitempty"`
	Brand           string `json:"brand"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	PurchaseDate    string `json:"purchase_date,omitempty"`
}

type DashboardMetrics struct {
	TodaySalesCents    int64     `json:"today_sales_cents"`
	ActiveRepairs      int       `json:"active_repairs"`
	WorkOrdersDueToday int       `json:"work_orders_due_today"`
	NewCustomers7d     int       `json:"new_customers_7d"`
	LowStockItems      int       `json:"low_stock_items"`
	GeneratedAt        time.Time `json:"generated_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	InvoiceTypeService = "service"
	InvoiceTypeNewSale = "new_sale"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusPartial   = "partial"
	PaymentStatusPaid      = "paid"
	PaymentStatusOverdue   = "overdue"
	PaymentStatusCancelled = "cancelled"
)

const (
	WorkOrderStatusPending    = "pending"
	WorkOrderStatusInProgress = "in_progress"
	WorkOrderStatusCompleted  = "completed"
	WorkOrderStatusDelivered  = "delivered"
	WorkOrderStatusCancelled  = "cancelled"
)

const (
	ItemTypeMachine = "machine"
	ItemTypeRepairs = "repairs"
	ItemTypeParts   = "parts"
)

const (
	MovementSourceManual        = "manual"
	MovementSourceInvoice       = "invoice"
	MovementSourceInvoiceDelete = "invoice_delete"
)

func IsValidPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "upi", "bank_transfer", "cheque":
		return true
	}
	return false
}

func IsValidItemType(itemType string) bool {
	switch itemType {
	case ItemTypeMachine, ItemTypeRepairs, ItemTypeParts:
		return true
	}
	return false
}

func IsValidWorkOrderStatus(status string) bool {
	switch status {
	case WorkOrderStatusPending, WorkOrderStatusInProgress, WorkOrderStatusCompleted,
		WorkOrderStatusDelivered, WorkOrderStatusCancelled:
		return true
	}
	return false
}
