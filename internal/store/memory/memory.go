package memory

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stitchworks/backend/internal/billing"
	"stitchworks/backend/internal/domain"
	"stitchworks/backend/internal/store"
	"stitchworks/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	customersByID   map[string]domain.Customer
	itemsByID       map[string]domain.InventoryItem
	itemsBySKU      map[string]string
	movements       []domain.StockMovement
	invoicesByID    map[string]domain.Invoice
	invoiceNumbers  map[string]string
	paymentsByID    map[string]domain.PaymentTransaction
	workOrdersByID  map[string]domain.WorkOrder
	machinesByID    map[string]domain.Machine
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These never apply
// in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		customersByID:   make(map[string]domain.Customer),
		itemsByID:       make(map[string]domain.InventoryItem),
		itemsBySKU:      make(map[string]string),
		invoicesByID:    make(map[string]domain.Invoice),
		invoiceNumbers:  make(map[string]string),
		paymentsByID:    make(map[string]domain.PaymentTransaction),
		workOrdersByID:  make(map[string]domain.WorkOrder),
		machinesByID:    make(map[string]domain.Machine),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	customers := []domain.Customer{
		{ID: "cust-walkin-01", Name: "Priya Textiles", Phone: "9876500001", Email: "priya@example.com", Address: "12 Market Road", CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "cust-walkin-02", Name: "Anand Tailors", Phone: "9876500002", Address: "4 Station Street", CreatedAt: now.Add(-3 * 24 * time.Hour)},
	}
	for _, c := range customers {
		s.customersByID[c.ID] = c
	}

	items := []domain.InventoryItem{
		{ID: "item-machine-01", SKU: "SKU-MACH-001", Name: "Heavy Duty Machine HD-500", Category: "sewing", Brand: "Usha", Type: domain.ItemTypeMachine, CostCents: 1450000, PriceCents: 1899900, Quantity: 6, MinimumStock: 2, Location: "showroom", WarrantyPeriodYears: 2},
		{ID: "item-machine-02", SKU: "SKU-MACH-002", Name: "Overlock Machine OL-3", Category: "overlock", Brand: "Jack", Type: domain.ItemTypeMachine, CostCents: 2100000, PriceCents: 2649900, Quantity: 3, MinimumStock: 1, Location: "showroom", WarrantyPeriodYears: 1},
		{ID: "item-part-01", SKU: "SKU-PART-001", Name: "Bobbin Case", Category: "spares", Type: domain.ItemTypeParts, CostCents: 4500, PriceCents: 9900, Quantity: 120, MinimumStock: 25, Location: "rack-a"},
		{ID: "item-part-02", SKU: "SKU-PART-002", Name: "Motor Belt", Category: "spares", Type: domain.ItemTypeParts, CostCents: 8000, PriceCents: 14900, Quantity: 40, MinimumStock: 10, Location: "rack-a"},
		{ID: "item-part-03", SKU: "SKU-PART-003", Name: "LED Lamp Unit", Category: "spares", Type: domain.ItemTypeParts, CostCents: 21000, PriceCents: 34900, Quantity: 8, MinimumStock: 10, Location: "rack-b"},
	}
	for _, it := range items {
		it.CreatedAt = now
		it.UpdatedAt = now
		s.itemsByID[it.ID] = it
		s.itemsBySKU[it.SKU] = it.ID
	}

	s.workOrdersByID["wo-seed-01"] = domain.WorkOrder{
		ID:                 "wo-seed-01",
		CustomerID:         "cust-walkin-01",
		Title:              "Tension assembly repair",
		Status:             domain.WorkOrderStatusInProgress,
		EstimatedCostCents: 45000,
		DueDate:            now.Add(48 * time.Hour),
		CreatedAt:          now.Add(-24 * time.Hour),
		UpdatedAt:          now.Add(-2 * time.Hour),
	}

	return s
}

// --- Customers ---

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customersByID {
		if existing.Phone == customer.Phone {
			return nil, fmt.Errorf("%w: phone %s", store.ErrConflict, customer.Phone)
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.customersByID[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, other := range s.customersByID {
		if id != customer.ID && other.Phone == customer.Phone {
			return nil, fmt.Errorf("%w: phone %s", store.ErrConflict, customer.Phone)
		}
	}
	customer.CreatedAt = existing.CreatedAt
	s.customersByID[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customersByID[id]; !ok {
		return store.ErrNotFound
	}
	for _, inv := range s.invoicesByID {
		if inv.CustomerID == id {
			return fmt.Errorf("%w: customer referenced by invoice %s", store.ErrInvalidState, inv.ID)
		}
	}
	for _, wo := range s.workOrdersByID {
		if wo.CustomerID == id {
			return fmt.Errorf("%w: customer referenced by work order %s", store.ErrInvalidState, wo.ID)
		}
	}
	for _, m := range s.machinesByID {
		if m.CustomerID == id {
			return fmt.Errorf("%w: customer referenced by machine %s", store.ErrInvalidState, m.ID)
		}
	}
	delete(s.customersByID, id)
	return nil
}

func (s *Store) CountCustomersSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.customersByID {
		if !c.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- Inventory ---

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.SKU == "" || item.Name == "" || item.Quantity < 0 || item.MinimumStock < 0 || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.itemsBySKU[item.SKU]; exists {
		return nil, fmt.Errorf("%w: sku %s", store.ErrConflict, item.SKU)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.itemsByID[item.ID] = item
	s.itemsBySKU[item.SKU] = item.ID
	created := item
	return &created, nil
}

func (s *Store) GetInventoryItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.itemsByID[id]
	if !ok {
		if mapped, bySKU := s.itemsBySKU[id]; bySKU {
			item = s.itemsByID[mapped]
		} else {
			return nil, store.ErrNotFound
		}
	}
	found := item
	return &found, nil
}

func (s *Store) ListInventoryItems(_ context.Context, limit int) ([]domain.InventoryItem, error) {
	if limit < 1 {
		limit = 500
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.InventoryItem, 0, len(s.itemsByID))
	for _, it := range s.itemsByID {
		result = append(result, it)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category == result[j].Category {
			return result[i].Name < result[j].Name
		}
		return result[i].Category < result[j].Category
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateInventoryItem(_ context.Context, item domain.InventoryItem, movement *domain.StockMovement) (*domain.InventoryItem, error) {
	if item.ID == "" || item.Name == "" || item.Quantity < 0 || item.MinimumStock < 0 {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.itemsByID[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.SKU = existing.SKU
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	s.itemsByID[item.ID] = item
	if movement != nil {
		s.appendMovementLocked(*movement)
	}
	updated := item
	return &updated, nil
}

func (s *Store) ListLowStockItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.InventoryItem, 0, 16)
	for _, it := range s.itemsByID {
		if it.Quantity <= it.MinimumStock {
			result = append(result, it)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Quantity < result[j].Quantity })
	return result, nil
}

func (s *Store) CountLowStockItems(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, it := range s.itemsByID {
		if it.Quantity <= it.MinimumStock {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListStockMovements(_ context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		if itemID == "" || s.movements[i].ItemID == itemID {
			result = append(result, s.movements[i])
		}
	}
	return result, nil
}

func (s *Store) appendMovementLocked(movement domain.StockMovement) {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, movement)
}

// --- Invoices ---

func (s *Store) CreateInvoice(_ context.Context, inv domain.Invoice, initialPayment *domain.PaymentTransaction) (*domain.Invoice, error) {
	if inv.CustomerID == "" || inv.DueDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	if inv.Type != domain.InvoiceTypeService && inv.Type != domain.InvoiceTypeNewSale {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByID[inv.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, inv.CustomerID)
	}

	now := time.Now().UTC()

	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}

	if inv.Type == domain.InvoiceTypeNewSale {
		if len(inv.Items) == 0 {
			return nil, store.ErrInvalidInput
		}

		// Aggregate demand per item before checking so duplicate lines for
		// the same item are validated against their combined quantity, and
		// check every item before touching any quantity: the whole batch
		// fails when any single item is short.
		required := make(map[string]int, len(inv.Items))
		itemOrder := make([]string, 0, len(inv.Items))
		for _, line := range inv.Items {
			if line.Qty < 1 || line.InventoryItemID == "" {
				return nil, store.ErrInvalidInput
			}
			if _, seen := required[line.InventoryItemID]; !seen {
				itemOrder = append(itemOrder, line.InventoryItemID)
			}
			required[line.InventoryItemID] += line.Qty
		}

		shortages := make([]store.StockShortage, 0)
		for _, itemID := range itemOrder {
			item, ok := s.itemsByID[itemID]
			if !ok {
				return nil, fmt.Errorf("%w: inventory item %s", store.ErrNotFound, itemID)
			}
			if item.Quantity < required[itemID] {
				shortages = append(shortages, store.StockShortage{
					InventoryItemID: item.ID,
					ItemName:        item.Name,
					Available:       item.Quantity,
					Required:        required[itemID],
				})
			}
		}
		if len(shortages) > 0 {
			return nil, &store.StockError{Shortages: shortages}
		}

		repriced := make([]domain.InvoiceLine, 0, len(inv.Items))
		for _, line := range inv.Items {
			item := s.itemsByID[line.InventoryItemID]
			repriced = append(repriced, domain.InvoiceLine{
				InventoryItemID: item.ID,
				Name:            item.Name,
				Qty:             line.Qty,
				UnitPriceCents:  item.PriceCents,
			})
		}

		inv.Items = repriced
		inv.SubtotalCents = billing.SubtotalFromLines(repriced)
		inv.TaxCents, inv.TotalCents = billing.Totals(inv.SubtotalCents, inv.TaxRate)

		for _, line := range inv.Items {
			item := s.itemsByID[line.InventoryItemID]
			item.Quantity -= line.Qty
			item.UpdatedAt = now
			s.itemsByID[item.ID] = item
			s.appendMovementLocked(domain.StockMovement{
				ItemID:        item.ID,
				SKU:           item.SKU,
				Change:        -line.Qty,
				QuantityAfter: item.Quantity,
				SourceType:    domain.MovementSourceInvoice,
				SourceID:      inv.ID,
				CreatedAt:     now,
			})
		}
	} else {
		inv.Items = nil
		inv.TaxCents, inv.TotalCents = billing.Totals(inv.SubtotalCents, inv.TaxRate)
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = s.nextInvoiceNumberLocked(now)
	} else if _, taken := s.invoiceNumbers[inv.InvoiceNumber]; taken {
		return nil, fmt.Errorf("%w: invoice number %s", store.ErrConflict, inv.InvoiceNumber)
	}
	inv.CreatedAt = now
	inv.UpdatedAt = now

	if initialPayment != nil {
		payment := *initialPayment
		if payment.AmountCents < 1 {
			return nil, store.ErrInvalidInput
		}
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.InvoiceID = inv.ID
		payment.CreatedAt = now
		s.paymentsByID[payment.ID] = payment
		inv.PaidCents = payment.AmountCents
	}
	billing.Apply(&inv, now)

	s.invoicesByID[inv.ID] = inv
	s.invoiceNumbers[inv.InvoiceNumber] = inv.ID
	created := inv
	return &created, nil
}

func (s *Store) nextInvoiceNumberLocked(now time.Time) string {
	for {
		candidate := fmt.Sprintf("INV-%d-%06d", now.Year(), rand.Intn(1000000))
		if _, taken := s.invoiceNumbers[candidate]; !taken {
			return candidate
		}
	}
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := inv
	return &found, nil
}

func (s *Store) ListInvoices(_ context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv domain.Invoice) (*domain.Invoice, error) {
	if inv.ID == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.invoicesByID[inv.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// The number, line snapshot, and amounts are immutable after creation;
	// inventory effects apply only at create/delete time.
	inv.InvoiceNumber = existing.InvoiceNumber
	inv.Items = existing.Items
	inv.CustomerID = existing.CustomerID
	inv.Type = existing.Type
	inv.SubtotalCents = existing.SubtotalCents
	inv.TaxRate = existing.TaxRate
	inv.TaxCents = existing.TaxCents
	inv.TotalCents = existing.TotalCents
	inv.PaidCents = existing.PaidCents
	inv.CreatedAt = existing.CreatedAt
	inv.UpdatedAt = time.Now().UTC()
	s.invoicesByID[inv.ID] = inv
	updated := inv
	return &updated, nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoicesByID[id]
	if !ok {
		return store.ErrNotFound
	}

	now := time.Now().UTC()
	if inv.Type == domain.InvoiceTypeNewSale {
		for _, line := range inv.Items {
			item, exists := s.itemsByID[line.InventoryItemID]
			if !exists {
				// Item removed since the sale; restoring has nowhere to go.
				continue
			}
			item.Quantity += line.Qty
			item.UpdatedAt = now
			s.itemsByID[item.ID] = item
			s.appendMovementLocked(domain.StockMovement{
				ItemID:        item.ID,
				SKU:           item.SKU,
				Change:        line.Qty,
				QuantityAfter: item.Quantity,
				SourceType:    domain.MovementSourceInvoiceDelete,
				SourceID:      inv.ID,
				CreatedAt:     now,
			})
		}
	}

	for paymentID, payment := range s.paymentsByID {
		if payment.InvoiceID == id {
			delete(s.paymentsByID, paymentID)
		}
	}
	delete(s.invoiceNumbers, inv.InvoiceNumber)
	delete(s.invoicesByID, id)
	return nil
}

func (s *Store) SumPaidInvoicesBetween(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, inv := range s.invoicesByID {
		if inv.PaymentStatus != domain.PaymentStatusPaid || inv.PaymentDate == nil {
			continue
		}
		if inv.PaymentDate.Before(from) || !inv.PaymentDate.Before(to) {
			continue
		}
		total += inv.TotalCents
	}
	return total, nil
}

// --- Payments ---

func (s *Store) CreatePayment(_ context.Context, payment domain.PaymentTransaction) (*domain.PaymentTransaction, *domain.Invoice, error) {
	if payment.InvoiceID == "" || payment.AmountCents < 1 || !domain.IsValidPaymentMethod(payment.Method) {
		return nil, nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[payment.InvoiceID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	s.paymentsByID[payment.ID] = payment

	inv.PaidCents = s.sumPaymentsLocked(inv.ID)
	billing.Apply(&inv, now)
	inv.UpdatedAt = now
	s.invoicesByID[inv.ID] = inv

	createdPayment := payment
	updatedInvoice := inv
	return &createdPayment, &updatedInvoice, nil
}

func (s *Store) DeletePayment(_ context.Context, paymentID string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.paymentsByID[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv, ok := s.invoicesByID[payment.InvoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s for payment %s", store.ErrNotFound, payment.InvoiceID, paymentID)
	}
	delete(s.paymentsByID, paymentID)

	now := time.Now().UTC()
	inv.PaidCents = s.sumPaymentsLocked(inv.ID)
	if inv.PaidCents < inv.TotalCents {
		inv.PaymentDate = nil
	}
	billing.Apply(&inv, now)
	inv.UpdatedAt = now
	s.invoicesByID[inv.ID] = inv
	updated := inv
	return &updated, nil
}

func (s *Store) ListPayments(_ context.Context, invoiceID string) ([]domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.PaymentTransaction, 0, 8)
	for _, p := range s.paymentsByID {
		if p.InvoiceID == invoiceID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) sumPaymentsLocked(invoiceID string) int64 {
	var sum int64
	for _, p := range s.paymentsByID {
		if p.InvoiceID == invoiceID {
			sum += p.AmountCents
		}
	}
	return sum
}

// --- Work orders ---

func (s *Store) CreateWorkOrder(_ context.Context, wo domain.WorkOrder) (*domain.WorkOrder, error) {
	if wo.CustomerID == "" || wo.Title == "" || wo.DueDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customersByID[wo.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, wo.CustomerID)
	}
	if wo.ID == "" {
		wo.ID = xid.New("wo")
	}
	now := time.Now().UTC()
	if wo.Status == "" {
		wo.Status = domain.WorkOrderStatusPending
	}
	wo.CreatedAt = now
	wo.UpdatedAt = now
	s.workOrdersByID[wo.ID] = wo
	created := wo
	return &created, nil
}

func (s *Store) GetWorkOrder(_ context.Context, id string) (*domain.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wo, ok := s.workOrdersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := wo
	return &found, nil
}

func (s *Store) ListWorkOrders(_ context.Context, status string, limit int) ([]domain.WorkOrder, error) {
	if limit < 1 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.WorkOrder, 0, len(s.workOrdersByID))
	for _, wo := range s.workOrdersByID {
		if status != "" && wo.Status != status {
			continue
		}
		result = append(result, wo)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateWorkOrder(_ context.Context, wo domain.WorkOrder) (*domain.WorkOrder, error) {
	if wo.ID == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workOrdersByID[wo.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	wo.CustomerID = existing.CustomerID
	wo.CreatedAt = existing.CreatedAt
	wo.UpdatedAt = time.Now().UTC()
	s.workOrdersByID[wo.ID] = wo
	updated := wo
	return &updated, nil
}

func (s *Store) CountWorkOrdersByStatus(_ context.Context, statuses []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}
	count := 0
	for _, wo := range s.workOrdersByID {
		if _, ok := wanted[wo.Status]; ok {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountWorkOrdersDueBetween(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, wo := range s.workOrdersByID {
		if wo.Status == domain.WorkOrderStatusCancelled || wo.Status == domain.WorkOrderStatusDelivered {
			continue
		}
		if !wo.DueDate.Before(from) && wo.DueDate.Before(to) {
			count++
		}
	}
	return count, nil
}

// --- Machines ---

func (s *Store) CreateMachine(_ context.Context, machine domain.Machine) (*domain.Machine, error) {
	if machine.CustomerID == "" || machine.SerialNumber == "" {
		return nil, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customersByID[machine.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, machine.CustomerID)
	}
	for _, existing := range s.machinesByID {
		if existing.SerialNumber == machine.SerialNumber {
			return nil, fmt.Errorf("%w: serial number %s", store.ErrConflict, machine.SerialNumber)
		}
	}
	if machine.ID == "" {
		machine.ID = xid.New("mach")
	}
	if machine.CreatedAt.IsZero() {
		machine.CreatedAt = time.Now().UTC()
	}
	s.machinesByID[machine.ID] = machine
	created := machine
	return &created, nil
}

func (s *Store) ListMachines(_ context.Context, customerID string, limit int) ([]domain.Machine, error) {
	if limit < 1 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Machine, 0, len(s.machinesByID))
	for _, m := range s.machinesByID {
		if customerID != "" && m.CustomerID != customerID {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Audit ---

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

// --- Users ---

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username %s", store.ErrConflict, username)
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
