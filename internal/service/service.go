package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stitchworks/backend/internal/billing"
	"stitchworks/backend/internal/dashboard"
	"stitchworks/backend/internal/domain"
	"stitchworks/backend/internal/store"
	"stitchworks/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dateLayout = "2006-01-02"

type Service struct {
	repo           store.Repository
	dashboard      *dashboard.Aggregator
	defaultTaxRate float64
	serviceTaxRate float64
}

func New(repo store.Repository, dash *dashboard.Aggregator, defaultTaxRate float64, serviceTaxRate float64) *Service {
	if defaultTaxRate <= 0 {
		defaultTaxRate = 0.18
	}
	if serviceTaxRate <= 0 {
		serviceTaxRate = 0.08
	}

	return &Service{
		repo:           repo,
		dashboard:      dash,
		defaultTaxRate: defaultTaxRate,
		serviceTaxRate: serviceTaxRate,
	}
}

// --- Customers ---

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:    req.Name,
		Phone:   req.Phone,
		Email:   strings.TrimSpace(req.Email),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Phone = phone
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", saved.ID, saved.Name)
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// --- Inventory ---

func (s *Service) ListInventoryItems(ctx context.Context, limit int) ([]domain.InventoryItem, error) {
	return s.repo.ListInventoryItems(ctx, limit)
}

func (s *Service) GetInventoryItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.GetInventoryItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) CreateInventoryItem(ctx context.Context, req domain.InventoryItemCreateRequest) (domain.InventoryItem, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Name == "" || req.Category == "" {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}
	if !domain.IsValidItemType(req.Type) {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.Quantity < 0 || req.MinimumStock < 0 || req.WarrantyPeriodYears < 0 {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}
	if req.SKU == "" {
		req.SKU = strings.ToUpper(xid.New("sku"))
	}

	created, err := s.repo.CreateInventoryItem(ctx, domain.InventoryItem{
		SKU:                 req.SKU,
		Name:                req.Name,
		Category:            req.Category,
		Brand:               strings.TrimSpace(req.Brand),
		Type:                req.Type,
		CostCents:           req.CostCents,
		PriceCents:          req.PriceCents,
		Quantity:            req.Quantity,
		MinimumStock:        req.MinimumStock,
		Location:            strings.TrimSpace(req.Location),
		WarrantyPeriodYears: req.WarrantyPeriodYears,
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "inventory_create", "inventory_item", created.ID, fmt.Sprintf("sku=%s,qty=%d", created.SKU, created.Quantity))
	return *created, nil
}

func (s *Service) UpdateInventoryItem(ctx context.Context, id string, req domain.InventoryItemUpdateRequest) (domain.InventoryItem, error) {
	existing, err := s.repo.GetInventoryItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.CostCents = *req.CostCents
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.MinimumStock != nil {
		if *req.MinimumStock < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.MinimumStock = *req.MinimumStock
	}
	if req.Location != nil {
		updated.Location = strings.TrimSpace(*req.Location)
	}
	if req.WarrantyPeriodYears != nil {
		if *req.WarrantyPeriodYears < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		updated.WarrantyPeriodYears = *req.WarrantyPeriodYears
	}

	var movement *domain.StockMovement
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return domain.InventoryItem{}, store.ErrInvalidInput
		}
		if *req.Quantity != existing.Quantity {
			actor, _ := ActorFromContext(ctx)
			updated.Quantity = *req.Quantity
			movement = &domain.StockMovement{
				ItemID:        existing.ID,
				SKU:           existing.SKU,
				Change:        *req.Quantity - existing.Quantity,
				QuantityAfter: *req.Quantity,
				SourceType:    domain.MovementSourceManual,
				Notes:         fmt.Sprintf("manual adjustment by %s", actor.Username),
				CreatedAt:     time.Now().UTC(),
			}
		}
	}

	saved, err := s.repo.UpdateInventoryItem(ctx, updated, movement)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "inventory_update", "inventory_item", saved.ID, fmt.Sprintf("sku=%s,qty=%d", saved.SKU, saved.Quantity))
	return *saved, nil
}

func (s *Service) ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListLowStockItems(ctx)
}

func (s *Service) ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, itemID, limit)
}

// --- Invoices ---

func (s *Service) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, limit)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	if req.CustomerID == "" {
		return domain.Invoice{}, store.ErrInvalidInput
	}
	if req.Type != domain.InvoiceTypeService && req.Type != domain.InvoiceTypeNewSale {
		return domain.Invoice{}, store.ErrInvalidInput
	}

	dueDate, err := time.ParseInLocation(dateLayout, req.DueDate, time.UTC)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", store.ErrInvalidInput)
	}

	taxRate := s.defaultTaxRate
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 1 {
			return domain.Invoice{}, store.ErrInvalidInput
		}
		taxRate = *req.TaxRate
	}

	inv := domain.Invoice{
		CustomerID:  req.CustomerID,
		WorkOrderID: req.WorkOrderID,
		Type:        req.Type,
		TaxRate:     taxRate,
		DueDate:     dueDate,
		Notes:       strings.TrimSpace(req.Notes),
	}

	switch req.Type {
	case domain.InvoiceTypeNewSale:
		if len(req.Items) == 0 {
			return domain.Invoice{}, store.ErrInvalidInput
		}
		lines := make([]domain.InvoiceLine, 0, len(req.Items))
		for _, line := range req.Items {
			if line.InventoryItemID == "" || line.Qty < 1 {
				return domain.Invoice{}, store.ErrInvalidInput
			}
			lines = append(lines, domain.InvoiceLine{InventoryItemID: line.InventoryItemID, Qty: line.Qty})
		}
		inv.Items = lines
	case domain.InvoiceTypeService:
		if req.SubtotalCents < 1 {
			return domain.Invoice{}, store.ErrInvalidInput
		}
		inv.SubtotalCents = req.SubtotalCents
	}

	var initialPayment *domain.PaymentTransaction
	if req.InitialPayment != nil {
		if req.InitialPayment.AmountCents < 1 || !domain.IsValidPaymentMethod(req.InitialPayment.Method) {
			return domain.Invoice{}, store.ErrInvalidInput
		}
		initialPayment = &domain.PaymentTransaction{
			AmountCents: req.InitialPayment.AmountCents,
			Method:      req.InitialPayment.Method,
			Reference:   strings.TrimSpace(req.InitialPayment.Reference),
			Notes:       strings.TrimSpace(req.InitialPayment.Notes),
		}
	}

	created, err := s.repo.CreateInvoice(ctx, inv, initialPayment)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "invoice_create", "invoice", created.ID, fmt.Sprintf("number=%s,type=%s,total=%d", created.InvoiceNumber, created.Type, created.TotalCents))
	return *created, nil
}

func (s *Service) UpdateInvoice(ctx context.Context, id string, req domain.InvoiceUpdateRequest) (domain.Invoice, error) {
	existing, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}

	updated := *existing
	if req.DueDate != nil {
		dueDate, err := time.ParseInLocation(dateLayout, *req.DueDate, time.UTC)
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		updated.DueDate = dueDate
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.PaymentDate != nil {
		if *req.PaymentDate == "" {
			updated.PaymentDate = nil
		} else {
			paymentDate, err := time.ParseInLocation(dateLayout, *req.PaymentDate, time.UTC)
			if err != nil {
				return domain.Invoice{}, fmt.Errorf("%w: payment_date must be YYYY-MM-DD", store.ErrInvalidInput)
			}
			updated.PaymentDate = &paymentDate
		}
	}
	if req.PaymentStatus != nil {
		// Status is derived from payments except cancellation, which is a
		// manual call. Setting anything else just clears a cancellation
		// and lets derivation take over again.
		switch *req.PaymentStatus {
		case domain.PaymentStatusCancelled:
			updated.PaymentStatus = domain.PaymentStatusCancelled
		case domain.PaymentStatusPending, domain.PaymentStatusPartial, domain.PaymentStatusPaid, domain.PaymentStatusOverdue:
			updated.PaymentStatus = *req.PaymentStatus
		default:
			return domain.Invoice{}, store.ErrInvalidInput
		}
	}

	if updated.PaymentStatus != domain.PaymentStatusCancelled {
		billing.Apply(&updated, time.Now().UTC())
	} else {
		updated.RemainingCents = billing.Remaining(updated.PaidCents, updated.TotalCents)
	}

	saved, err := s.repo.UpdateInvoice(ctx, updated)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "invoice_update", "invoice", saved.ID, fmt.Sprintf("status=%s", saved.PaymentStatus))
	return *saved, nil
}

func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "invoice_delete", "invoice", id, fmt.Sprintf("number=%s,total=%d", inv.InvoiceNumber, inv.TotalCents))
	return nil
}

func (s *Service) CreateInvoiceFromWorkOrder(ctx context.Context, workOrderID string) (domain.Invoice, error) {
	wo, err := s.repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if wo.Status != domain.WorkOrderStatusCompleted {
		return domain.Invoice{}, fmt.Errorf("%w: work order %s is %s, not completed", store.ErrInvalidState, wo.ID, wo.Status)
	}
	if wo.ActualCostCents == nil || *wo.ActualCostCents < 1 {
		return domain.Invoice{}, fmt.Errorf("%w: work order %s has no actual cost", store.ErrInvalidState, wo.ID)
	}

	now := time.Now().UTC()
	created, err := s.repo.CreateInvoice(ctx, domain.Invoice{
		CustomerID:    wo.CustomerID,
		WorkOrderID:   wo.ID,
		Type:          domain.InvoiceTypeService,
		SubtotalCents: *wo.ActualCostCents,
		TaxRate:       s.serviceTaxRate,
		DueDate:       now.Add(30 * 24 * time.Hour),
		Notes:         wo.Title,
	}, nil)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "invoice_create_from_work_order", "invoice", created.ID, fmt.Sprintf("work_order=%s,total=%d", wo.ID, created.TotalCents))
	return *created, nil
}

// --- Payments ---

func (s *Service) ListPayments(ctx context.Context, invoiceID string) ([]domain.PaymentTransaction, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

func (s *Service) AddPayment(ctx context.Context, invoiceID string, req domain.PaymentRequest) (domain.PaymentTransaction, domain.Invoice, error) {
	if req.AmountCents < 1 || !domain.IsValidPaymentMethod(req.Method) {
		return domain.PaymentTransaction{}, domain.Invoice{}, store.ErrInvalidInput
	}

	payment, invoice, err := s.repo.CreatePayment(ctx, domain.PaymentTransaction{
		InvoiceID:   invoiceID,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		Reference:   strings.TrimSpace(req.Reference),
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.PaymentTransaction{}, domain.Invoice{}, err
	}

	s.logAudit(ctx, "payment_add", "payment", payment.ID, fmt.Sprintf("invoice=%s,amount=%d,method=%s", invoiceID, payment.AmountCents, payment.Method))
	return *payment, *invoice, nil
}

func (s *Service) DeletePayment(ctx context.Context, paymentID string) (domain.Invoice, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Invoice{}, fmt.Errorf("admin role required")
	}

	invoice, err := s.repo.DeletePayment(ctx, paymentID)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "payment_delete", "payment", paymentID, fmt.Sprintf("invoice=%s", invoice.ID))
	return *invoice, nil
}

// --- Work orders ---

func (s *Service) ListWorkOrders(ctx context.Context, status string, limit int) ([]domain.WorkOrder, error) {
	if status != "" && !domain.IsValidWorkOrderStatus(status) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListWorkOrders(ctx, status, limit)
}

func (s *Service) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	wo, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return *wo, nil
}

func (s *Service) CreateWorkOrder(ctx context.Context, req domain.WorkOrderCreateRequest) (domain.WorkOrder, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.CustomerID == "" || req.Title == "" {
		return domain.WorkOrder{}, store.ErrInvalidInput
	}
	if req.EstimatedCostCents < 0 {
		return domain.WorkOrder{}, store.ErrInvalidInput
	}

	dueDate, err := time.ParseInLocation(dateLayout, req.DueDate, time.UTC)
	if err != nil {
		return domain.WorkOrder{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", store.ErrInvalidInput)
	}

	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return domain.WorkOrder{}, err
	}

	created, err := s.repo.CreateWorkOrder(ctx, domain.WorkOrder{
		CustomerID:         req.CustomerID,
		MachineID:          req.MachineID,
		Title:              req.Title,
		Status:             domain.WorkOrderStatusPending,
		EstimatedCostCents: req.EstimatedCostCents,
		DueDate:            dueDate,
		Notes:              strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}

	s.logAudit(ctx, "work_order_create", "work_order", created.ID, created.Title)
	return *created, nil
}

func (s *Service) UpdateWorkOrder(ctx context.Context, id string, req domain.WorkOrderUpdateRequest) (domain.WorkOrder, error) {
	existing, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	updated := *existing
	if req.Status != nil {
		if !domain.IsValidWorkOrderStatus(*req.Status) {
			return domain.WorkOrder{}, store.ErrInvalidInput
		}
		updated.Status = *req.Status
		if updated.Status == domain.WorkOrderStatusCompleted && existing.CompletedAt == nil {
			now := time.Now().UTC()
			updated.CompletedAt = &now
		}
	}
	if req.ActualCostCents != nil {
		if *req.ActualCostCents < 0 {
			return domain.WorkOrder{}, store.ErrInvalidInput
		}
		cost := *req.ActualCostCents
		updated.ActualCostCents = &cost
	}
	if req.DueDate != nil {
		dueDate, err := time.ParseInLocation(dateLayout, *req.DueDate, time.UTC)
		if err != nil {
			return domain.WorkOrder{}, fmt.Errorf("%w: due_date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		updated.DueDate = dueDate
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}

	saved, err := s.repo.UpdateWorkOrder(ctx, updated)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	s.logAudit(ctx, "work_order_update", "work_order", saved.ID, fmt.Sprintf("status=%s", saved.Status))
	return *saved, nil
}

// --- Machines ---

func (s *Service) ListMachines(ctx context.Context, customerID string, limit int) ([]domain.Machine, error) {
	return s.repo.ListMachines(ctx, customerID, limit)
}

func (s *Service) CreateMachine(ctx context.Context, req domain.MachineCreateRequest) (domain.Machine, error) {
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	req.Brand = strings.TrimSpace(req.Brand)
	req.Model = strings.TrimSpace(req.Model)
	if req.CustomerID == "" || req.SerialNumber == "" || req.Brand == "" {
		return domain.Machine{}, store.ErrInvalidInput
	}

	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return domain.Machine{}, err
	}

	machine := domain.Machine{
		CustomerID:      req.CustomerID,
		InventoryItemID: req.InventoryItemID,
		Brand:           req.Brand,
		Model:           req.Model,
		SerialNumber:    req.SerialNumber,
	}

	if req.PurchaseDate != "" {
		purchaseDate, err := time.ParseInLocation(dateLayout, req.PurchaseDate, time.UTC)
		if err != nil {
			return domain.Machine{}, fmt.Errorf("%w: purchase_date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		machine.PurchaseDate = &purchaseDate

		if req.InventoryItemID != "" {
			item, err := s.repo.GetInventoryItem(ctx, req.InventoryItemID)
			if err != nil {
				return domain.Machine{}, err
			}
			if item.WarrantyPeriodYears > 0 {
				until := purchaseDate.AddDate(item.WarrantyPeriodYears, 0, 0)
				machine.WarrantyUntil = &until
			}
		}
	}

	created, err := s.repo.CreateMachine(ctx, machine)
	if err != nil {
		return domain.Machine{}, err
	}

	s.logAudit(ctx, "machine_create", "machine", created.ID, created.SerialNumber)
	return *created, nil
}

// --- Dashboard ---

func (s *Service) DashboardMetrics(ctx context.Context) (domain.DashboardMetrics, error) {
	metrics, err := s.dashboard.Metrics(ctx, time.Now())
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	return *metrics, nil
}

// --- Audit ---

func (s *Service) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
