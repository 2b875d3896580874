package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stitchworks/backend/internal/billing"
	"stitchworks/backend/internal/domain"
	"stitchworks/backend/internal/store"
	"stitchworks/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Customers ---

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.Email), nullIfEmpty(customer.Address), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: phone %s", store.ErrConflict, customer.Phone)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, COALESCE(email,''), COALESCE(address,''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Email, &customer.Address, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, COALESCE(email,''), COALESCE(address,''), created_at
		FROM customers
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.Email), nullIfEmpty(customer.Address))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: phone %s", store.ErrConflict, customer.Phone)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCustomer(ctx, customer.ID)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	var referenced bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM invoices WHERE customer_id = $1)
			OR EXISTS(SELECT 1 FROM work_orders WHERE customer_id = $1)
			OR EXISTS(SELECT 1 FROM machines WHERE customer_id = $1)
	`, id).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("%w: customer %s still referenced", store.ErrInvalidState, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CountCustomersSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM customers
		WHERE created_at >= $1
	`, since).Scan(&count)
	return count, err
}

// --- Inventory ---

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.SKU == "" || item.Name == "" || item.Quantity < 0 || item.MinimumStock < 0 || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, sku, name, category, brand, type, cost_cents, price_cents,
			quantity, minimum_stock, location, warranty_period_years, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, item.ID, item.SKU, item.Name, item.Category, nullIfEmpty(item.Brand), item.Type,
		item.CostCents, item.PriceCents, item.Quantity, item.MinimumStock,
		nullIfEmpty(item.Location), item.WarrantyPeriodYears, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrConflict, item.SKU)
		}
		return nil, err
	}
	created := item
	return &created, nil
}

const inventoryItemColumns = `
	id, sku, name, category, COALESCE(brand,''), type, cost_cents, price_cents,
	quantity, minimum_stock, COALESCE(location,''), warranty_period_years, created_at, updated_at`

func scanInventoryItem(row interface{ Scan(...any) error }) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.ID, &item.SKU, &item.Name, &item.Category, &item.Brand, &item.Type,
		&item.CostCents, &item.PriceCents, &item.Quantity, &item.MinimumStock,
		&item.Location, &item.WarrantyPeriodYears, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item, err := scanInventoryItem(s.db.QueryRowContext(ctx, `
		SELECT `+inventoryItemColumns+`
		FROM inventory_items
		WHERE id = $1 OR sku = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, limit int) ([]domain.InventoryItem, error) {
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryItemColumns+`
		FROM inventory_items
		ORDER BY category, name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, limit)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem, movement *domain.StockMovement) (*domain.InventoryItem, error) {
	if item.ID == "" || item.Name == "" || item.Quantity < 0 || item.MinimumStock < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $2, category = $3, brand = $4, type = $5, cost_cents = $6,
			price_cents = $7, quantity = $8, minimum_stock = $9, location = $10,
			warranty_period_years = $11, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Category, nullIfEmpty(item.Brand), item.Type,
		item.CostCents, item.PriceCents, item.Quantity, item.MinimumStock,
		nullIfEmpty(item.Location), item.WarrantyPeriodYears)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if movement != nil {
		if err := insertStockMovement(ctx, tx, *movement); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetInventoryItem(ctx, item.ID)
}

func (s *Store) ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryItemColumns+`
		FROM inventory_items
		WHERE quantity <= minimum_stock
		ORDER BY quantity ASC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 32)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountLowStockItems(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM inventory_items
		WHERE quantity <= minimum_stock
	`).Scan(&count)
	return count, err
}

func (s *Store) ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, sku, change, quantity_after, source_type, COALESCE(source_id,''), COALESCE(notes,''), created_at
		FROM stock_movements
		WHERE ($1 = '' OR item_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.SKU, &m.Change, &m.QuantityAfter, &m.SourceType, &m.SourceID, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStockMovement(ctx context.Context, ex execer, movement domain.StockMovement) error {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO stock_movements (id, item_id, sku, change, quantity_after, source_type, source_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, movement.ID, movement.ItemID, movement.SKU, movement.Change, movement.QuantityAfter,
		movement.SourceType, nullIfEmpty(movement.SourceID), nullIfEmpty(movement.Notes), movement.CreatedAt)
	return err
}

// --- Invoices ---

func (s *Store) CreateInvoice(ctx context.Context, inv domain.Invoice, initialPayment *domain.PaymentTransaction) (*domain.Invoice, error) {
	if inv.CustomerID == "" || inv.DueDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	if inv.Type != domain.InvoiceTypeService && inv.Type != domain.InvoiceTypeNewSale {
		return nil, store.ErrInvalidInput
	}
	if initialPayment != nil && initialPayment.AmountCents < 1 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var customerExists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, inv.CustomerID).Scan(&customerExists); err != nil {
		return nil, err
	}
	if !customerExists {
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

		itemIDs := make([]string, 0, len(inv.Items))
		for _, line := range inv.Items {
			if line.Qty < 1 {
				return nil, store.ErrInvalidInput
			}
			itemIDs = append(itemIDs, line.InventoryItemID)
		}

		// Row locks hold until commit, so concurrent sales on the same
		// items serialize here.
		itemRows, err := pgTx.QueryContext(ctx, `
			SELECT id, sku, name, price_cents, quantity
			FROM inventory_items
			WHERE id = ANY($1)
			FOR UPDATE
		`, itemIDs)
		if err != nil {
			return nil, err
		}
		type lockedItem struct {
			sku        string
			name       string
			priceCents int64
			quantity   int
		}
		itemMap := make(map[string]lockedItem, len(itemIDs))
		for itemRows.Next() {
			var id string
			var item lockedItem
			if err := itemRows.Scan(&id, &item.sku, &item.name, &item.priceCents, &item.quantity); err != nil {
				_ = itemRows.Close()
				return nil, err
			}
			itemMap[id] = item
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		_ = itemRows.Close()

		// Demand is aggregated per item so duplicate lines for the same
		// item are checked against their combined quantity, and every item
		// is checked before any quantity changes: a single short item fails
		// the whole invoice with nothing written.
		required := make(map[string]int, len(inv.Items))
		itemOrder := make([]string, 0, len(inv.Items))
		for _, line := range inv.Items {
			if _, seen := required[line.InventoryItemID]; !seen {
				itemOrder = append(itemOrder, line.InventoryItemID)
			}
			required[line.InventoryItemID] += line.Qty
		}

		shortages := make([]store.StockShortage, 0)
		for _, itemID := range itemOrder {
			item, exists := itemMap[itemID]
			if !exists {
				return nil, fmt.Errorf("%w: inventory item %s", store.ErrNotFound, itemID)
			}
			if item.quantity < required[itemID] {
				shortages = append(shortages, store.StockShortage{
					InventoryItemID: itemID,
					ItemName:        item.name,
					Available:       item.quantity,
					Required:        required[itemID],
				})
			}
		}
		if len(shortages) > 0 {
			return nil, &store.StockError{Shortages: shortages}
		}

		repriced := make([]domain.InvoiceLine, 0, len(inv.Items))
		for _, line := range inv.Items {
			item := itemMap[line.InventoryItemID]
			repriced = append(repriced, domain.InvoiceLine{
				InventoryItemID: line.InventoryItemID,
				Name:            item.name,
				Qty:             line.Qty,
				UnitPriceCents:  item.priceCents,
			})
		}

		inv.Items = repriced
		inv.SubtotalCents = billing.SubtotalFromLines(repriced)

		for _, line := range inv.Items {
			var quantityAfter int
			err = pgTx.QueryRowContext(ctx, `
				UPDATE inventory_items
				SET quantity = quantity - $1, updated_at = now()
				WHERE id = $2
				RETURNING quantity
			`, line.Qty, line.InventoryItemID).Scan(&quantityAfter)
			if err != nil {
				return nil, err
			}
			err = insertStockMovement(ctx, pgTx, domain.StockMovement{
				ItemID:        line.InventoryItemID,
				SKU:           itemMap[line.InventoryItemID].sku,
				Change:        -line.Qty,
				QuantityAfter: quantityAfter,
				SourceType:    domain.MovementSourceInvoice,
				SourceID:      inv.ID,
				CreatedAt:     now,
			})
			if err != nil {
				return nil, err
			}
		}
	} else {
		inv.Items = nil
	}

	inv.TaxCents, inv.TotalCents = billing.Totals(inv.SubtotalCents, inv.TaxRate)
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if initialPayment != nil {
		inv.PaidCents = initialPayment.AmountCents
	}
	billing.Apply(&inv, now)

	if inv.InvoiceNumber == "" {
		number, err := nextInvoiceNumber(ctx, pgTx, now)
		if err != nil {
			return nil, err
		}
		inv.InvoiceNumber = number
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_number, customer_id, work_order_id, type, subtotal_cents,
			tax_rate, tax_cents, total_cents, paid_cents, remaining_cents,
			payment_status, payment_date, due_date, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, inv.ID, inv.InvoiceNumber, inv.CustomerID, nullIfEmpty(inv.WorkOrderID), inv.Type,
		inv.SubtotalCents, inv.TaxRate, inv.TaxCents, inv.TotalCents, inv.PaidCents,
		inv.RemainingCents, inv.PaymentStatus, nullTime(inv.PaymentDate), inv.DueDate,
		nullIfEmpty(inv.Notes), inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice number %s", store.ErrConflict, inv.InvoiceNumber)
		}
		return nil, err
	}

	for _, line := range inv.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, inventory_item_id, name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, inv.ID, line.InventoryItemID, line.Name, line.Qty, line.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if initialPayment != nil {
		payment := *initialPayment
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.InvoiceID = inv.ID
		payment.CreatedAt = now
		if err := insertPayment(ctx, pgTx, payment); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nextInvoiceNumber(ctx context.Context, q queryer, now time.Time) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		candidate := fmt.Sprintf("INV-%d-%06d", now.Year(), rand.Intn(1000000))
		var taken bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE invoice_number = $1)`, candidate).Scan(&taken); err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate invoice number", store.ErrConflict)
}

const invoiceColumns = `
	id, invoice_number, customer_id, COALESCE(work_order_id,''), type, subtotal_cents,
	tax_rate, tax_cents, total_cents, paid_cents, remaining_cents,
	payment_status, payment_date, due_date, COALESCE(notes,''), created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var inv domain.Invoice
	var paymentDate sql.NullTime
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.WorkOrderID, &inv.Type,
		&inv.SubtotalCents, &inv.TaxRate, &inv.TaxCents, &inv.TotalCents, &inv.PaidCents,
		&inv.RemainingCents, &inv.PaymentStatus, &paymentDate, &inv.DueDate, &inv.Notes,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return inv, err
	}
	if paymentDate.Valid {
		at := paymentDate.Time.UTC()
		inv.PaymentDate = &at
	}
	inv.DueDate = inv.DueDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadInvoiceItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return &inv, nil
}

func (s *Store) loadInvoiceItems(ctx context.Context, invoiceID string) ([]domain.InvoiceLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT inventory_item_id, name, qty, unit_price_cents
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY id ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InvoiceLine, 0, 8)
	for rows.Next() {
		var line domain.InvoiceLine
		if err := rows.Scan(&line.InventoryItemID, &line.Name, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func (s *Store) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
		ids = append(ids, inv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return invoices, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, inventory_item_id, name, qty, unit_price_cents
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemMap := make(map[string][]domain.InvoiceLine, len(ids))
	for itemRows.Next() {
		var invoiceID string
		var line domain.InvoiceLine
		if err := itemRows.Scan(&invoiceID, &line.InventoryItemID, &line.Name, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		itemMap[invoiceID] = append(itemMap[invoiceID], line)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range invoices {
		invoices[i].Items = itemMap[invoices[i].ID]
	}
	return invoices, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, error) {
	if inv.ID == "" {
		return nil, store.ErrInvalidInput
	}

	// Amounts and the line snapshot are immutable; only lifecycle fields
	// move after creation.
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET payment_status = $2, payment_date = $3, remaining_cents = $4,
			due_date = $5, notes = $6, updated_at = now()
		WHERE id = $1
	`, inv.ID, inv.PaymentStatus, nullTime(inv.PaymentDate), inv.RemainingCents, inv.DueDate, nullIfEmpty(inv.Notes))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetInvoice(ctx, inv.ID)
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var invoiceType string
	err = pgTx.QueryRowContext(ctx, `
		SELECT type
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&invoiceType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	if invoiceType == domain.InvoiceTypeNewSale {
		itemRows, err := pgTx.QueryContext(ctx, `
			SELECT inventory_item_id, qty
			FROM invoice_items
			WHERE invoice_id = $1
		`, id)
		if err != nil {
			return err
		}
		type restoreLine struct {
			itemID string
			qty    int
		}
		lines := make([]restoreLine, 0, 8)
		for itemRows.Next() {
			var line restoreLine
			if err := itemRows.Scan(&line.itemID, &line.qty); err != nil {
				_ = itemRows.Close()
				return err
			}
			lines = append(lines, line)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return err
		}
		_ = itemRows.Close()

		now := time.Now().UTC()
		for _, line := range lines {
			var sku string
			var quantityAfter int
			err = pgTx.QueryRowContext(ctx, `
				UPDATE inventory_items
				SET quantity = quantity + $1, updated_at = now()
				WHERE id = $2
				RETURNING sku, quantity
			`, line.qty, line.itemID).Scan(&sku, &quantityAfter)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					// Item removed since the sale; nothing to restore into.
					continue
				}
				return err
			}
			err = insertStockMovement(ctx, pgTx, domain.StockMovement{
				ItemID:        line.itemID,
				SKU:           sku,
				Change:        line.qty,
				QuantityAfter: quantityAfter,
				SourceType:    domain.MovementSourceInvoiceDelete,
				SourceID:      id,
				CreatedAt:     now,
			})
			if err != nil {
				return err
			}
		}
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM payment_transactions WHERE invoice_id = $1`, id); err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, id); err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) SumPaidInvoicesBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents),0)::bigint
		FROM invoices
		WHERE payment_status = $1
			AND payment_date >= $2
			AND payment_date < $3
	`, domain.PaymentStatusPaid, from, to).Scan(&total)
	return total, err
}

// --- Payments ---

func insertPayment(ctx context.Context, ex execer, payment domain.PaymentTransaction) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO payment_transactions (id, invoice_id, amount_cents, method, reference, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.InvoiceID, payment.AmountCents, payment.Method,
		nullIfEmpty(payment.Reference), nullIfEmpty(payment.Notes), payment.CreatedAt)
	return err
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.PaymentTransaction) (*domain.PaymentTransaction, *domain.Invoice, error) {
	if payment.InvoiceID == "" || payment.AmountCents < 1 || !domain.IsValidPaymentMethod(payment.Method) {
		return nil, nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	inv, err := lockInvoice(ctx, pgTx, payment.InvoiceID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	if err := insertPayment(ctx, pgTx, payment); err != nil {
		return nil, nil, err
	}

	if err := recomputeInvoicePayments(ctx, pgTx, inv, now); err != nil {
		return nil, nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	updated, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		return nil, nil, err
	}
	created := payment
	return &created, updated, nil
}

func (s *Store) DeletePayment(ctx context.Context, paymentID string) (*domain.Invoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var invoiceID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT invoice_id
		FROM payment_transactions
		WHERE id = $1
	`, paymentID).Scan(&invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	inv, err := lockInvoice(ctx, pgTx, invoiceID)
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM payment_transactions WHERE id = $1`, paymentID); err != nil {
		return nil, err
	}
	if err := recomputeInvoicePayments(ctx, pgTx, inv, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

func lockInvoice(ctx context.Context, pgTx *sql.Tx, invoiceID string) (*domain.Invoice, error) {
	inv, err := scanInvoice(pgTx.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// recomputeInvoicePayments re-derives paid/remaining/status from the sum of
// the invoice's payment rows. Caller must hold the invoice row lock.
func recomputeInvoicePayments(ctx context.Context, pgTx *sql.Tx, inv *domain.Invoice, now time.Time) error {
	var paid int64
	err := pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents),0)::bigint
		FROM payment_transactions
		WHERE invoice_id = $1
	`, inv.ID).Scan(&paid)
	if err != nil {
		return err
	}

	inv.PaidCents = paid
	if inv.PaidCents < inv.TotalCents {
		inv.PaymentDate = nil
	}
	billing.Apply(inv, now)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE invoices
		SET paid_cents = $2, remaining_cents = $3, payment_status = $4, payment_date = $5, updated_at = now()
		WHERE id = $1
	`, inv.ID, inv.PaidCents, inv.RemainingCents, inv.PaymentStatus, nullTime(inv.PaymentDate))
	return err
}

func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]domain.PaymentTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount_cents, method, COALESCE(reference,''), COALESCE(notes,''), created_at
		FROM payment_transactions
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentTransaction, 0, 8)
	for rows.Next() {
		var p domain.PaymentTransaction
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.Reference, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// --- Work orders ---

const workOrderColumns = `
	id, customer_id, COALESCE(machine_id,''), title, status, estimated_cost_cents,
	actual_cost_cents, due_date, COALESCE(notes,''), completed_at, created_at, updated_at`

func scanWorkOrder(row interface{ Scan(...any) error }) (domain.WorkOrder, error) {
	var wo domain.WorkOrder
	var actualCost sql.NullInt64
	var completedAt sql.NullTime
	err := row.Scan(
		&wo.ID, &wo.CustomerID, &wo.MachineID, &wo.Title, &wo.Status, &wo.EstimatedCostCents,
		&actualCost, &wo.DueDate, &wo.Notes, &completedAt, &wo.CreatedAt, &wo.UpdatedAt,
	)
	if err != nil {
		return wo, err
	}
	if actualCost.Valid {
		cost := actualCost.Int64
		wo.ActualCostCents = &cost
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		wo.CompletedAt = &at
	}
	wo.DueDate = wo.DueDate.UTC()
	wo.CreatedAt = wo.CreatedAt.UTC()
	wo.UpdatedAt = wo.UpdatedAt.UTC()
	return wo, nil
}

func (s *Store) CreateWorkOrder(ctx context.Context, wo domain.WorkOrder) (*domain.WorkOrder, error) {
	if wo.CustomerID == "" || wo.Title == "" || wo.DueDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	if wo.ID == "" {
		wo.ID = xid.New("wo")
	}
	if wo.Status == "" {
		wo.Status = domain.WorkOrderStatusPending
	}
	now := time.Now().UTC()
	wo.CreatedAt = now
	wo.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_orders (
			id, customer_id, machine_id, title, status, estimated_cost_cents,
			actual_cost_cents, due_date, notes, completed_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, wo.ID, wo.CustomerID, nullIfEmpty(wo.MachineID), wo.Title, wo.Status, wo.EstimatedCostCents,
		nullInt64(wo.ActualCostCents), wo.DueDate, nullIfEmpty(wo.Notes), nullTime(wo.CompletedAt),
		wo.CreatedAt, wo.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, wo.CustomerID)
		}
		return nil, err
	}
	created := wo
	return &created, nil
}

func (s *Store) GetWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error) {
	wo, err := scanWorkOrder(s.db.QueryRowContext(ctx, `
		SELECT `+workOrderColumns+`
		FROM work_orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &wo, nil
}

func (s *Store) ListWorkOrders(ctx context.Context, status string, limit int) ([]domain.WorkOrder, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workOrderColumns+`
		FROM work_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.WorkOrder, 0, limit)
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateWorkOrder(ctx context.Context, wo domain.WorkOrder) (*domain.WorkOrder, error) {
	if wo.ID == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE work_orders
		SET title = $2, status = $3, estimated_cost_cents = $4, actual_cost_cents = $5,
			due_date = $6, notes = $7, completed_at = $8, machine_id = $9, updated_at = now()
		WHERE id = $1
	`, wo.ID, wo.Title, wo.Status, wo.EstimatedCostCents, nullInt64(wo.ActualCostCents),
		wo.DueDate, nullIfEmpty(wo.Notes), nullTime(wo.CompletedAt), nullIfEmpty(wo.MachineID))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetWorkOrder(ctx, wo.ID)
}

func (s *Store) CountWorkOrdersByStatus(ctx context.Context, statuses []string) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM work_orders
		WHERE status = ANY($1)
	`, statuses).Scan(&count)
	return count, err
}

func (s *Store) CountWorkOrdersDueBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM work_orders
		WHERE status NOT IN ($1, $2)
			AND due_date >= $3
			AND due_date < $4
	`, domain.WorkOrderStatusCancelled, domain.WorkOrderStatusDelivered, from, to).Scan(&count)
	return count, err
}

// --- Machines ---

func (s *Store) CreateMachine(ctx context.Context, machine domain.Machine) (*domain.Machine, error) {
	if machine.CustomerID == "" || machine.SerialNumber == "" {
		return nil, store.ErrInvalidInput
	}
	if machine.ID == "" {
		machine.ID = xid.New("mach")
	}
	if machine.CreatedAt.IsZero() {
		machine.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (
			id, customer_id, inventory_item_id, brand, model, serial_number,
			purchase_date, warranty_until, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, machine.ID, machine.CustomerID, nullIfEmpty(machine.InventoryItemID), machine.Brand,
		machine.Model, machine.SerialNumber, nullTime(machine.PurchaseDate),
		nullTime(machine.WarrantyUntil), machine.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: serial number %s", store.ErrConflict, machine.SerialNumber)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, machine.CustomerID)
		}
		return nil, err
	}
	created := machine
	return &created, nil
}

func (s *Store) ListMachines(ctx context.Context, customerID string, limit int) ([]domain.Machine, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, COALESCE(inventory_item_id,''), brand, model, serial_number,
			purchase_date, warranty_until, created_at
		FROM machines
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]domain.Machine, 0, limit)
	for rows.Next() {
		var m domain.Machine
		var purchaseDate sql.NullTime
		var warrantyUntil sql.NullTime
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.InventoryItemID, &m.Brand, &m.Model, &m.SerialNumber, &purchaseDate, &warrantyUntil, &m.CreatedAt); err != nil {
			return nil, err
		}
		if purchaseDate.Valid {
			at := purchaseDate.Time.UTC()
			m.PurchaseDate = &at
		}
		if warrantyUntil.Valid {
			at := warrantyUntil.Time.UTC()
			m.WarrantyUntil = &at
		}
		m.CreatedAt = m.CreatedAt.UTC()
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return machines, nil
}

// --- Audit ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s", store.ErrConflict, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
