package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stitchworks/backend/internal/dashboard"
	"stitchworks/backend/internal/domain"
	"stitchworks/backend/internal/service"
	"stitchworks/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	dash := dashboard.NewAggregator(repo, nil, 0)
	svc := service.New(repo, dash, 0.18, 0.08)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
	if body["role"] != "admin" {
		t.Fatalf("expected role admin, got %v", body["role"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleCustomers_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/customers", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCustomers_ListWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/customers", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["customers"] == nil {
		t.Fatalf("expected customers key in response, got %v", body)
	}
}

func TestCreateInvoiceFullFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices", token, csrf, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin-01",
		Type:       "new_sale",
		DueDate:    time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
		Items: []domain.InvoiceLineRequest{
			{InventoryItemID: "item-part-01", Qty: 2},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	invoice, ok := body["invoice"].(map[string]any)
	if !ok {
		t.Fatalf("expected invoice object in response, got %v", body)
	}
	if invoice["invoice_number"] == "" || invoice["invoice_number"] == nil {
		t.Fatalf("expected invoice number, got %v", invoice)
	}
	if invoice["payment_status"] != "pending" {
		t.Fatalf("expected pending status, got %v", invoice["payment_status"])
	}
}

func TestCreateInvoice_InsufficientStockReturnsDetail(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	// Seed item item-part-03 carries 8 units.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices", token, csrf, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin-01",
		Type:       "new_sale",
		DueDate:    time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
		Items: []domain.InvoiceLineRequest{
			{InventoryItemID: "item-part-03", Qty: 50},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	shortages, ok := body["stock_errors"].([]any)
	if !ok || len(shortages) != 1 {
		t.Fatalf("expected one stock_errors entry, got %v", body)
	}
	detail, ok := shortages[0].(map[string]any)
	if !ok {
		t.Fatalf("expected shortage object, got %v", shortages[0])
	}
	if detail["available"] != float64(8) || detail["required"] != float64(50) {
		t.Fatalf("unexpected shortage detail: %v", detail)
	}
}

func TestCreateInvoice_DuplicateLinesCountAgainstStock(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	// Seed item item-part-03 carries 8 units; each line alone fits, the
	// pair does not.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices", token, csrf, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin-01",
		Type:       "new_sale",
		DueDate:    time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
		Items: []domain.InvoiceLineRequest{
			{InventoryItemID: "item-part-03", Qty: 5},
			{InventoryItemID: "item-part-03", Qty: 5},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	shortages, ok := body["stock_errors"].([]any)
	if !ok || len(shortages) != 1 {
		t.Fatalf("expected one stock_errors entry, got %v", body)
	}
	detail := shortages[0].(map[string]any)
	if detail["available"] != float64(8) || detail["required"] != float64(10) {
		t.Fatalf("unexpected shortage detail: %v", detail)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/item-part-03", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get item failed: %d %s", rec.Code, rec.Body.String())
	}
	item := decodeBody(t, rec)["item"].(map[string]any)
	if item["quantity"] != float64(8) {
		t.Fatalf("expected stock untouched at 8, got %v", item["quantity"])
	}
}

func TestUpdateInvoiceRejectsAmountFields(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices", token, csrf, domain.InvoiceCreateRequest{
		CustomerID:    "cust-walkin-01",
		Type:          "service",
		SubtotalCents: 2000,
		DueDate:       time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invoice failed: %d %s", rec.Code, rec.Body.String())
	}
	invoiceID := decodeBody(t, rec)["invoice"].(map[string]any)["id"].(string)

	// Amounts are settled at creation; patching them is rejected outright.
	rec = doJSON(t, api, http.MethodPatch, "/api/v1/invoices/"+invoiceID, token, csrf, map[string]any{
		"subtotal_cents": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPaymentEndpointsDriveStatus(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	zeroTax := 0.0
	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices", token, csrf, domain.InvoiceCreateRequest{
		CustomerID:    "cust-walkin-01",
		Type:          "service",
		SubtotalCents: 1000,
		TaxRate:       &zeroTax,
		DueDate:       time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invoice failed: %d %s", rec.Code, rec.Body.String())
	}
	invoiceID := decodeBody(t, rec)["invoice"].(map[string]any)["id"].(string)

	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%s/payments", invoiceID), token, csrf, domain.PaymentRequest{
		AmountCents: 400,
		Method:      "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add payment failed: %d %s", rec.Code, rec.Body.String())
	}
	invoice := decodeBody(t, rec)["invoice"].(map[string]any)
	if invoice["payment_status"] != "partial" {
		t.Fatalf("expected partial after 400, got %v", invoice["payment_status"])
	}

	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%s/payments", invoiceID), token, csrf, domain.PaymentRequest{
		AmountCents: 600,
		Method:      "upi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("second payment failed: %d %s", rec.Code, rec.Body.String())
	}
	invoice = decodeBody(t, rec)["invoice"].(map[string]any)
	if invoice["payment_status"] != "paid" {
		t.Fatalf("expected paid after 1000, got %v", invoice["payment_status"])
	}
}

func TestDeleteInvoiceForbiddenForStaff(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/invoices", adminToken, csrf, domain.InvoiceCreateRequest{
		CustomerID: "cust-walkin-01",
		Type:       "new_sale",
		DueDate:    time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02"),
		Items: []domain.InvoiceLineRequest{
			{InventoryItemID: "item-part-01", Qty: 1},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invoice failed: %d %s", rec.Code, rec.Body.String())
	}
	invoiceID := decodeBody(t, rec)["invoice"].(map[string]any)["id"].(string)

	staffToken := loginAs(t, api, "staff", "staff123")
	rec = doJSON(t, api, http.MethodDelete, "/api/v1/invoices/"+invoiceID, staffToken, csrf, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/invoices/"+invoiceID, adminToken, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	staffToken := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", staffToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff audit access, got %d", rec.Code)
	}

	adminToken := loginAsAdmin(t, api)
	rec = doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin audit access, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDashboardMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/dashboard/metrics", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	metrics, ok := body["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("expected metrics object, got %v", body)
	}
	// Seed data carries one in_progress work order.
	if metrics["active_repairs"] != float64(1) {
		t.Fatalf("expected 1 active repair from seed, got %v", metrics["active_repairs"])
	}
}

func TestStaffManagementEndpoint(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/users/staff", adminToken, csrf, domain.StaffCreateRequest{
		Username: "newtailor",
		Password: "sewing123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff failed: %d %s", rec.Code, rec.Body.String())
	}

	if token := loginAs(t, api, "newtailor", "sewing123"); token == "" {
		t.Fatalf("expected new staff account to log in")
	}

	staffToken := loginAs(t, api, "staff", "staff123")
	rec = doJSON(t, api, http.MethodPost, "/api/v1/users/staff", staffToken, csrf, domain.StaffCreateRequest{
		Username: "sneaky",
		Password: "pass123",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff creating staff, got %d", rec.Code)
	}
}
