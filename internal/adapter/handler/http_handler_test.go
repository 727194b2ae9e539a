package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/sales-ledger/internal/adapter/idgen"
	"github.com/rl1809/sales-ledger/internal/adapter/storage"
	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
	"github.com/rl1809/sales-ledger/internal/port"
)

func setupRouter(t *testing.T) (*gin.Engine, *storage.MemoryAdapter) {
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryAdapter()
	store.PutProduct(domain.Product{ID: "P1", Name: "Espresso", Stock: 10})
	store.PutProduct(domain.Product{ID: "P2", Name: "Croissant", Stock: 1})

	logger := zaptest.NewLogger(t)
	svc := service.NewSaleService(store, store, idgen.NewUUIDGenerator(), service.WithLogger(logger))

	r := gin.New()
	NewHTTPHandler(svc, logger).Register(r)
	return r, store
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type saleEnvelope struct {
	Data domain.Sale `json:"data"`
	Meta Meta        `json:"meta"`
}

func TestCreateSale_Envelope(t *testing.T) {
	r, store := setupRouter(t)

	w := doRequest(r, http.MethodPost, "/api/sales", `{"data": {
		"customer_name": "Grace",
		"invoice_number": "INV-7",
		"date": "2026-02-03",
		"subtotal": "7.50", "tax_amount": 0.75, "discount_amount": "0", "total": "8.25",
		"items": [{"product": "P1", "quantity": 3, "price": 2.50}]
	}}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp saleEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Meta.Success)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, "Grace", resp.Data.CustomerName)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "P1", resp.Data.Items[0].ProductID)
	assert.Equal(t, "8.25", resp.Data.Total.String())

	p, _ := store.FindProduct(context.Background(), "P1")
	assert.Equal(t, 7, p.Stock)
}

func TestCreateSale_BareObject(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodPost, "/api/sales", `{
		"subtotal": "2.5", "tax_amount": "0", "discount_amount": "0", "total": "2.5",
		"items": [{"product_id": "P1", "quantity": 1, "price": "2.5"}]
	}`)

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateSale_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKind   string
		check      func(t *testing.T, body ErrorBody)
	}{
		{
			name:       "malformed json",
			body:       `{"data": `,
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_request",
		},
		{
			name:       "no items",
			body:       `{"data": {"subtotal": "0", "tax_amount": "0", "discount_amount": "0", "total": "0", "items": []}}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_request",
		},
		{
			name:       "unknown product",
			body:       `{"data": {"subtotal": "1", "tax_amount": "0", "discount_amount": "0", "total": "1", "items": [{"product_id": "P1", "quantity": 1, "price": "1"}, {"product_id": "nope", "quantity": 1, "price": "1"}]}}`,
			wantStatus: http.StatusNotFound,
			wantKind:   "product_not_found",
			check: func(t *testing.T, body ErrorBody) {
				assert.Equal(t, "nope", body.ProductID)
				assert.Equal(t, 2, body.Line)
			},
		},
		{
			name:       "insufficient stock",
			body:       `{"data": {"subtotal": "2", "tax_amount": "0", "discount_amount": "0", "total": "2", "items": [{"product_id": "P2", "quantity": 2, "price": "1"}]}}`,
			wantStatus: http.StatusConflict,
			wantKind:   "insufficient_stock",
			check: func(t *testing.T, body ErrorBody) {
				assert.Equal(t, "P2", body.ProductID)
				require.NotNil(t, body.Available)
				require.NotNil(t, body.Requested)
				assert.Equal(t, 1, *body.Available)
				assert.Equal(t, 2, *body.Requested)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setupRouter(t)

			w := doRequest(r, http.MethodPost, "/api/sales", tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.Error.Kind)
			assert.NotEmpty(t, resp.Error.Message)
			if tt.check != nil {
				tt.check(t, resp.Error)
			}
		})
	}
}

// holdProductLock keeps productID locked in the store until the test ends.
func holdProductLock(t *testing.T, store *storage.MemoryAdapter, productID string) {
	t.Helper()
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			_, _ = tx.FindProductForUpdate(ctx, productID)
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	t.Cleanup(func() {
		close(release)
		<-done
	})
}

func TestCreateSale_RequestTimeoutOnHeldLock(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := storage.NewMemoryAdapter()
	store.PutProduct(domain.Product{ID: "P1", Name: "Espresso", Stock: 10})
	logger := zaptest.NewLogger(t)
	svc := service.NewSaleService(store, store, idgen.NewUUIDGenerator(), service.WithLogger(logger))
	r := gin.New()
	NewHTTPHandler(svc, logger, WithRequestTimeout(30*time.Millisecond)).Register(r)

	holdProductLock(t, store, "P1")

	start := time.Now()
	w := doRequest(r, http.MethodPost, "/api/sales", `{"subtotal": "1", "tax_amount": "0", "discount_amount": "0", "total": "1", "items": [{"product_id": "P1", "quantity": 1, "price": "1"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Less(t, time.Since(start), 5*time.Second)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "persistence_failure", resp.Error.Kind)
	assert.Zero(t, store.CountSales())
}

func TestCreateSale_OversizedBody(t *testing.T) {
	r, store := setupRouter(t)

	body := `{"notes": "` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := doRequest(r, http.MethodPost, "/api/sales", body)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error.Kind)
	assert.Contains(t, resp.Error.Message, "exceeds")
	assert.Zero(t, store.CountSales())
}

func TestGetSale(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodPost, "/api/sales", `{"data": {"subtotal": "1", "tax_amount": "0", "discount_amount": "0", "total": "1", "items": [{"product_id": "P1", "quantity": 1, "price": "1"}]}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created saleEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(r, http.MethodGet, "/api/sales/"+created.Data.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var fetched saleEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, created.Data.ID, fetched.Data.ID)
	assert.Len(t, fetched.Data.Items, 1)

	w = doRequest(r, http.MethodGet, "/api/sales/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProduct(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/api/products/P1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data domain.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Espresso", resp.Data.Name)
	assert.Equal(t, 10, resp.Data.Stock)

	w = doRequest(r, http.MethodGet, "/api/products/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(&domain.SaleError{Kind: domain.ErrDuplicateRequest}))
	assert.Equal(t, http.StatusConflict, HTTPStatus(domain.ConcurrencyConflict("P", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(domain.PersistenceFailure("insert sale", assert.AnError)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(domain.PersistenceFailure("abandoned", context.Canceled)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(assert.AnError))
}
