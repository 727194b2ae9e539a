package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	saleService *service.SaleService
	logger      *zap.Logger
	opts        options
}

type LineItemHTTPRequest struct {
	ProductID string      `json:"product_id"`
	Product   string      `json:"product"`
	Quantity  int         `json:"quantity"`
	Price     json.Number `json:"price"`
}

type CreateSaleHTTPRequest struct {
	RequestID      string                `json:"request_id"`
	CustomerName   string                `json:"customer_name"`
	CustomerEmail  string                `json:"customer_email"`
	CustomerPhone  string                `json:"customer_phone"`
	InvoiceNumber  string                `json:"invoice_number"`
	Date           string                `json:"date"`
	Notes          string                `json:"notes"`
	Subtotal       json.Number           `json:"subtotal"`
	TaxAmount      json.Number           `json:"tax_amount"`
	DiscountAmount json.Number           `json:"discount_amount"`
	Total          json.Number           `json:"total"`
	Items          []LineItemHTTPRequest `json:"items"`
}

type ErrorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	ProductID string `json:"product_id,omitempty"`
	Line      int    `json:"line,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type Meta struct {
	Success bool `json:"success"`
}

type DataResponse struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

func NewHTTPHandler(saleService *service.SaleService, logger *zap.Logger, opts ...Option) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{saleService: saleService, logger: logger, opts: newOptions(opts)}
}

// Register mounts the sales routes on r.
func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	api := r.Group("/api")
	api.POST("/sales", h.CreateSale)
	api.GET("/sales/:id", h.GetSale)
	api.GET("/products/:id", h.GetProduct)
}

func (h *HTTPHandler) CreateSale(c *gin.Context) {
	req, err := decodeCreateSale(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: ErrorBody{
			Kind:    "invalid_request",
			Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		}})
		return
	}
	if err != nil {
		h.logger.Warn("failed to decode sale request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Kind:    "invalid_request",
			Message: "invalid request body",
		}})
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" && req.RequestID == "" {
		req.RequestID = key
	}

	ctx, cancel := h.opts.withTimeout(c.Request.Context())
	defer cancel()

	sale, err := h.saleService.CreateSale(ctx, req.toDomain())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DataResponse{Data: sale, Meta: Meta{Success: true}})
}

func (h *HTTPHandler) GetSale(c *gin.Context) {
	ctx, cancel := h.opts.withTimeout(c.Request.Context())
	defer cancel()

	sale, err := h.saleService.GetSale(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: sale, Meta: Meta{Success: true}})
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	ctx, cancel := h.opts.withTimeout(c.Request.Context())
	defer cancel()

	product, err := h.saleService.GetProduct(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: product, Meta: Meta{Success: true}})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("sale request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: errorBody(err)})
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrInvalidRequest:
		return http.StatusBadRequest
	case domain.ErrProductNotFound, domain.ErrSaleNotFound:
		return http.StatusNotFound
	case domain.ErrInsufficientStock, domain.ErrDuplicateRequest, domain.ErrConcurrencyConflict:
		return http.StatusConflict
	case domain.ErrPersistence:
		if isCanceled(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Kind: domain.KindName(err), Message: err.Error()}
	se, ok := domain.AsSaleError(err)
	if !ok {
		body.Message = "internal error"
		return body
	}
	if se.Kind == domain.ErrPersistence {
		// Storage causes are logged, not returned.
		body.Message = se.Kind.Error() + ": " + se.Message
	}
	body.ProductID = se.ProductID
	body.Line = se.Line
	if se.Kind == domain.ErrInsufficientStock {
		available, requested := se.Available, se.Requested
		body.Available = &available
		body.Requested = &requested
	}
	return body
}

// decodeCreateSale accepts both {"data": {...}} and a bare sale object.
func decodeCreateSale(body io.Reader) (CreateSaleHTTPRequest, error) {
	var req CreateSaleHTTPRequest
	raw, err := io.ReadAll(body)
	if err != nil {
		return req, err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return req, err
	}
	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		raw = envelope.Data
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (r CreateSaleHTTPRequest) toDomain() domain.CreateSaleRequest {
	items := make([]domain.LineItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		productID := item.ProductID
		if productID == "" {
			productID = item.Product
		}
		items = append(items, domain.LineItemRequest{
			ProductID: productID,
			Quantity:  item.Quantity,
			Price:     item.Price.String(),
		})
	}
	return domain.CreateSaleRequest{
		RequestID:      r.RequestID,
		CustomerName:   r.CustomerName,
		CustomerEmail:  r.CustomerEmail,
		CustomerPhone:  r.CustomerPhone,
		InvoiceNumber:  r.InvoiceNumber,
		Date:           r.Date,
		Notes:          r.Notes,
		Subtotal:       r.Subtotal.String(),
		TaxAmount:      r.TaxAmount.String(),
		DiscountAmount: r.DiscountAmount.String(),
		Total:          r.Total.String(),
		Items:          items,
	}
}
