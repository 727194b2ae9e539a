package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateSaleRequest is the transport-agnostic input of a sale. Monetary
// values are kept as decimal strings until validation.
type CreateSaleRequest struct {
	RequestID      string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	InvoiceNumber  string
	Date           string
	Notes          string
	Subtotal       string
	TaxAmount      string
	DiscountAmount string
	Total          string
	Items          []LineItemRequest
}

type LineItemRequest struct {
	ProductID string
	Quantity  int
	Price     string
}

// Validate checks the request without touching storage and returns a sale
// draft with parsed amounts. The draft has no ID and no timestamps. When
// strictTotals is set the totals must agree with the line items.
func (r CreateSaleRequest) Validate(strictTotals bool) (*Sale, error) {
	if len(r.Items) == 0 {
		return nil, InvalidRequest("at least one line item is required")
	}

	draft := &Sale{
		CustomerName:  strings.TrimSpace(r.CustomerName),
		CustomerEmail: strings.TrimSpace(r.CustomerEmail),
		CustomerPhone: strings.TrimSpace(r.CustomerPhone),
		InvoiceNumber: strings.TrimSpace(r.InvoiceNumber),
		Notes:         r.Notes,
		Items:         make([]SaleLineItem, 0, len(r.Items)),
	}

	var err error
	if draft.Subtotal, err = parseAmount("subtotal", r.Subtotal); err != nil {
		return nil, err
	}
	if draft.TaxAmount, err = parseAmount("tax_amount", r.TaxAmount); err != nil {
		return nil, err
	}
	if draft.DiscountAmount, err = parseAmount("discount_amount", r.DiscountAmount); err != nil {
		return nil, err
	}
	if draft.Total, err = parseAmount("total", r.Total); err != nil {
		return nil, err
	}

	if r.Date != "" {
		date, err := parseDate(r.Date)
		if err != nil {
			return nil, err
		}
		draft.Date = &date
	}

	for i, item := range r.Items {
		line := i + 1
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, lineError(line, "", "product reference is required")
		}
		if item.Quantity <= 0 {
			return nil, lineError(line, productID, "quantity must be a positive integer, got %d", item.Quantity)
		}
		price, err := parseAmount("price", item.Price)
		if err != nil {
			if se, ok := AsSaleError(err); ok {
				se.Line = line
				se.ProductID = productID
			}
			return nil, err
		}
		draft.Items = append(draft.Items, SaleLineItem{
			Position:  line,
			ProductID: productID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	if strictTotals {
		if sum := draft.ItemsTotal(); !sum.Equal(draft.Subtotal) {
			return nil, InvalidRequest("subtotal %s does not match line items total %s", draft.Subtotal, sum)
		}
		expected := draft.Subtotal.Add(draft.TaxAmount).Sub(draft.DiscountAmount)
		if !expected.Equal(draft.Total) {
			return nil, InvalidRequest("total %s does not equal subtotal + tax - discount (%s)", draft.Total, expected)
		}
	}

	return draft, nil
}

// StockRequests lists one request per line item, in line order.
func (r CreateSaleRequest) StockRequests() []StockRequest {
	out := make([]StockRequest, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, StockRequest{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}
	return out
}

// Amounts are stored as DECIMAL(20,4).
const amountScale = 4

var maxAmount = decimal.New(1, 16)

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, InvalidRequest("%s is required", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, InvalidRequest("%s %q is not a valid decimal", field, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, InvalidRequest("%s must not be negative, got %s", field, d)
	}
	if !d.Equal(d.Truncate(amountScale)) {
		return decimal.Zero, InvalidRequest("%s %s has more than %d decimal places", field, raw, amountScale)
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, InvalidRequest("%s %s exceeds the maximum of %s", field, raw, maxAmount.Sub(decimal.New(1, -amountScale)))
	}
	return d, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, InvalidRequest("date %q must be RFC 3339 or YYYY-MM-DD", raw)
}

func lineError(line int, productID, format string, args ...any) *SaleError {
	se := InvalidRequest(format, args...)
	se.Line = line
	se.ProductID = productID
	return se
}
