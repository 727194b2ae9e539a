package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleState string

const (
	SaleStateReceived   SaleState = "received"
	SaleStateValidating SaleState = "validating"
	SaleStateReserving  SaleState = "reserving"
	SaleStatePersisting SaleState = "persisting"
	SaleStateCommitted  SaleState = "committed"
	SaleStateAborted    SaleState = "aborted"
)

type Sale struct {
	ID             string          `json:"id"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CustomerEmail  string          `json:"customer_email,omitempty"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	Date           *time.Time      `json:"date,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	Items          []SaleLineItem  `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	PublishedAt    time.Time       `json:"published_at"`
}

// SaleLineItem is owned by exactly one sale. UnitPrice is the price at the
// time of sale, not the product's current price.
type SaleLineItem struct {
	SaleID    string          `json:"sale_id"`
	Position  int             `json:"position"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Amount returns Quantity × UnitPrice.
func (i SaleLineItem) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the amounts of all line items.
func (s *Sale) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Amount())
	}
	return total
}
