package messaging

import (
	"time"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

const (
	SalesExchange           = "sales_exchange"
	SaleCreatedRoutingKey   = "sale.created"
	SaleCreatedEventType    = "sale.created"
	DefaultSaleCreatedTopic = "sales.sale-created"
)

type SaleCreatedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// SaleCreatedEvent is the message body published after a sale commits.
type SaleCreatedEvent struct {
	Type       string            `json:"type"`
	SaleID     string            `json:"sale_id"`
	Invoice    string            `json:"invoice_number,omitempty"`
	Total      string            `json:"total"`
	Items      []SaleCreatedItem `json:"items"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func NewSaleCreatedEvent(sale *domain.Sale) SaleCreatedEvent {
	items := make([]SaleCreatedItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, SaleCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	return SaleCreatedEvent{
		Type:       SaleCreatedEventType,
		SaleID:     sale.ID,
		Invoice:    sale.InvoiceNumber,
		Total:      sale.Total.String(),
		Items:      items,
		OccurredAt: sale.CreatedAt,
	}
}
