package port

import (
	"context"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

// EventPublisher announces committed sales. It is called after commit, so a
// failure never undoes the sale.
type EventPublisher interface {
	PublishSaleCreated(ctx context.Context, sale *domain.Sale) error
}
