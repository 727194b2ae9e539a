package messaging

import (
	"context"
	"errors"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

// Fanout publishes to every configured publisher and joins their errors.
type Fanout []port.EventPublisher

func (f Fanout) PublishSaleCreated(ctx context.Context, sale *domain.Sale) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishSaleCreated(ctx, sale); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
