package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/sales-ledger/internal/core/service")

// StockLedger reserves stock for a batch of products with all-or-nothing
// semantics. Product rows are locked in ascending ID order so that two
// batches over overlapping products can never deadlock.
type StockLedger struct {
	uow    port.UnitOfWork
	logger *zap.Logger
}

func NewStockLedger(uow port.UnitOfWork, logger *zap.Logger) *StockLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockLedger{uow: uow, logger: logger}
}

// ReserveStock reserves items in its own unit of work.
func (l *StockLedger) ReserveStock(ctx context.Context, items []domain.StockRequest) ([]domain.StockLevel, error) {
	var levels []domain.StockLevel
	err := l.uow.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		levels, err = l.ReserveStockTx(ctx, tx, items)
		return err
	})
	if err != nil {
		if _, ok := domain.AsSaleError(err); ok {
			return nil, err
		}
		return nil, domain.PersistenceFailure("reserve stock", err)
	}
	return levels, nil
}

// ReserveStockTx reserves items inside the caller's unit of work. Nothing is
// decremented unless every product exists and has enough stock.
func (l *StockLedger) ReserveStockTx(ctx context.Context, tx port.ProductStore, items []domain.StockRequest) ([]domain.StockLevel, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.Reserve")
	defer span.End()

	requested, err := aggregate(items)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	span.SetAttributes(attribute.Int("ledger.products", len(ids)))

	locked := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		product, err := tx.FindProductForUpdate(ctx, id)
		if errors.Is(err, port.ErrNotFound) {
			return nil, domain.ProductNotFound(id)
		}
		if err != nil {
			return nil, domain.PersistenceFailure(fmt.Sprintf("lock product %q", id), err)
		}
		if product.Stock < requested[id] {
			se := domain.InsufficientStock(id, product.Stock, requested[id])
			if product.Name != "" {
				se.Message = fmt.Sprintf("product %q (%s) has %d available, %d requested", id, product.Name, product.Stock, requested[id])
			}
			return nil, se
		}
		locked = append(locked, product)
	}

	levels := make([]domain.StockLevel, 0, len(locked))
	for _, product := range locked {
		qty := requested[product.ID]
		if err := tx.DecrementStock(ctx, product.ID, qty); err != nil {
			if errors.Is(err, port.ErrStockConflict) {
				return nil, domain.ConcurrencyConflict(product.ID, err)
			}
			return nil, domain.PersistenceFailure(fmt.Sprintf("decrement stock of %q", product.ID), err)
		}
		levels = append(levels, domain.StockLevel{ProductID: product.ID, Stock: product.Stock - qty})
	}

	l.logger.Debug("stock reserved", zap.Int("products", len(levels)), zap.Any("levels", levels))
	return levels, nil
}

// aggregate sums quantities per product.
func aggregate(items []domain.StockRequest) (map[string]int, error) {
	if len(items) == 0 {
		return nil, domain.InvalidRequest("reservation needs at least one item")
	}
	requested := make(map[string]int, len(items))
	for i, item := range items {
		if item.ProductID == "" {
			se := domain.InvalidRequest("product reference is required")
			se.Line = i + 1
			return nil, se
		}
		if item.Quantity <= 0 {
			se := domain.InvalidRequest("quantity must be a positive integer, got %d", item.Quantity)
			se.Line = i + 1
			se.ProductID = item.ProductID
			return nil, se
		}
		if item.Quantity > math.MaxInt-requested[item.ProductID] {
			se := domain.InvalidRequest("total quantity of product %q is too large", item.ProductID)
			se.Line = i + 1
			se.ProductID = item.ProductID
			return nil, se
		}
		requested[item.ProductID] += item.Quantity
	}
	return requested, nil
}
