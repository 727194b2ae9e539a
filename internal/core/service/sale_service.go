package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

const idempotencyKeyPrefix = "sale:request:"

type SaleService struct {
	uow          port.UnitOfWork
	reader       port.SaleReader
	ledger       *StockLedger
	ids          port.IDGenerator
	idempotency  port.IdempotencyStore
	events       port.EventPublisher
	metrics      port.MetricsRecorder
	logger       *zap.Logger
	now          func() time.Time
	strictTotals bool
}

type Option func(*SaleService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *SaleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *SaleService) { s.idempotency = store }
}

func WithEvents(events port.EventPublisher) Option {
	return func(s *SaleService) { s.events = events }
}

func WithMetrics(metrics port.MetricsRecorder) Option {
	return func(s *SaleService) { s.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(s *SaleService) { s.now = now }
}

// WithStrictTotals rejects requests whose totals disagree with their line items.
func WithStrictTotals(strict bool) Option {
	return func(s *SaleService) { s.strictTotals = strict }
}

func NewSaleService(uow port.UnitOfWork, reader port.SaleReader, ids port.IDGenerator, opts ...Option) *SaleService {
	s := &SaleService{
		uow:    uow,
		reader: reader,
		ids:    ids,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = NewStockLedger(uow, s.logger)
	return s
}

// Ledger exposes the stock ledger sharing this service's unit of work.
func (s *SaleService) Ledger() *StockLedger {
	return s.ledger
}

// CreateSale validates req, reserves stock for every line item and persists
// the sale with its line items in a single unit of work. On error nothing is
// written and no stock changes.
func (s *SaleService) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "SaleService.CreateSale")
	defer span.End()

	start := time.Now()
	state := domain.SaleStateReceived
	logger := s.logger.With(zap.String("request_id", req.RequestID), zap.Int("items", len(req.Items)))

	sale, err := s.createSale(ctx, req, logger, &state)
	if err != nil {
		logger.Warn("sale aborted",
			zap.String("state", string(state)),
			zap.String("kind", domain.KindName(err)),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.KindName(err))
		if s.metrics != nil {
			s.metrics.SaleFailed(domain.KindName(err), string(state), time.Since(start))
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("sale.id", sale.ID))
	if s.metrics != nil {
		units := 0
		for _, item := range sale.Items {
			units += item.Quantity
		}
		s.metrics.SaleCreated(units, time.Since(start))
	}
	if s.events != nil {
		if err := s.events.PublishSaleCreated(ctx, sale); err != nil {
			logger.Error("failed to publish sale created event", zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}
	logger.Info("sale created", zap.String("sale_id", sale.ID), zap.String("total", sale.Total.String()))
	return sale, nil
}

func (s *SaleService) createSale(ctx context.Context, req domain.CreateSaleRequest, logger *zap.Logger, state *domain.SaleState) (*domain.Sale, error) {
	transition := func(next domain.SaleState) {
		logger.Debug("sale state", zap.String("from", string(*state)), zap.String("to", string(next)))
		*state = next
	}

	transition(domain.SaleStateValidating)
	draft, err := req.Validate(s.strictTotals)
	if err != nil {
		return nil, err
	}

	if s.idempotency != nil && req.RequestID != "" {
		key := idempotencyKeyPrefix + req.RequestID
		ok, err := s.idempotency.Claim(ctx, key)
		if err != nil {
			return nil, domain.PersistenceFailure("idempotency check", err)
		}
		if !ok {
			return nil, &domain.SaleError{Kind: domain.ErrDuplicateRequest, Message: fmt.Sprintf("request %q was already submitted", req.RequestID)}
		}
		defer func() {
			if *state == domain.SaleStateCommitted {
				return
			}
			// The caller may still be gone; release with a fresh context.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := s.idempotency.Release(releaseCtx, key); err != nil {
				logger.Error("failed to release idempotency key", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	var sale *domain.Sale
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		transition(domain.SaleStateReserving)
		if _, err := s.ledger.ReserveStockTx(ctx, tx, req.StockRequests()); err != nil {
			return annotateLine(err, draft.Items)
		}

		transition(domain.SaleStatePersisting)
		id, err := s.ids.NewID()
		if err != nil {
			return domain.PersistenceFailure("generate sale id", err)
		}
		now := s.now().UTC()
		sale = draft
		sale.ID = id
		sale.CreatedAt = now
		sale.UpdatedAt = now
		sale.PublishedAt = now
		for i := range sale.Items {
			sale.Items[i].SaleID = id
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			if errors.Is(err, port.ErrDuplicateSaleID) {
				return domain.PersistenceFailure(fmt.Sprintf("sale id %q collided, retry with a new id", id), err)
			}
			return domain.PersistenceFailure("insert sale", err)
		}
		if err := tx.InsertLineItems(ctx, id, sale.Items); err != nil {
			return domain.PersistenceFailure("insert line items", err)
		}
		return nil
	})
	if err != nil {
		*state = domain.SaleStateAborted
		if _, ok := domain.AsSaleError(err); ok {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.PersistenceFailure("sale transaction abandoned", errors.Join(ctxErr, err))
		}
		return nil, domain.PersistenceFailure("commit sale", err)
	}

	transition(domain.SaleStateCommitted)
	return sale, nil
}

// GetSale returns a committed sale with its line items.
func (s *SaleService) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.reader.FindSale(ctx, saleID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, &domain.SaleError{Kind: domain.ErrSaleNotFound, Message: fmt.Sprintf("sale %q does not exist", saleID)}
	}
	if err != nil {
		return nil, domain.PersistenceFailure("find sale", err)
	}
	return sale, nil
}

// GetProduct returns the committed stock of a product.
func (s *SaleService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	product, err := s.reader.FindProduct(ctx, productID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.ProductNotFound(productID)
	}
	if err != nil {
		return nil, domain.PersistenceFailure("find product", err)
	}
	return product, nil
}

// annotateLine points a product-level ledger error at the first line item
// referencing that product.
func annotateLine(err error, items []domain.SaleLineItem) error {
	se, ok := domain.AsSaleError(err)
	if !ok || se.ProductID == "" || se.Line != 0 {
		return err
	}
	for _, item := range items {
		if item.ProductID == se.ProductID {
			se.Line = item.Position
			break
		}
	}
	return err
}
