package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

func TestMemoryAdapter_CommitAppliesStagedWrites(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Name: "Widget", Stock: 5})

	sale := &domain.Sale{ID: "s1", Total: decimal.RequireFromString("4")}
	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		p, err := tx.FindProductForUpdate(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 5, p.Stock)

		require.NoError(t, tx.DecrementStock(ctx, "p1", 2))

		// Staged decrement is visible inside the transaction only.
		p, err = tx.FindProductForUpdate(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 3, p.Stock)
		committed, _ := m.FindProduct(ctx, "p1")
		assert.Equal(t, 5, committed.Stock)

		require.NoError(t, tx.InsertSale(ctx, sale))
		return tx.InsertLineItems(ctx, "s1", []domain.SaleLineItem{
			{Position: 2, ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("2")},
			{Position: 1, ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("2")},
		})
	})
	require.NoError(t, err)

	p, err := m.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	stored, err := m.FindSale(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, 1, stored.Items[0].Position)
	assert.Equal(t, "s1", stored.Items[0].SaleID)
}

func TestMemoryAdapter_ErrorDiscardsEverything(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 5})
	boom := errors.New("boom")

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		_, _ = tx.FindProductForUpdate(ctx, "p1")
		require.NoError(t, tx.DecrementStock(ctx, "p1", 5))
		require.NoError(t, tx.InsertSale(ctx, &domain.Sale{ID: "s1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, _ := m.FindProduct(context.Background(), "p1")
	assert.Equal(t, 5, p.Stock)
	assert.Zero(t, m.CountSales())
	_, err = m.FindSale(context.Background(), "s1")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestMemoryAdapter_DecrementRequiresLock(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 5})

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.DecrementStock(ctx, "p1", 1)
	})
	assert.ErrorContains(t, err, "not locked")
}

func TestMemoryAdapter_DecrementBeyondStockConflicts(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 1})

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.FindProductForUpdate(ctx, "p1"); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, "p1", 2)
	})
	assert.ErrorIs(t, err, port.ErrStockConflict)
}

func TestMemoryAdapter_DecrementRejectsNonPositiveAmount(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 10})

	for _, amount := range []int{0, -2} {
		err := m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			if _, err := tx.FindProductForUpdate(ctx, "p1"); err != nil {
				return err
			}
			return tx.DecrementStock(ctx, "p1", amount)
		})
		assert.ErrorContains(t, err, "amount must be positive")
	}

	p, err := m.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func TestMemoryAdapter_DuplicateSaleID(t *testing.T) {
	m := NewMemoryAdapter()
	insert := func() error {
		return m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			return tx.InsertSale(ctx, &domain.Sale{ID: "same"})
		})
	}

	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), port.ErrDuplicateSaleID)
	assert.Equal(t, 1, m.CountSales())
}

func TestMemoryAdapter_LockWaitHonoursContext(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 5})

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			_, _ = tx.FindProductForUpdate(ctx, "p1")
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		_, err := tx.FindProductForUpdate(ctx, "p1")
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryAdapter_CancelledBeforeCommitRollsBack(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 5})

	ctx, cancel := context.WithCancel(context.Background())
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.FindProductForUpdate(ctx, "p1"); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, "p1", 3); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	p, _ := m.FindProduct(context.Background(), "p1")
	assert.Equal(t, 5, p.Stock)
}

func TestMemoryAdapter_PanicReleasesLocks(t *testing.T) {
	m := NewMemoryAdapter()
	m.PutProduct(domain.Product{ID: "p1", Stock: 5})

	assert.Panics(t, func() {
		_ = m.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			_, _ = tx.FindProductForUpdate(ctx, "p1")
			panic("boom")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		_, err := tx.FindProductForUpdate(ctx, "p1")
		return err
	})
	assert.NoError(t, err)
}
