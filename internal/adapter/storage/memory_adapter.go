package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

// MemoryAdapter is an in-process store with the same transactional
// guarantees as the SQL adapter: per-product locks held until the unit of
// work ends, and staged writes that become visible only on commit.
type MemoryAdapter struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	sales    map[string]domain.Sale

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		products: make(map[string]domain.Product),
		sales:    make(map[string]domain.Sale),
		locks:    make(map[string]chan struct{}),
		now:      time.Now,
	}
}

// PutProduct creates or replaces a product. Stock changes made this way
// bypass the ledger and are meant for seeding.
func (m *MemoryAdapter) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now().UTC()
	}
	m.products[p.ID] = p
}

func (m *MemoryAdapter) CountSales() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sales)
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:      m,
		held:       make(map[string]chan struct{}),
		decrements: make(map[string]int),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryAdapter) FindSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sale, ok := m.sales[saleID]
	if !ok {
		return nil, port.ErrNotFound
	}
	sale.Items = append([]domain.SaleLineItem(nil), sale.Items...)
	return &sale, nil
}

func (m *MemoryAdapter) FindProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryAdapter) lockFor(productID string) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.locks[productID]
	if !ok {
		l = make(chan struct{}, 1)
		m.locks[productID] = l
	}
	return l
}

type memoryTx struct {
	store      *MemoryAdapter
	held       map[string]chan struct{}
	decrements map[string]int
	sales      []*domain.Sale
}

func (t *memoryTx) FindProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	if _, ok := t.held[productID]; !ok {
		l := t.store.lockFor(productID)
		select {
		case l <- struct{}{}:
			t.held[productID] = l
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.store.mu.RLock()
	p, ok := t.store.products[productID]
	t.store.mu.RUnlock()
	if !ok {
		return nil, port.ErrNotFound
	}
	p.Stock -= t.decrements[productID]
	return &p, nil
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("decrement %q: amount must be positive, got %d", productID, amount)
	}
	if _, ok := t.held[productID]; !ok {
		return fmt.Errorf("decrement %q: product is not locked in this transaction", productID)
	}

	t.store.mu.RLock()
	p, ok := t.store.products[productID]
	t.store.mu.RUnlock()
	if !ok || p.Stock-t.decrements[productID] < amount {
		return port.ErrStockConflict
	}
	t.decrements[productID] += amount
	return nil
}

func (t *memoryTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	if sale.ID == "" {
		return fmt.Errorf("insert sale: empty sale id")
	}
	t.store.mu.RLock()
	_, exists := t.store.sales[sale.ID]
	t.store.mu.RUnlock()
	if exists || t.staged(sale.ID) != nil {
		return port.ErrDuplicateSaleID
	}

	staged := *sale
	staged.Items = nil
	t.sales = append(t.sales, &staged)
	return nil
}

func (t *memoryTx) InsertLineItems(ctx context.Context, saleID string, items []domain.SaleLineItem) error {
	sale := t.staged(saleID)
	if sale == nil {
		return fmt.Errorf("insert line items: sale %q not inserted in this transaction", saleID)
	}
	for _, item := range items {
		item.SaleID = saleID
		sale.Items = append(sale.Items, item)
	}
	sort.SliceStable(sale.Items, func(i, j int) bool { return sale.Items[i].Position < sale.Items[j].Position })
	return nil
}

func (t *memoryTx) staged(saleID string) *domain.Sale {
	for _, s := range t.sales {
		if s.ID == saleID {
			return s
		}
	}
	return nil
}

func (t *memoryTx) commit() error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sale := range t.sales {
		if _, exists := m.sales[sale.ID]; exists {
			return port.ErrDuplicateSaleID
		}
	}
	for id, amount := range t.decrements {
		if m.products[id].Stock < amount {
			return port.ErrStockConflict
		}
	}

	now := m.now().UTC()
	for id, amount := range t.decrements {
		p := m.products[id]
		p.Stock -= amount
		p.UpdatedAt = now
		m.products[id] = p
	}
	for _, sale := range t.sales {
		m.sales[sale.ID] = *sale
	}
	return nil
}

func (t *memoryTx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}
