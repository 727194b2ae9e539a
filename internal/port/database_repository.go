package port

import (
	"context"
	"errors"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSaleID is returned by InsertSale when the sale ID is taken.
	ErrDuplicateSaleID = errors.New("duplicate sale id")

	// ErrStockConflict is returned by DecrementStock when the conditional
	// update matched no row.
	ErrStockConflict = errors.New("stock conflict")
)

// UnitOfWork runs fn inside one storage transaction. The transaction commits
// only if fn returns nil; any error, panic or cancelled ctx rolls it back.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of stores usable inside a unit of work.
type Tx interface {
	ProductStore
	SaleStore
}

type ProductStore interface {
	// FindProductForUpdate loads a product and holds its row lock until the
	// unit of work ends. Returns ErrNotFound when the product does not exist.
	FindProductForUpdate(ctx context.Context, productID string) (*domain.Product, error)

	// DecrementStock takes amount units from the product only if at least
	// amount units are in stock, otherwise ErrStockConflict.
	DecrementStock(ctx context.Context, productID string, amount int) error
}

type SaleStore interface {
	InsertSale(ctx context.Context, sale *domain.Sale) error
	InsertLineItems(ctx context.Context, saleID string, items []domain.SaleLineItem) error
}

// SaleReader reads committed state outside any unit of work.
type SaleReader interface {
	FindSale(ctx context.Context, saleID string) (*domain.Sale, error)
	FindProduct(ctx context.Context, productID string) (*domain.Product, error)
}
