package storage

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/sales?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := EnsureSchema(context.Background(), db, DialectMySQL); err != nil {
		t.Fatalf("schema setup failed: %v", err)
	}
	return db
}

func seedMySQLProduct(t *testing.T, db *sql.DB, id string, stock int) {
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO products (id, name, stock) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE stock = VALUES(stock)`, id, "test "+id, stock)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func mysqlStock(t *testing.T, db *sql.DB, id string) int {
	var stock int
	if err := db.QueryRowContext(context.Background(), `SELECT stock FROM products WHERE id = ?`, id).Scan(&stock); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return stock
}

func TestMySQL_SaleCommit(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewSQLAdapter(db, DialectMySQL)
	seedMySQLProduct(t, db, "test-item", 100)

	saleID := "test-sale-" + time.Now().Format("20060102150405.000000")
	now := time.Now().UTC().Truncate(time.Microsecond)
	sale := &domain.Sale{
		ID:          saleID,
		Subtotal:    decimal.RequireFromString("9.99"),
		TaxAmount:   decimal.Zero,
		Total:       decimal.RequireFromString("9.99"),
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: now,
		Items: []domain.SaleLineItem{
			{Position: 1, ProductID: "test-item", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")},
		},
	}
	defer db.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, saleID)

	err := adapter.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.FindProductForUpdate(ctx, "test-item"); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, "test-item", 1); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		return tx.InsertLineItems(ctx, saleID, sale.Items)
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	if stock := mysqlStock(t, db, "test-item"); stock != 99 {
		t.Errorf("expected stock 99, got %d", stock)
	}

	stored, err := adapter.FindSale(ctx, saleID)
	if err != nil {
		t.Fatalf("FindSale failed: %v", err)
	}
	if len(stored.Items) != 1 || !stored.Items[0].UnitPrice.Equal(sale.Items[0].UnitPrice) {
		t.Errorf("unexpected line items: %+v", stored.Items)
	}
}

func TestMySQL_InsufficientStockLeavesNoRows(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewSQLAdapter(db, DialectMySQL)
	seedMySQLProduct(t, db, "empty-item", 0)

	err := adapter.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.DecrementStock(ctx, "empty-item", 1)
	})
	if err != port.ErrStockConflict {
		t.Errorf("expected ErrStockConflict, got: %v", err)
	}
	if stock := mysqlStock(t, db, "empty-item"); stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}
}

func TestMySQL_ConcurrentDecrementsNeverOversell(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewSQLAdapter(db, DialectMySQL)
	initialStock := 20
	totalRequests := 50
	seedMySQLProduct(t, db, "concurrent-item", initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
				p, err := tx.FindProductForUpdate(ctx, "concurrent-item")
				if err != nil {
					return err
				}
				if p.Stock < 1 {
					return port.ErrStockConflict
				}
				return tx.DecrementStock(ctx, "concurrent-item", 1)
			})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if stock := mysqlStock(t, db, "concurrent-item"); stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}
}
