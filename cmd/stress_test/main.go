package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/sales-ledger/internal/adapter/idgen"
	"github.com/rl1809/sales-ledger/internal/adapter/storage"
	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
	"github.com/rl1809/sales-ledger/internal/port"
)

const (
	productA      = "stress-item-a"
	productB      = "stress-item-b"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	mysqlDSN := flag.String("mysql", "", "MySQL DSN; empty runs against the in-memory store")
	flag.Parse()

	ctx := context.Background()

	uow, reader, stock := setupStore(ctx, *mysqlDSN)
	svc := service.NewSaleService(uow, reader, idgen.NewUUIDGenerator())

	var successCount atomic.Int32
	var failCount atomic.Int32
	var otherErrors atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			// Alternate product order so lock ordering is exercised.
			items := []domain.LineItemRequest{
				{ProductID: productA, Quantity: 1, Price: "10"},
				{ProductID: productB, Quantity: 1, Price: "5"},
			}
			if n%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}

			_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
				RequestID:      uuid.NewString(),
				CustomerName:   fmt.Sprintf("customer-%d", n),
				Subtotal:       "15",
				TaxAmount:      "0",
				DiscountAmount: "0",
				Total:          "15",
				Items:          items,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				failCount.Add(1)
			default:
				otherErrors.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", fail)
	fmt.Printf("Other Errors:     %d\n", otherErrors.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d sales succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	for _, id := range []string{productA, productB} {
		finalStock := stock(id)
		if finalStock == 0 {
			fmt.Printf("PASS: %s depleted to 0\n", id)
		} else {
			fmt.Printf("FAIL: Expected %s stock 0, got %d\n", id, finalStock)
		}
	}
}

func setupStore(ctx context.Context, dsn string) (port.UnitOfWork, port.SaleReader, func(string) int) {
	if dsn == "" {
		store := storage.NewMemoryAdapter()
		store.PutProduct(domain.Product{ID: productA, Name: "Stress A", Stock: initialStock})
		store.PutProduct(domain.Product{ID: productB, Name: "Stress B", Stock: initialStock})
		return store, store, func(id string) int {
			p, err := store.FindProduct(ctx, id)
			if err != nil {
				log.Fatalf("read stock: %v", err)
			}
			return p.Stock
		}
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	if err := storage.EnsureSchema(ctx, db, storage.DialectMySQL); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	for _, id := range []string{productA, productB} {
		_, err := db.ExecContext(ctx, `
			INSERT INTO products (id, name, stock) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE stock = VALUES(stock)`, id, id, initialStock)
		if err != nil {
			log.Fatalf("failed to set stock: %v", err)
		}
	}

	adapter := storage.NewSQLAdapter(db, storage.DialectMySQL)
	return adapter, adapter, func(id string) int {
		p, err := adapter.FindProduct(ctx, id)
		if err != nil {
			log.Fatalf("read stock: %v", err)
		}
		return p.Stock
	}
}
