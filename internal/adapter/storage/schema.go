package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		stock INT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT chk_products_stock CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		customer_name VARCHAR(255) NULL,
		customer_email VARCHAR(255) NULL,
		customer_phone VARCHAR(64) NULL,
		invoice_number VARCHAR(128) NULL,
		sale_date DATETIME(6) NULL,
		notes TEXT NULL,
		subtotal DECIMAL(20,4) NOT NULL,
		tax_amount DECIMAL(20,4) NOT NULL,
		discount_amount DECIMAL(20,4) NOT NULL,
		total DECIMAL(20,4) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		published_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_line_items (
		sale_id VARCHAR(64) NOT NULL,
		position INT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(20,4) NOT NULL,
		PRIMARY KEY (sale_id, position),
		CONSTRAINT fk_line_items_sale FOREIGN KEY (sale_id) REFERENCES sales (id) ON DELETE CASCADE,
		CONSTRAINT fk_line_items_product FOREIGN KEY (product_id) REFERENCES products (id),
		CONSTRAINT chk_line_items_quantity CHECK (quantity > 0)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		customer_name TEXT,
		customer_email TEXT,
		customer_phone TEXT,
		invoice_number TEXT,
		sale_date TIMESTAMPTZ,
		notes TEXT,
		subtotal NUMERIC(20,4) NOT NULL,
		tax_amount NUMERIC(20,4) NOT NULL,
		discount_amount NUMERIC(20,4) NOT NULL,
		total NUMERIC(20,4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_line_items (
		sale_id TEXT NOT NULL REFERENCES sales (id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products (id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(20,4) NOT NULL,
		PRIMARY KEY (sale_id, position)
	)`,
}

// EnsureSchema creates the tables used by SQLAdapter if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := mysqlSchema
	if dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", tableName(stmt), err)
		}
	}
	return nil
}

func tableName(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) > 5 {
		return fields[5]
	}
	return "?"
}
