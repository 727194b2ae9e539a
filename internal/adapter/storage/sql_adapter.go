package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

const (
	mysqlDuplicateEntry   = 1062
	postgresUniqueViolate = "23505"
)

// SQLAdapter implements the storage ports on MySQL or Postgres. Every unit of
// work is one database transaction; product rows are locked with
// SELECT ... FOR UPDATE.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQLAdapter{db: db, dialect: dialect, sb: sb, now: time.Now}
}

func (a *SQLAdapter) Dialect() Dialect {
	return a.dialect
}

func (a *SQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, sb: a.sb, now: a.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (a *SQLAdapter) FindProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query, args, err := a.sb.
		Select("id", "name", "stock", "updated_at").
		From("products").
		Where(sq.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanProduct(a.db.QueryRowContext(ctx, query, args...))
}

func (a *SQLAdapter) FindSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	query, args, err := a.sb.
		Select(saleColumns...).
		From("sales").
		Where(sq.Eq{"id": saleID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		sale                               domain.Sale
		name, email, phone, invoice, notes sql.NullString
		date                               sql.NullTime
	)
	err = a.db.QueryRowContext(ctx, query, args...).Scan(
		&sale.ID, &name, &email, &phone, &invoice, &date, &notes,
		&sale.Subtotal, &sale.TaxAmount, &sale.DiscountAmount, &sale.Total,
		&sale.CreatedAt, &sale.UpdatedAt, &sale.PublishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	sale.CustomerName = name.String
	sale.CustomerEmail = email.String
	sale.CustomerPhone = phone.String
	sale.InvoiceNumber = invoice.String
	sale.Notes = notes.String
	if date.Valid {
		d := date.Time.UTC()
		sale.Date = &d
	}

	query, args, err = a.sb.
		Select("position", "product_id", "quantity", "unit_price").
		From("sale_line_items").
		Where(sq.Eq{"sale_id": saleID}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	sale.Items = []domain.SaleLineItem{}
	for rows.Next() {
		item := domain.SaleLineItem{SaleID: saleID}
		if err := rows.Scan(&item.Position, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return &sale, nil
}

var saleColumns = []string{
	"id", "customer_name", "customer_email", "customer_phone", "invoice_number",
	"sale_date", "notes", "subtotal", "tax_amount", "discount_amount", "total",
	"created_at", "updated_at", "published_at",
}

type sqlTx struct {
	tx  *sql.Tx
	sb  sq.StatementBuilderType
	now func() time.Time
}

func (t *sqlTx) FindProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	query, args, err := t.sb.
		Select("id", "name", "stock", "updated_at").
		From("products").
		Where(sq.Eq{"id": productID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanProduct(t.tx.QueryRowContext(ctx, query, args...))
}

func (t *sqlTx) DecrementStock(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("decrement %q: amount must be positive, got %d", productID, amount)
	}
	query, args, err := t.sb.
		Update("products").
		Set("stock", sq.Expr("stock - ?", amount)).
		Set("updated_at", t.now().UTC()).
		Where(sq.Eq{"id": productID}).
		Where(sq.GtOrEq{"stock": amount}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if rows == 0 {
		return port.ErrStockConflict
	}
	return nil
}

func (t *sqlTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	query, args, err := t.sb.
		Insert("sales").
		SetMap(map[string]interface{}{
			"id":              sale.ID,
			"customer_name":   nullString(sale.CustomerName),
			"customer_email":  nullString(sale.CustomerEmail),
			"customer_phone":  nullString(sale.CustomerPhone),
			"invoice_number":  nullString(sale.InvoiceNumber),
			"sale_date":       sale.Date,
			"notes":           nullString(sale.Notes),
			"subtotal":        sale.Subtotal,
			"tax_amount":      sale.TaxAmount,
			"discount_amount": sale.DiscountAmount,
			"total":           sale.Total,
			"created_at":      sale.CreatedAt,
			"updated_at":      sale.UpdatedAt,
			"published_at":    sale.PublishedAt,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %v", port.ErrDuplicateSaleID, err)
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertLineItems(ctx context.Context, saleID string, items []domain.SaleLineItem) error {
	if len(items) == 0 {
		return nil
	}
	insert := t.sb.
		Insert("sale_line_items").
		Columns("sale_id", "position", "product_id", "quantity", "unit_price")
	for _, item := range items {
		insert = insert.Values(saleID, item.Position, item.ProductID, item.Quantity, item.UnitPrice)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert line items: %w", err)
	}
	return nil
}

func scanProduct(row *sql.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == postgresUniqueViolate
	}
	return false
}
