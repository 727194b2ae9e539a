package domain

import "time"

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockRequest asks the ledger to take Quantity units of ProductID.
type StockRequest struct {
	ProductID string
	Quantity  int
}

// StockLevel is the stock of a product after a reservation.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}
