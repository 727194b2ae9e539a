package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrPersistence         = errors.New("persistence failure")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrSaleNotFound        = errors.New("sale not found")
)

// SaleError carries the failure kind of a sale operation together with the
// product and line item that caused it, when there is one.
type SaleError struct {
	Kind      error
	Message   string
	ProductID string
	Line      int // 1-based, 0 when no line item is involved
	Available int
	Requested int
	Err       error
}

func (e *SaleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SaleError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func InvalidRequest(format string, args ...any) *SaleError {
	return &SaleError{Kind: ErrInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func ProductNotFound(productID string) *SaleError {
	return &SaleError{
		Kind:      ErrProductNotFound,
		Message:   fmt.Sprintf("product %q does not exist", productID),
		ProductID: productID,
	}
}

func InsufficientStock(productID string, available, requested int) *SaleError {
	return &SaleError{
		Kind:      ErrInsufficientStock,
		Message:   fmt.Sprintf("product %q has %d available, %d requested", productID, available, requested),
		ProductID: productID,
		Available: available,
		Requested: requested,
	}
}

func ConcurrencyConflict(productID string, err error) *SaleError {
	return &SaleError{
		Kind:      ErrConcurrencyConflict,
		Message:   fmt.Sprintf("stock of product %q changed during reservation", productID),
		ProductID: productID,
		Err:       err,
	}
}

func PersistenceFailure(message string, err error) *SaleError {
	return &SaleError{Kind: ErrPersistence, Message: message, Err: err}
}

// AsSaleError returns the *SaleError in err's chain, if any.
func AsSaleError(err error) (*SaleError, bool) {
	var se *SaleError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf reports which sentinel kind err belongs to, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidRequest,
		ErrProductNotFound,
		ErrInsufficientStock,
		ErrConcurrencyConflict,
		ErrDuplicateRequest,
		ErrSaleNotFound,
		ErrPersistence,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName is the stable, lower-snake name of err's kind, used by transports
// and metrics labels.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrInvalidRequest:
		return "invalid_request"
	case ErrProductNotFound:
		return "product_not_found"
	case ErrInsufficientStock:
		return "insufficient_stock"
	case ErrConcurrencyConflict:
		return "concurrency_conflict"
	case ErrDuplicateRequest:
		return "duplicate_request"
	case ErrSaleNotFound:
		return "sale_not_found"
	case ErrPersistence:
		return "persistence_failure"
	default:
		return "internal"
	}
}
