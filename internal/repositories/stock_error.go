package repositories

import "fmt"

// StockError reports a product that cannot cover the requested quantity.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) IsNotFound() bool    { return false }
func (e *StockError) IsConflict() bool    { return true }
func (e *StockError) IsUnavailable() bool { return false }
