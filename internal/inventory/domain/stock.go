package domain

import (
	"errors"
	"fmt"
	"math"
)

// MaxLineQuantity is the largest quantity one line may request; it matches
// the INT column items are stored in.
const MaxLineQuantity = math.MaxInt32

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity out of range")
	ErrEmptyOrder        = errors.New("no items requested")
)

// Product is the read-mostly view of a catalog entry the guard needs.
type Product struct {
	ID             string
	Name           string
	ImageURL       string
	PriceCents     int64
	AvailableStock int
}

type StockLine struct {
	ProductID string
	Quantity  int
}

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (%s): available %d, requested %d",
		e.Name, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Shortfall records a line whose conditional decrement did not apply.
type Shortfall struct {
	ProductID string
	Requested int
}

// MergeLines sums quantities per product, keeping first-seen order. A sum
// that would overflow saturates at math.MaxInt.
func MergeLines(lines []StockLine) []StockLine {
	idx := make(map[string]int, len(lines))
	merged := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			merged[i].Quantity = addQuantity(merged[i].Quantity, l.Quantity)
			continue
		}
		idx[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged
}

func addQuantity(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}
