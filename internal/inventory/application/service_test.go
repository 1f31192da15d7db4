package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/storefront-payments/internal/inventory/domain"
)

type stubProducts struct {
	products map[string]domain.Product
	err      error
	calls    int
}

func (s *stubProducts) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]domain.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newGuard(repo ProductRepository) *Guard {
	return NewGuard(slog.New(slog.NewTextHandler(io.Discard, nil)), repo)
}

func catalog() *stubProducts {
	return &stubProducts{products: map[string]domain.Product{
		"mug":   {ID: "mug", Name: "Mug", PriceCents: 1500, AvailableStock: 3},
		"shirt": {ID: "shirt", Name: "Shirt", PriceCents: 2500, AvailableStock: 1},
	}}
}

func TestCheck_AllLinesPass(t *testing.T) {
	g := newGuard(catalog())

	products, err := g.Check(context.Background(), []domain.StockLine{
		{ProductID: "mug", Quantity: 3},
		{ProductID: "shirt", Quantity: 1},
	})

	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "mug", products[0].ID)
	assert.Equal(t, "shirt", products[1].ID)
}

func TestCheck_InsufficientStockNamesProduct(t *testing.T) {
	g := newGuard(catalog())

	_, err := g.Check(context.Background(), []domain.StockLine{
		{ProductID: "mug", Quantity: 1},
		{ProductID: "shirt", Quantity: 2},
	})

	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "shirt", stockErr.ProductID)
	assert.Equal(t, "Shirt", stockErr.Name)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)
}

func TestCheck_DuplicateLinesAreSummed(t *testing.T) {
	g := newGuard(catalog())

	_, err := g.Check(context.Background(), []domain.StockLine{
		{ProductID: "mug", Quantity: 2},
		{ProductID: "mug", Quantity: 2},
	})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
}

func TestCheck_UnknownProduct(t *testing.T) {
	g := newGuard(catalog())

	_, err := g.Check(context.Background(), []domain.StockLine{{ProductID: "ghost", Quantity: 1}})

	require.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCheck_RejectsBadInputWithoutReading(t *testing.T) {
	repo := catalog()
	g := newGuard(repo)

	_, err := g.Check(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)

	_, err = g.Check(context.Background(), []domain.StockLine{{ProductID: "mug", Quantity: 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	assert.Equal(t, 0, repo.calls)
}

func TestCheck_RepositoryError(t *testing.T) {
	g := newGuard(&stubProducts{err: errors.New("connection refused")})

	_, err := g.Check(context.Background(), []domain.StockLine{{ProductID: "mug", Quantity: 1}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load products")
}

func TestCheck_OversizedLinesAreRejected(t *testing.T) {
	repo := catalog()
	g := newGuard(repo)

	_, err := g.Check(context.Background(), []domain.StockLine{
		{ProductID: "mug", Quantity: math.MaxInt},
		{ProductID: "mug", Quantity: math.MaxInt},
		{ProductID: "mug", Quantity: 3},
	})

	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Zero(t, repo.calls)
}

func TestCheck_SummedLinesNeverWrap(t *testing.T) {
	lines := make([]domain.StockLine, 0, 5)
	for i := 0; i < 4; i++ {
		lines = append(lines, domain.StockLine{ProductID: "mug", Quantity: domain.MaxLineQuantity})
	}
	lines = append(lines, domain.StockLine{ProductID: "mug", Quantity: 1})
	g := newGuard(catalog())

	_, err := g.Check(context.Background(), lines)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Greater(t, stockErr.Requested, domain.MaxLineQuantity)
}
