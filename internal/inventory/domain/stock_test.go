package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLines(t *testing.T) {
	merged := MergeLines([]StockLine{
		{ProductID: "mug", Quantity: 1},
		{ProductID: "shirt", Quantity: 2},
		{ProductID: "mug", Quantity: 4},
	})

	assert.Equal(t, []StockLine{{ProductID: "mug", Quantity: 5}, {ProductID: "shirt", Quantity: 2}}, merged)
}

func TestMergeLines_SaturatesInsteadOfWrapping(t *testing.T) {
	merged := MergeLines([]StockLine{
		{ProductID: "mug", Quantity: math.MaxInt},
		{ProductID: "mug", Quantity: math.MaxInt},
		{ProductID: "mug", Quantity: 3},
	})

	assert.Equal(t, []StockLine{{ProductID: "mug", Quantity: math.MaxInt}}, merged)
}
