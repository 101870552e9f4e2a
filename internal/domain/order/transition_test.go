package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusShipping, StatusCompleted, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusShipping}:   true,
		{StatusPending, StatusCompleted}:  true,
		{StatusPending, StatusCancelled}:  true,
		{StatusShipping, StatusCompleted}: true,
		{StatusShipping, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("Refunded", StatusPending))
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusShipping.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" shipping ")
	require.True(t, ok)
	assert.Equal(t, StatusShipping, st)

	_, ok = ParseStatus("Refunded")
	assert.False(t, ok)
	_, ok = ParseStatus("")
	assert.False(t, ok)
}

func TestAffected(t *testing.T) {
	products := []product.Product{
		{ID: 1, Status: product.StatusSold},
		{ID: 2, Status: product.StatusAvailable},
		{ID: 3, Status: product.StatusHidden},
	}

	ids, st := affected(StatusCancelled, products)
	assert.Equal(t, []int64{1}, ids)
	assert.Equal(t, product.StatusAvailable, st)

	ids, st = affected(StatusCompleted, products)
	assert.Equal(t, []int64{2}, ids)
	assert.Equal(t, product.StatusSold, st)

	ids, _ = affected(StatusShipping, products)
	assert.Empty(t, ids)
}
