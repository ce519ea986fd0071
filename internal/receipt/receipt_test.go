package receipt

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"maitred/internal/models"
)

func TestBuildSkipsCancelledLines(t *testing.T) {
	items := []models.OrderItem{
		{Name: "Ribeye", Quantity: 2, UnitPrice: decimal.RequireFromString("38"), SumPrice: decimal.RequireFromString("76"),
			Modifiers: []models.OrderItemModifier{{Name: "Fries"}}},
		{Name: "Negroni", Quantity: 1, UnitPrice: decimal.RequireFromString("11"), SumPrice: decimal.RequireFromString("11"),
			Status: models.ItemStatusCancelled},
	}

	r := Build(7, "Ana", "T3", items, decimal.RequireFromString("80"), decimal.Zero, decimal.RequireFromString("4"))

	require.Len(t, r.Lines, 1)
	assert.Equal(t, []string{"Fries"}, r.Lines[0].Modifiers)
	assert.Equal(t, 2, r.TotalQuantity)
	assert.Equal(t, "76.00", r.TotalAmount.StringFixed(2))
	assert.Equal(t, "4.00", r.Change.StringFixed(2))
}

func TestLogPrinter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPrinter(zap.New(core))

	require.NoError(t, p.Print(context.Background(), Receipt{OrderID: 1, TableLabel: "T1", TotalAmount: decimal.NewFromInt(5)}))
	assert.Equal(t, 1, logs.FilterMessage("receipt printed").Len())
}
