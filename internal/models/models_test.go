package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ribeye() *MenuItem {
	item := &MenuItem{Name: "Ribeye", Type: ItemTypeFood, Course: CourseMain, Price: money("34.00")}
	doneness := ModifierGroup{Name: "Doneness", MinSelection: 1, MaxSelection: 1}
	doneness.ID = 1
	sides := ModifierGroup{Name: "Sides", MaxSelection: 2}
	sides.ID = 2
	for i, name := range []string{"Rare", "Medium", "Well done"} {
		m := Modifier{ModifierGroupID: 1, Name: name}
		m.ID = uint(i + 1)
		doneness.Modifiers = append(doneness.Modifiers, m)
	}
	for i, side := range []struct{ name, price string }{{"Fries", "4.00"}, {"Greens", "3.50"}, {"Mash", "4.00"}} {
		m := Modifier{ModifierGroupID: 2, Name: side.name, PriceAdjustment: money(side.price)}
		m.ID = uint(i + 4)
		sides.Modifiers = append(sides.Modifiers, m)
	}
	item.ModifierGroups = []ModifierGroup{doneness, sides}
	return item
}

func TestSelectionChoose(t *testing.T) {
	item := ribeye()
	doneness, sides := item.ModifierGroups[0], item.ModifierGroups[1]
	sel := Selection{}

	assert.True(t, sel.Choose(doneness, 1))
	assert.True(t, sel.Choose(doneness, 2))
	assert.Equal(t, []uint{2}, sel[1], "single choice swaps")

	assert.True(t, sel.Choose(sides, 4))
	assert.True(t, sel.Choose(sides, 5))
	assert.False(t, sel.Choose(sides, 6), "capped group ignores extra picks")
	assert.True(t, sel.Choose(sides, 4), "picking again toggles off")
	assert.Equal(t, []uint{5}, sel[2])

	assert.False(t, sel.Choose(sides, 99))
	assert.False(t, sel.Empty())
	assert.True(t, Selection{2: nil}.Empty())
}

func TestSelectionValidateAndResolve(t *testing.T) {
	item := ribeye()

	err := Selection{}.Validate(item)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, "Doneness requires at least 1 choices, got 0", selErr.Error())

	assert.Error(t, Selection{1: {1}, 9: {1}}.Validate(item))
	assert.Error(t, Selection{1: {1}, 2: {4, 5, 6}}.Validate(item))

	sel := Selection{1: {2}, 2: {4, 5}}
	require.NoError(t, sel.Validate(item))
	mods, adj, err := sel.Resolve(item)
	require.NoError(t, err)
	require.Len(t, mods, 3)
	assert.Equal(t, "Medium", mods[0].Name)
	assert.True(t, money("7.50").Equal(adj))
}

func TestOrderItemHelpers(t *testing.T) {
	it := OrderItem{TempID: "tmp-1", Quantity: 2}
	assert.Equal(t, "tmp-1", it.Key())
	assert.False(t, it.Persisted())

	it.SetUnitPrice(money("12.50"))
	assert.True(t, money("25.00").Equal(it.SumPrice))
	it.SetQuantity(3)
	assert.True(t, money("37.50").Equal(it.SumPrice))

	it.ID = 42
	assert.Equal(t, "42", it.Key())
	assert.Equal(t, uint(42), ParseKey(it.Key()))
	assert.Equal(t, uint(0), ParseKey("tmp-1"))

	assert.True(t, it.Billable())
	it.PaymentStatus = PaymentStatusCompleted
	assert.False(t, it.Billable())
}

func TestValidateMenuItem(t *testing.T) {
	assert.NoError(t, ValidateMenuItem(ribeye()))

	drink := &MenuItem{Name: "Negroni", Type: ItemTypeDrink, Price: money("11.00")}
	assert.NoError(t, ValidateMenuItem(drink))
	assert.Equal(t, CourseDrinks, drink.EffectiveCourse())

	bad := ribeye()
	bad.Course = 7
	assert.Error(t, ValidateMenuItem(bad))

	bad = ribeye()
	bad.ModifierGroups[1].MinSelection = 3
	assert.Error(t, ValidateMenuItem(bad))

	assert.True(t, money("3.46").Equal(Round2(money("3.455"))))
}
