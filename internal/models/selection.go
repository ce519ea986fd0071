package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Selection holds the modifiers a guest picked, keyed by modifier group id.
// Order inside a group is the order of picking.
type Selection map[uint][]uint

// SelectionError reports a modifier group whose pick count is out of bounds
type SelectionError struct {
	Group string
	Min   int
	Max   int
	Count int
}

func (e *SelectionError) Error() string {
	if e.Max > 0 && e.Count > e.Max {
		return fmt.Sprintf("%s allows at most %d choices, got %d", e.Group, e.Max, e.Count)
	}
	return fmt.Sprintf("%s requires at least %d choices, got %d", e.Group, e.Min, e.Count)
}

// Choose toggles a modifier inside its group. A single-choice group swaps the
// previous pick out; a capped group ignores picks beyond its maximum.
// It reports whether the selection changed.
func (s Selection) Choose(group ModifierGroup, modifierID uint) bool {
	if _, ok := group.Modifier(modifierID); !ok {
		return false
	}
	picked := s[group.ID]
	for i, id := range picked {
		if id == modifierID {
			s[group.ID] = append(picked[:i:i], picked[i+1:]...)
			return true
		}
	}
	switch {
	case group.SingleChoice():
		s[group.ID] = []uint{modifierID}
	case group.MaxSelection > 0 && len(picked) >= group.MaxSelection:
		return false
	default:
		s[group.ID] = append(picked, modifierID)
	}
	return true
}

// Empty reports whether no modifier is selected
func (s Selection) Empty() bool {
	for _, ids := range s {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// Validate checks every group of the menu item against its bounds
func (s Selection) Validate(item *MenuItem) error {
	for gid, ids := range s {
		if len(ids) == 0 {
			continue
		}
		if _, ok := item.Group(gid); !ok {
			return fmt.Errorf("modifier group %d does not belong to %s", gid, item.Name)
		}
	}
	for _, g := range item.ModifierGroups {
		count := len(s[g.ID])
		if count < g.MinSelection || (g.MaxSelection > 0 && count > g.MaxSelection) {
			return &SelectionError{Group: g.Name, Min: g.MinSelection, Max: g.MaxSelection, Count: count}
		}
	}
	return nil
}

// Resolve turns the selection into order item modifier rows and the summed
// price adjustment. Call Validate first.
func (s Selection) Resolve(item *MenuItem) ([]OrderItemModifier, decimal.Decimal, error) {
	var (
		mods  []OrderItemModifier
		total = decimal.Zero
	)
	for _, g := range item.ModifierGroups {
		for _, id := range s[g.ID] {
			m, ok := g.Modifier(id)
			if !ok {
				return nil, decimal.Zero, fmt.Errorf("modifier %d is not part of %s", id, g.Name)
			}
			mods = append(mods, OrderItemModifier{
				ModifierID:      m.ID,
				Name:            m.Name,
				PriceAdjustment: m.PriceAdjustment,
			})
			total = total.Add(m.PriceAdjustment)
		}
	}
	return mods, total, nil
}
