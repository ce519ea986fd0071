package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType separates what the kitchen prepares from what the bar pours
type ItemType string

const (
	ItemTypeFood  ItemType = "food"
	ItemTypeDrink ItemType = "drink"
)

// Course numbers. Drinks always travel on CourseDrinks.
const (
	CourseStarter = 1
	CourseMain    = 2
	CourseDessert = 3
	CourseDrinks  = 4
)

// MenuItem represents a dish or drink on the menu
type MenuItem struct {
	Model
	RestaurantID   uint            `gorm:"index" json:"restaurant_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Type           ItemType        `json:"type"`
	Course         int             `json:"course"`
	Price          decimal.Decimal `gorm:"type:varchar(32)" json:"price"`
	PrepTime       time.Duration   `json:"prep_time"`
	Available      bool            `json:"available"`
	Allergens      StringSlice     `gorm:"type:text" json:"allergens"`
	ModifierGroups []ModifierGroup `gorm:"foreignkey:MenuItemID" json:"modifier_groups,omitempty"`
}

// ModifierGroup constrains how many modifiers of a kind may be picked
type ModifierGroup struct {
	Model
	MenuItemID   uint       `gorm:"index" json:"menu_item_id"`
	Name         string     `json:"name"`
	MinSelection int        `json:"min_selection"`
	MaxSelection int        `json:"max_selection"` // 0 means no upper bound
	Modifiers    []Modifier `gorm:"foreignkey:ModifierGroupID" json:"modifiers,omitempty"`
}

// Modifier is one selectable option inside a group
type Modifier struct {
	Model
	ModifierGroupID uint            `gorm:"index" json:"modifier_group_id"`
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `gorm:"type:varchar(32)" json:"price_adjustment"`
}

// ValidateMenuItem validates a menu item
func ValidateMenuItem(item *MenuItem) error {
	if item.Name == "" {
		return fmt.Errorf("menu item name is required")
	}
	if item.Price.IsNegative() {
		return fmt.Errorf("menu item price must not be negative")
	}
	if item.Type != ItemTypeFood && item.Type != ItemTypeDrink {
		return fmt.Errorf("menu item type %q is not supported", item.Type)
	}
	if item.Type == ItemTypeFood && (item.Course < CourseStarter || item.Course > CourseDessert) {
		return fmt.Errorf("food course must be between %d and %d", CourseStarter, CourseDessert)
	}
	for _, g := range item.ModifierGroups {
		if g.MaxSelection > 0 && g.MinSelection > g.MaxSelection {
			return fmt.Errorf("modifier group %q requires more choices than it allows", g.Name)
		}
	}
	return nil
}

// EffectiveCourse returns the course an ordered unit of this item travels on
func (mi *MenuItem) EffectiveCourse() int {
	if mi.Type == ItemTypeDrink {
		return CourseDrinks
	}
	if mi.Course < CourseStarter || mi.Course > CourseDessert {
		return CourseMain
	}
	return mi.Course
}

// Group returns the modifier group with the given id
func (mi *MenuItem) Group(id uint) (ModifierGroup, bool) {
	for _, g := range mi.ModifierGroups {
		if g.ID == id {
			return g, true
		}
	}
	return ModifierGroup{}, false
}

// Modifier returns the modifier with the given id
func (g ModifierGroup) Modifier(id uint) (Modifier, bool) {
	for _, m := range g.Modifiers {
		if m.ID == id {
			return m, true
		}
	}
	return Modifier{}, false
}

// SingleChoice reports whether picking a modifier replaces the previous pick
func (g ModifierGroup) SingleChoice() bool {
	return g.MaxSelection == 1
}
