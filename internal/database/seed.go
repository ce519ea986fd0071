package database

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"

	"maitred/internal/models"
)

// Seed ensures a restaurant has a floor and a small menu to work with
func Seed(db *gorm.DB, restaurantID uint) error {
	var tableCount int
	if err := db.Model(&models.RestaurantTable{}).Where("restaurant_id = ?", restaurantID).Count(&tableCount).Error; err != nil {
		return err
	}
	if tableCount == 0 {
		for i := 1; i <= 8; i++ {
			table := models.RestaurantTable{
				RestaurantID: restaurantID,
				Label:        fmt.Sprintf("T%d", i),
				Seats:        4,
				Status:       models.TableStatusAvailable,
			}
			if err := db.Create(&table).Error; err != nil {
				return fmt.Errorf("failed to seed table %s: %w", table.Label, err)
			}
		}
	}

	var menuCount int
	if err := db.Model(&models.MenuItem{}).Where("restaurant_id = ?", restaurantID).Count(&menuCount).Error; err != nil {
		return err
	}
	if menuCount == 0 {
		return seedMenu(db, restaurantID)
	}
	return nil
}

func seedMenu(db *gorm.DB, restaurantID uint) error {
	menu := []models.MenuItem{
		{
			RestaurantID: restaurantID,
			Name:         "Burrata",
			Type:         models.ItemTypeFood,
			Course:       models.CourseStarter,
			Price:        decimal.RequireFromString("12.50"),
			PrepTime:     8 * time.Minute,
			Available:    true,
			Allergens:    models.StringSlice{"milk"},
		},
		{
			RestaurantID: restaurantID,
			Name:         "Ribeye",
			Type:         models.ItemTypeFood,
			Course:       models.CourseMain,
			Price:        decimal.RequireFromString("34.00"),
			PrepTime:     18 * time.Minute,
			Available:    true,
			ModifierGroups: []models.ModifierGroup{
				{
					Name:         "Doneness",
					MinSelection: 1,
					MaxSelection: 1,
					Modifiers: []models.Modifier{
						{Name: "Rare", PriceAdjustment: decimal.Zero},
						{Name: "Medium", PriceAdjustment: decimal.Zero},
						{Name: "Well done", PriceAdjustment: decimal.Zero},
					},
				},
				{
					Name:         "Sides",
					MaxSelection: 2,
					Modifiers: []models.Modifier{
						{Name: "Fries", PriceAdjustment: decimal.RequireFromString("4.00")},
						{Name: "Greens", PriceAdjustment: decimal.RequireFromString("3.50")},
						{Name: "Mash", PriceAdjustment: decimal.RequireFromString("4.00")},
					},
				},
			},
		},
		{
			RestaurantID: restaurantID,
			Name:         "Tiramisu",
			Type:         models.ItemTypeFood,
			Course:       models.CourseDessert,
			Price:        decimal.RequireFromString("9.00"),
			PrepTime:     5 * time.Minute,
			Available:    true,
			Allergens:    models.StringSlice{"milk", "eggs", "wheat"},
		},
		{
			RestaurantID: restaurantID,
			Name:         "Negroni",
			Type:         models.ItemTypeDrink,
			Course:       models.CourseDrinks,
			Price:        decimal.RequireFromString("11.00"),
			PrepTime:     3 * time.Minute,
			Available:    true,
		},
	}

	for i := range menu {
		if err := models.ValidateMenuItem(&menu[i]); err != nil {
			return err
		}
		if err := db.Create(&menu[i]).Error; err != nil {
			return fmt.Errorf("failed to seed menu item %s: %w", menu[i].Name, err)
		}
	}
	return nil
}
