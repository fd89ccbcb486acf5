package model

import "fmt"

// MealType is the slot a meal was logged against.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

func ParseMealType(s string) (MealType, error) {
	switch MealType(s) {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return MealType(s), nil
	}
	return "", fmt.Errorf("invalid meal type %q", s)
}

// Meal is a logged meal with its nutrition breakdown. LoggedVia records
// the producer: manual entry, AI parse, or a bulk import.
type Meal struct {
	SyncRecord
	Name      string   `db:"name" json:"name"`
	MealType  MealType `db:"meal_type" json:"meal_type"`
	Calories  float64  `db:"calories" json:"calories"`
	ProteinG  float64  `db:"protein_g" json:"protein_g"`
	CarbsG    float64  `db:"carbs_g" json:"carbs_g"`
	FatG      float64  `db:"fat_g" json:"fat_g"`
	LoggedVia string   `db:"logged_via" json:"logged_via"`
}
