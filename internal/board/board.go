// Package board holds the canonical weekly meal board and the normalizer that
// turns arbitrary client or stored JSON into it.
package board

import (
	"encoding/json"
	"sort"
	"time"
)

// Meal slots within a day.
const (
	SlotBreakfast = "breakfast"
	SlotLunch     = "lunch"
	SlotDinner    = "dinner"
	SlotSnacks    = "snacks"
)

// Slots lists every slot in display order.
var Slots = []string{SlotBreakfast, SlotLunch, SlotDinner, SlotSnacks}

// DaysPerWeek is the number of day entries a board always carries.
const DaysPerWeek = 7

// Ingredient is one line of a meal's ingredient list.
type Ingredient struct {
	Item   string `json:"item"`
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

// Nutrition is the per-serving macro summary of a meal.
type Nutrition struct {
	Calories     float64  `json:"calories"`
	Protein      float64  `json:"protein"`
	Carbs        float64  `json:"carbs"`
	Fat          float64  `json:"fat"`
	StarchyCarbs *float64 `json:"starchyCarbs,omitempty"`
	FibrousCarbs *float64 `json:"fibrousCarbs,omitempty"`
}

// Meal is a single planned meal.
type Meal struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Name          string          `json:"name,omitempty"`
	Servings      float64         `json:"servings"`
	Ingredients   []Ingredient    `json:"ingredients"`
	Instructions  []string        `json:"instructions"`
	Nutrition     Nutrition       `json:"nutrition"`
	ImageURL      *string         `json:"imageUrl"`
	ImagePending  bool            `json:"imagePending"`
	OrderIndex    *int            `json:"orderIndex,omitempty"`
	Badges        []string        `json:"badges,omitempty"`
	Technique     string          `json:"technique,omitempty"`
	Cuisine       string          `json:"cuisine,omitempty"`
	EntryType     string          `json:"entryType,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	ServingDesc   string          `json:"servingDesc,omitempty"`
	Description   string          `json:"description,omitempty"`
	CookingTime   string          `json:"cookingTime,omitempty"`
	Difficulty    string          `json:"difficulty,omitempty"`
	MedicalBadges json.RawMessage `json:"medicalBadges,omitempty"`
}

// DisplayName returns the title, or the name when no title is set.
func (m Meal) DisplayName() string {
	if m.Title != "" {
		return m.Title
	}
	return m.Name
}

// DayLists holds the four ordered meal lists of one day.
type DayLists struct {
	Breakfast []Meal `json:"breakfast"`
	Lunch     []Meal `json:"lunch"`
	Dinner    []Meal `json:"dinner"`
	Snacks    []Meal `json:"snacks"`
}

// EmptyDay returns a day with four empty (non-nil) lists.
func EmptyDay() DayLists {
	return DayLists{
		Breakfast: []Meal{},
		Lunch:     []Meal{},
		Dinner:    []Meal{},
		Snacks:    []Meal{},
	}
}

// Meals returns a pointer to the list for slot, or nil for an unknown slot.
func (d *DayLists) Meals(slot string) *[]Meal {
	switch slot {
	case SlotBreakfast:
		return &d.Breakfast
	case SlotLunch:
		return &d.Lunch
	case SlotDinner:
		return &d.Dinner
	case SlotSnacks:
		return &d.Snacks
	}
	return nil
}

// IsEmpty reports whether every slot is empty.
func (d DayLists) IsEmpty() bool {
	return len(d.Breakfast) == 0 && len(d.Lunch) == 0 && len(d.Dinner) == 0 && len(d.Snacks) == 0
}

// Meta carries board bookkeeping.
type Meta struct {
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	ExcludedItems []string  `json:"excludedItems"`
}

// WeekBoard is the canonical per-user, per-week document.
type WeekBoard struct {
	ID      string              `json:"id"`
	Version int                 `json:"version"`
	Lists   DayLists            `json:"lists"`
	Days    map[string]DayLists `json:"days"`
	Meta    Meta                `json:"meta"`
}

// WeekStartISO returns the first date of the board.
func (b WeekBoard) WeekStartISO() string {
	return weekStartFromID(b.ID)
}

// Dates returns the board's day keys in calendar order.
func (b WeekBoard) Dates() []string {
	dates := make([]string, 0, len(b.Days))
	for d := range b.Days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// SyncLists re-points the legacy mirror at the first day.
func (b *WeekBoard) SyncLists() {
	if day, ok := b.Days[b.WeekStartISO()]; ok {
		b.Lists = day
	}
}

// MealCount returns the number of meals across all days.
func (b WeekBoard) MealCount() int {
	n := 0
	for _, day := range b.Days {
		n += len(day.Breakfast) + len(day.Lunch) + len(day.Dinner) + len(day.Snacks)
	}
	return n
}

// PendingImages counts meals flagged as awaiting image ingestion.
func (b WeekBoard) PendingImages() int {
	n := 0
	for _, day := range b.Days {
		for _, slot := range Slots {
			for _, m := range *day.Meals(slot) {
				if m.ImagePending {
					n++
				}
			}
		}
	}
	return n
}
