// Package shopping aggregates a week board's ingredients into a shopping list.
package shopping

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"meal-board/internal/board"
)

// maxAmount bounds a single parsed quantity; anything larger is kept as text.
const maxAmount = 1e9

type line struct {
	item    Item
	total   float64
	numeric bool
	amounts []string
}

// Build sums ingredients per item and unit across every meal of the week,
// dropping anything on the board's excluded-items list.
func Build(b board.WeekBoard) ShoppingList {
	excluded := make(map[string]bool, len(b.Meta.ExcludedItems))
	for _, e := range b.Meta.ExcludedItems {
		excluded[normalizeKey(e)] = true
	}

	lines := map[string]*line{}
	var order []string

	for _, date := range b.Dates() {
		day := b.Days[date]
		for _, slot := range board.Slots {
			for _, meal := range *day.Meals(slot) {
				for _, ing := range meal.Ingredients {
					name := strings.TrimSpace(ing.Item)
					if name == "" || excluded[normalizeKey(name)] {
						continue
					}
					unit := strings.TrimSpace(ing.Unit)
					key := normalizeKey(name) + "|" + normalizeKey(unit)

					l, ok := lines[key]
					if !ok {
						l = &line{item: Item{Item: name, Unit: unit}, numeric: true}
						lines[key] = l
						order = append(order, key)
					}
					l.add(strings.TrimSpace(ing.Amount))
					if mealName := meal.DisplayName(); mealName != "" && !contains(l.item.Meals, mealName) {
						l.item.Meals = append(l.item.Meals, mealName)
					}
				}
			}
		}
	}

	items := make([]Item, 0, len(order))
	for _, key := range order {
		l := lines[key]
		l.item.Amount = l.amount()
		if l.item.Meals == nil {
			l.item.Meals = []string{}
		}
		items = append(items, l.item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].Item) < strings.ToLower(items[j].Item)
	})

	return ShoppingList{
		WeekStartISO: b.WeekStartISO(),
		Items:        items,
		Excluded:     append([]string{}, b.Meta.ExcludedItems...),
	}
}

func (l *line) add(amount string) {
	if amount == "" {
		return
	}
	if v, ok := ParseAmount(amount); ok && l.numeric {
		l.total += v
	} else {
		l.numeric = false
	}
	l.amounts = append(l.amounts, amount)
}

func (l *line) amount() string {
	if len(l.amounts) == 0 {
		return ""
	}
	if l.numeric {
		return strconv.FormatFloat(roundTo(l.total, 2), 'f', -1, 64)
	}
	return strings.Join(l.amounts, " + ")
}

// ParseAmount reads "2", "1.5", "1/2" and mixed numbers like "1 1/2".
func ParseAmount(s string) (float64, bool) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", "."))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, false
	}
	var total float64
	for _, f := range fields {
		v, ok := parseNumber(f)
		if !ok {
			return 0, false
		}
		total += v
	}
	return total, true
}

func parseNumber(s string) (float64, bool) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, ok1 := parseQuantity(num)
		d, ok2 := parseQuantity(den)
		if !ok1 || !ok2 || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	return parseQuantity(s)
}

// parseQuantity accepts a plain non-negative decimal no larger than maxAmount.
// NaN, Inf and exponent forms stay text.
func parseQuantity(s string) (float64, bool) {
	if strings.ContainsAny(s, "eEnNiIxXpP_") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > maxAmount {
		return 0, false
	}
	return v, true
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
