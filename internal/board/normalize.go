package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Stats describes what the normalizer saw on the wire.
type Stats struct {
	Variant              Variant
	InstructionsAsString int
	InstructionsAsList   int
	GeneratedIDs         int
	DroppedDays          int
	MigratedLegacyLists  bool
}

// Normalizer canonicalizes raw board JSON. The zero value uses time.Now and UTC.
type Normalizer struct {
	Now      func() time.Time
	Location *time.Location
}

// NewNormalizer returns a Normalizer reading "today" in loc.
func NewNormalizer(loc *time.Location) Normalizer {
	return Normalizer{Now: time.Now, Location: loc}
}

// Normalize resolves the week from the board id (falling back to the current week).
func (n Normalizer) Normalize(raw []byte) WeekBoard {
	b, _ := n.NormalizeDetailed(raw, "")
	return b
}

// NormalizeWeek normalizes raw into the given week. An empty or malformed
// weekStartISO falls back to the board id, then to the current week.
func (n Normalizer) NormalizeWeek(raw []byte, weekStartISO string) WeekBoard {
	b, _ := n.NormalizeDetailed(raw, weekStartISO)
	return b
}

// NormalizeDetailed is NormalizeWeek that also reports wire statistics.
func (n Normalizer) NormalizeDetailed(raw []byte, weekStartISO string) (WeekBoard, Stats) {
	now := n.now()
	rb := Decode(raw)
	st := Stats{Variant: rb.Variant}

	start := n.resolveWeekStart(rb, weekStartISO, now)
	dates := WeekDates(start)

	var days map[string]DayLists
	switch rb.Variant {
	case VariantCurrent:
		days = migrateCurrent(rb, dates, &st)
	case VariantLegacy:
		days = migrateLegacy(rb, dates, &st)
	default: // VariantUnknown
		days = emptyWeek(dates)
	}

	version := int(rb.Version)
	if version < 0 {
		version = 0
	}

	b := WeekBoard{
		ID:      WeekID(start),
		Version: version,
		Days:    days,
		Meta: Meta{
			CreatedAt:     parseTimestamp(rb.CreatedAt, now),
			LastUpdatedAt: now,
			ExcludedItems: coerceStrings(rb.ExcludedItems, true),
		},
	}
	if b.Meta.ExcludedItems == nil {
		b.Meta.ExcludedItems = []string{}
	}
	b.SyncLists()
	return b, st
}

func (n Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now().UTC()
	}
	return n.Now().UTC()
}

// resolveWeekStart takes a parseable date as given, so the seven days run
// from exactly the date the board was keyed under. Only the clock fallback
// snaps to a Monday.
func (n Normalizer) resolveWeekStart(rb RawBoard, override string, now time.Time) string {
	if d, err := ParseDate(override); err == nil {
		return d.Format(DateLayout)
	}
	if d, err := ParseDate(weekStartFromID(rb.ID)); err == nil {
		return d.Format(DateLayout)
	}
	return CurrentWeekStart(now, n.Location)
}

func migrateCurrent(rb RawBoard, dates []string, st *Stats) map[string]DayLists {
	days := make(map[string]DayLists, DaysPerWeek)
	for i, date := range dates {
		if raw, ok := rb.Days[date]; ok {
			days[date] = coerceDay(raw, date, st)
			continue
		}
		// One-time migration: a board that gained `days` keeps its old first-day lists.
		if i == 0 && rb.legacyHasMeals() {
			days[date] = coerceDay(rb.Lists, date, st)
			st.MigratedLegacyLists = true
			continue
		}
		days[date] = EmptyDay()
	}
	for key := range rb.Days {
		if _, ok := days[key]; !ok {
			st.DroppedDays++
		}
	}
	return days
}

func migrateLegacy(rb RawBoard, dates []string, st *Stats) map[string]DayLists {
	days := emptyWeek(dates)
	if rb.legacyHasMeals() {
		days[dates[0]] = coerceDay(rb.Lists, dates[0], st)
		st.MigratedLegacyLists = true
	}
	return days
}

func emptyWeek(dates []string) map[string]DayLists {
	days := make(map[string]DayLists, len(dates))
	for _, d := range dates {
		days[d] = EmptyDay()
	}
	return days
}

func coerceDay(raw gjson.Result, date string, st *Stats) DayLists {
	day := EmptyDay()
	for _, slot := range Slots {
		list := day.Meals(slot)
		for i, item := range raw.Get(slot).Array() {
			if !item.IsObject() {
				continue
			}
			*list = append(*list, coerceMeal(item, date, slot, i, st))
		}
	}
	day.Snacks = orderSnacks(day.Snacks)
	return day
}

// orderSnacks fills missing orderIndex values with the array position, stable
// sorts ascending, then renumbers densely from zero.
func orderSnacks(snacks []Meal) []Meal {
	for i := range snacks {
		if snacks[i].OrderIndex == nil {
			idx := i
			snacks[i].OrderIndex = &idx
		}
	}
	sort.SliceStable(snacks, func(a, b int) bool {
		return *snacks[a].OrderIndex < *snacks[b].OrderIndex
	})
	for i := range snacks {
		idx := i
		snacks[i].OrderIndex = &idx
	}
	return snacks
}

func coerceMeal(raw gjson.Result, date, slot string, pos int, st *Stats) Meal {
	m := Meal{
		ID:           stringValue(raw.Get("id")),
		Title:        stringValue(raw.Get("title")),
		Name:         stringValue(raw.Get("name")),
		Servings:     raw.Get("servings").Float(),
		Ingredients:  coerceIngredients(raw.Get("ingredients")),
		Instructions: coerceInstructions(raw.Get("instructions"), st),
		Nutrition:    coerceNutrition(raw.Get("nutrition")),
		Badges:       coerceStrings(raw.Get("badges"), false),
		Technique:    stringValue(raw.Get("technique")),
		Cuisine:      stringValue(raw.Get("cuisine")),
		EntryType:    stringValue(raw.Get("entryType")),
		Brand:        stringValue(raw.Get("brand")),
		ServingDesc:  stringValue(raw.Get("servingDesc")),
		Description:  stringValue(raw.Get("description")),
		CookingTime:  stringValue(raw.Get("cookingTime")),
		Difficulty:   stringValue(raw.Get("difficulty")),
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("meal-%s-%s-%d", date, slot, pos)
		st.GeneratedIDs++
	}
	if m.Title == "" {
		m.Title = m.Name
	}

	if url := stringValue(firstExisting(raw, "imageUrl", "image_url", "image")); url != "" {
		m.ImageURL = &url
	} else {
		m.ImagePending = raw.Get("imagePending").Bool()
	}

	if slot == SlotSnacks {
		if idx := raw.Get("orderIndex"); idx.Type == gjson.Number {
			v := int(idx.Int())
			m.OrderIndex = &v
		}
	}

	if mb := raw.Get("medicalBadges"); mb.Exists() && mb.Type != gjson.Null {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(mb.Raw)); err == nil {
			m.MedicalBadges = json.RawMessage(buf.Bytes())
		}
	}
	return m
}

func coerceIngredients(raw gjson.Result) []Ingredient {
	out := []Ingredient{}
	for _, item := range raw.Array() {
		var ing Ingredient
		switch {
		case item.IsObject():
			ing = Ingredient{
				Item:   stringValue(firstExisting(item, "item", "name", "ingredient")),
				Amount: stringValue(firstExisting(item, "amount", "quantity")),
				Unit:   stringValue(item.Get("unit")),
			}
		case item.Type == gjson.String:
			ing = Ingredient{Item: strings.TrimSpace(item.Str)}
		}
		if ing.Item != "" {
			out = append(out, ing)
		}
	}
	return out
}

func coerceInstructions(raw gjson.Result, st *Stats) []string {
	out := []string{}
	switch {
	case raw.IsArray():
		st.InstructionsAsList++
		for _, step := range raw.Array() {
			if s := stringValue(step); s != "" {
				out = append(out, s)
			}
		}
	case raw.Type == gjson.String:
		st.InstructionsAsString++
		for _, line := range strings.Split(raw.Str, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func coerceNutrition(raw gjson.Result) Nutrition {
	n := Nutrition{
		Calories: raw.Get("calories").Float(),
		Protein:  raw.Get("protein").Float(),
		Carbs:    raw.Get("carbs").Float(),
		Fat:      raw.Get("fat").Float(),
	}
	if v := raw.Get("starchyCarbs"); v.Exists() && v.Type != gjson.Null {
		f := v.Float()
		n.StarchyCarbs = &f
	}
	if v := raw.Get("fibrousCarbs"); v.Exists() && v.Type != gjson.Null {
		f := v.Float()
		n.FibrousCarbs = &f
	}
	return n
}

// coerceStrings accepts a list of strings or a single string. With dedupe set,
// repeated values (case-insensitive) keep their first occurrence.
func coerceStrings(raw gjson.Result, dedupe bool) []string {
	var values []gjson.Result
	switch {
	case raw.IsArray():
		values = raw.Array()
	case raw.Type == gjson.String:
		values = []gjson.Result{raw}
	}

	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		s := stringValue(v)
		if s == "" {
			continue
		}
		if dedupe {
			key := strings.ToLower(s)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, s)
	}
	return out
}

// stringValue keeps strings and the literal text of numbers; anything else is "".
func stringValue(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	}
	return ""
}

func parseTimestamp(raw gjson.Result, fallback time.Time) time.Time {
	switch raw.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw.Str)); err == nil {
			return t.UTC()
		}
	case gjson.Number:
		if ms := raw.Int(); ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return fallback
}
