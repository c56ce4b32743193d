package board

import (
	"github.com/tidwall/gjson"
)

// Variant tags the shape a raw board arrived in.
type Variant int

const (
	// VariantUnknown is anything that is not a recognizable board object.
	VariantUnknown Variant = iota
	// VariantLegacy carries only the single-day `lists` (or top-level slot arrays).
	VariantLegacy
	// VariantCurrent carries the per-date `days` map.
	VariantCurrent
)

func (v Variant) String() string {
	switch v {
	case VariantLegacy:
		return "legacy"
	case VariantCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// RawBoard is a decoded but not yet coerced board. Days and Lists always hold
// flat day objects ({breakfast, lunch, dinner, snacks}); the wrapped
// {lists: {...}} day shape is unwrapped here and nowhere else.
type RawBoard struct {
	Variant       Variant
	ID            string
	Version       int64
	CreatedAt     gjson.Result
	ExcludedItems gjson.Result
	Lists         gjson.Result
	Days          map[string]gjson.Result
}

// Decode classifies raw JSON into a RawBoard. It never fails: invalid JSON and
// non-object documents decode as VariantUnknown.
func Decode(raw []byte) RawBoard {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return RawBoard{Variant: VariantUnknown}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return RawBoard{Variant: VariantUnknown}
	}

	// PUT bodies may arrive as {week: <board>}.
	if week := doc.Get("week"); week.IsObject() && !doc.Get("days").Exists() && !doc.Get("lists").Exists() {
		doc = week
	}

	rb := RawBoard{
		Variant:       VariantUnknown,
		ID:            stringValue(doc.Get("id")),
		Version:       doc.Get("version").Int(),
		CreatedAt:     firstExisting(doc, "meta.createdAt", "createdAt"),
		ExcludedItems: firstExisting(doc, "meta.excludedItems", "excludedItems"),
	}

	switch lists := doc.Get("lists"); {
	case lists.IsObject():
		rb.Lists = adaptDay(lists)
	case hasSlotArrays(doc):
		rb.Lists = doc
	}

	if days := doc.Get("days"); days.IsObject() {
		rb.Variant = VariantCurrent
		rb.Days = make(map[string]gjson.Result)
		days.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() {
				rb.Days[key.String()] = adaptDay(value)
			}
			return true
		})
		return rb
	}

	if rb.Lists.Exists() {
		rb.Variant = VariantLegacy
	}
	return rb
}

// adaptDay flattens the older {lists: {...}} day shape.
func adaptDay(day gjson.Result) gjson.Result {
	if inner := day.Get("lists"); inner.IsObject() && !hasSlotArrays(day) {
		return inner
	}
	return day
}

func hasSlotArrays(obj gjson.Result) bool {
	for _, slot := range Slots {
		if obj.Get(slot).IsArray() {
			return true
		}
	}
	return false
}

func firstExisting(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// legacyHasMeals reports whether the legacy lists carry at least one meal.
func (rb RawBoard) legacyHasMeals() bool {
	if !rb.Lists.Exists() {
		return false
	}
	for _, slot := range Slots {
		if len(rb.Lists.Get(slot).Array()) > 0 {
			return true
		}
	}
	return false
}
