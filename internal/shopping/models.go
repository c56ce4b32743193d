package shopping

// Item is one aggregated line of a shopping list.
type Item struct {
	Item   string   `json:"item"`
	Amount string   `json:"amount"`
	Unit   string   `json:"unit"`
	Meals  []string `json:"meals"`
}

// ShoppingList is derived from a week board on every read.
type ShoppingList struct {
	WeekStartISO string   `json:"weekStartISO"`
	Items        []Item   `json:"items"`
	Excluded     []string `json:"excluded"`
}
