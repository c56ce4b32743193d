// Package app wires the save pipeline: normalize, gate images, then persist.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"meal-board/internal/board"
	"meal-board/internal/imagegate"
	"meal-board/internal/logging"
	"meal-board/internal/metrics"
	"meal-board/internal/shopping"
	"meal-board/internal/week"
)

// mergeAttempts bounds retries of server-side merges that lose a version race.
const mergeAttempts = 3

// BoardStore persists week boards.
type BoardStore interface {
	Get(ctx context.Context, userID, weekStartISO string) (*board.WeekBoard, error)
	Upsert(ctx context.Context, userID, weekStartISO string, b board.WeekBoard) (board.WeekBoard, error)
	ListKeys(ctx context.Context) ([]week.Key, error)
}

// ImageGate resolves every meal image to a first-party URL or pending.
type ImageGate interface {
	ProcessBoard(ctx context.Context, b *board.WeekBoard) imagegate.BoardResult
}

// App holds the application's dependencies.
type App struct {
	boards     BoardStore
	gate       ImageGate
	normalizer board.Normalizer
	log        logrus.FieldLogger
}

// NewApp creates and initializes a new App instance.
func NewApp(boards BoardStore, gate ImageGate, normalizer board.Normalizer, log logrus.FieldLogger) *App {
	if log == nil {
		log = logging.Discard()
	}
	return &App{
		boards:     boards,
		gate:       gate,
		normalizer: normalizer,
		log:        log,
	}
}

// SaveResult is the response envelope of every board read and write.
type SaveResult struct {
	WeekStartISO    string          `json:"weekStartISO"`
	Week            board.WeekBoard `json:"week"`
	ImagesProcessed int             `json:"imagesProcessed"`
	ImagesPending   int             `json:"imagesPending"`
}

// GetWeek returns the user's board, creating an empty one on first read.
func (a *App) GetWeek(ctx context.Context, userID, weekStartISO string) (SaveResult, error) {
	b, err := a.loadOrCreate(ctx, userID, weekStartISO)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{
		WeekStartISO:  weekStartISO,
		Week:          b,
		ImagesPending: b.PendingImages(),
	}, nil
}

// SaveWeek replaces the user's board with payload, which may be a bare
// board or {week: board}. payload's version is the compare-and-swap base.
func (a *App) SaveWeek(ctx context.Context, userID, weekStartISO string, payload []byte) (SaveResult, error) {
	if _, err := board.ParseWeekStart(weekStartISO); err != nil {
		return SaveResult{}, err
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return SaveResult{}, board.Invalid("body", "must be a JSON object")
	}
	if id := board.Decode(payload).ID; id != "" && id != board.WeekID(weekStartISO) {
		return SaveResult{}, board.Invalid("id", fmt.Sprintf("%q does not match %s", id, board.WeekID(weekStartISO)))
	}

	b, stats := a.normalizer.NormalizeDetailed(payload, weekStartISO)
	a.log.WithFields(logrus.Fields{
		"week":                 weekStartISO,
		"variant":              stats.Variant.String(),
		"generatedIds":         stats.GeneratedIDs,
		"instructionsAsString": stats.InstructionsAsString,
		"droppedDays":          stats.DroppedDays,
	}).Debug("Normalized board payload")

	return a.save(ctx, userID, weekStartISO, b)
}

// AddMeal appends meal to one slot of one day, merging on the server.
func (a *App) AddMeal(ctx context.Context, userID, weekStartISO, date, slot string, mealJSON []byte) (SaveResult, error) {
	if err := validateTarget(weekStartISO, date, slot); err != nil {
		return SaveResult{}, err
	}
	meal, err := a.coerceMeal(weekStartISO, date, slot, mealJSON)
	if err != nil {
		return SaveResult{}, err
	}

	return a.merge(ctx, userID, weekStartISO, func(b *board.WeekBoard) bool {
		day := b.Days[date]
		list := day.Meals(slot)
		m := meal
		if slot == board.SlotSnacks {
			idx := len(*list)
			m.OrderIndex = &idx
		}
		*list = append(*list, m)
		b.Days[date] = day
		return true
	})
}

// RemoveMeal filters mealID out of one slot. Removing an absent meal is a no-op.
func (a *App) RemoveMeal(ctx context.Context, userID, weekStartISO, date, slot, mealID string) (SaveResult, error) {
	if err := validateTarget(weekStartISO, date, slot); err != nil {
		return SaveResult{}, err
	}
	if mealID == "" {
		return SaveResult{}, board.Invalid("mealId", "is required")
	}

	return a.merge(ctx, userID, weekStartISO, func(b *board.WeekBoard) bool {
		day := b.Days[date]
		list := day.Meals(slot)
		kept := make([]board.Meal, 0, len(*list))
		for _, m := range *list {
			if m.ID != mealID {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(*list) {
			return false
		}
		if slot == board.SlotSnacks {
			for i := range kept {
				idx := i
				kept[i].OrderIndex = &idx
			}
		}
		*list = kept
		b.Days[date] = day
		return true
	})
}

// ShoppingList aggregates the board's ingredients minus excluded items.
func (a *App) ShoppingList(ctx context.Context, userID, weekStartISO string) (shopping.ShoppingList, error) {
	if _, err := board.ParseWeekStart(weekStartISO); err != nil {
		return shopping.ShoppingList{}, err
	}
	b, err := a.boards.Get(ctx, userID, weekStartISO)
	if err != nil {
		return shopping.ShoppingList{}, err
	}
	if b == nil {
		empty := a.normalizer.NormalizeWeek(nil, weekStartISO)
		b = &empty
	}
	return shopping.Build(*b), nil
}

// RenormalizeReport summarizes a Renormalize run.
type RenormalizeReport struct {
	Boards        int
	Rewritten     int
	Failed        int
	ImagesPending int
}

// Renormalize rewrites every stored board in canonical form, running the
// image gate over it. Running it twice is harmless.
func (a *App) Renormalize(ctx context.Context) (RenormalizeReport, error) {
	keys, err := a.boards.ListKeys(ctx)
	if err != nil {
		return RenormalizeReport{}, fmt.Errorf("failed to list boards: %w", err)
	}

	report := RenormalizeReport{Boards: len(keys)}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		b, err := a.boards.Get(ctx, k.UserID, k.WeekStartISO)
		if err != nil || b == nil {
			report.Failed++
			a.log.WithFields(logrus.Fields{"user": k.UserID, "week": k.WeekStartISO, "error": err}).Warn("Failed to load board")
			continue
		}
		res, err := a.save(ctx, k.UserID, k.WeekStartISO, *b)
		if err != nil {
			report.Failed++
			a.log.WithFields(logrus.Fields{"user": k.UserID, "week": k.WeekStartISO, "error": err}).Warn("Failed to rewrite board")
			continue
		}
		report.Rewritten++
		report.ImagesPending += res.ImagesPending
	}
	return report, nil
}

// save gates images and persists. The gate returns only once every meal is
// resolved, so no ephemeral URL can reach the store. An image ingested here
// whose board write then fails is left in the bucket and reused by hash.
func (a *App) save(ctx context.Context, userID, weekStartISO string, b board.WeekBoard) (SaveResult, error) {
	images := a.gate.ProcessBoard(ctx, &b)

	saved, err := a.boards.Upsert(ctx, userID, weekStartISO, b)
	if err != nil {
		metrics.ObserveBoardSave(saveOutcome(err), 0)
		return SaveResult{}, err
	}
	metrics.ObserveBoardSave("ok", images.ImagesPending)

	a.log.WithFields(logrus.Fields{
		"user":            userID,
		"week":            weekStartISO,
		"version":         saved.Version,
		"imagesProcessed": images.ImagesProcessed,
		"imagesPending":   images.ImagesPending,
	}).Info("Saved week board")

	return SaveResult{
		WeekStartISO:    weekStartISO,
		Week:            saved,
		ImagesProcessed: images.ImagesProcessed,
		ImagesPending:   images.ImagesPending,
	}, nil
}

// merge applies mutate to the current board and saves it, retrying when a
// concurrent writer wins the version race.
func (a *App) merge(ctx context.Context, userID, weekStartISO string, mutate func(*board.WeekBoard) bool) (SaveResult, error) {
	var lastErr error
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		b, err := a.loadOrCreate(ctx, userID, weekStartISO)
		if err != nil {
			return SaveResult{}, err
		}
		if !mutate(&b) {
			return SaveResult{WeekStartISO: weekStartISO, Week: b, ImagesPending: b.PendingImages()}, nil
		}
		b.SyncLists()

		res, err := a.save(ctx, userID, weekStartISO, b)
		var conflict *week.VersionConflictError
		if errors.As(err, &conflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return SaveResult{}, lastErr
}

func (a *App) loadOrCreate(ctx context.Context, userID, weekStartISO string) (board.WeekBoard, error) {
	if _, err := board.ParseWeekStart(weekStartISO); err != nil {
		return board.WeekBoard{}, err
	}
	b, err := a.boards.Get(ctx, userID, weekStartISO)
	if err != nil {
		return board.WeekBoard{}, err
	}
	if b != nil {
		return *b, nil
	}

	fresh := a.normalizer.NormalizeWeek(nil, weekStartISO)
	created, err := a.boards.Upsert(ctx, userID, weekStartISO, fresh)
	var conflict *week.VersionConflictError
	if errors.As(err, &conflict) {
		// another request created it first
		b, err = a.boards.Get(ctx, userID, weekStartISO)
		if err != nil {
			return board.WeekBoard{}, err
		}
		if b == nil {
			return board.WeekBoard{}, conflict
		}
		return *b, nil
	}
	if err != nil {
		return board.WeekBoard{}, err
	}
	return created, nil
}

func (a *App) coerceMeal(weekStartISO, date, slot string, mealJSON []byte) (board.Meal, error) {
	raw := gjson.ParseBytes(mealJSON)
	if !gjson.ValidBytes(mealJSON) || !raw.IsObject() {
		return board.Meal{}, board.Invalid("meal", "must be a JSON object")
	}
	if raw.Get("meal").IsObject() {
		raw = raw.Get("meal")
	}

	wrapper := fmt.Sprintf(`{"days":{%q:{%q:[%s]}}}`, date, slot, raw.Raw)
	b := a.normalizer.NormalizeWeek([]byte(wrapper), weekStartISO)
	day := b.Days[date]
	meals := *day.Meals(slot)
	if len(meals) != 1 {
		return board.Meal{}, board.Invalid("meal", "could not be read")
	}

	meal := meals[0]
	if meal.DisplayName() == "" {
		return board.Meal{}, board.Invalid("meal.title", "is required")
	}
	if !raw.Get("id").Exists() || raw.Get("id").String() == "" {
		meal.ID = "meal-" + uuid.NewString()
	}
	return meal, nil
}

func validateTarget(weekStartISO, date, slot string) error {
	if _, err := board.ParseWeekStart(weekStartISO); err != nil {
		return err
	}
	if !board.ContainsDate(weekStartISO, date) {
		return board.Invalid("date", "must fall within the week starting "+weekStartISO)
	}
	if !board.ValidSlot(slot) {
		return board.Invalid("slot", "must be one of breakfast, lunch, dinner, snacks")
	}
	return nil
}

func saveOutcome(err error) string {
	var (
		conflict *week.VersionConflictError
		invalid  *board.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invalid):
		return "invalid"
	default:
		return "error"
	}
}
