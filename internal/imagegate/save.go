package imagegate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"meal-board/internal/board"
)

// MealImageResult is what a meal's image fields become at save time.
type MealImageResult struct {
	ImageURL           *string `json:"imageUrl"`
	ImagePending       bool    `json:"imagePending"`
	IngestionAttempted bool    `json:"ingestionAttempted"`
}

// ProcessMealImageForSave is the save-time decision for one image URL. An
// external URL is never passed through, even when ingestion fails.
func (g *Gate) ProcessMealImageForSave(ctx context.Context, imageURL, name string) MealImageResult {
	cls := g.classifier.Classify(imageURL)
	switch {
	case cls.IsFirstParty:
		u := imageURL
		return MealImageResult{ImageURL: &u}
	case !cls.NeedsIngestion:
		// empty or unusable scheme
		return MealImageResult{}
	}

	res := g.Ingest(ctx, imageURL, name)
	if !res.Success {
		return MealImageResult{ImagePending: true, IngestionAttempted: true}
	}
	u := res.PermanentURL
	return MealImageResult{ImageURL: &u, IngestionAttempted: true}
}

// BoardResult summarizes a board pass.
type BoardResult struct {
	ImagesProcessed int `json:"imagesProcessed"`
	ImagesPending   int `json:"imagesPending"`
}

// ProcessBoard applies ProcessMealImageForSave to every meal of every slot
// across all days, then re-syncs the legacy lists mirror. It returns only
// after every meal is resolved, so callers may persist the board right after.
func (g *Gate) ProcessBoard(ctx context.Context, b *board.WeekBoard) BoardResult {
	var processed int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for _, date := range b.Dates() {
		day := b.Days[date]
		for _, slot := range board.Slots {
			meals := *day.Meals(slot)
			for i := range meals {
				m := &meals[i]
				if m.ImageURL == nil {
					// nothing to resolve; a pending flag stays for a later retry
					continue
				}
				eg.Go(func() error {
					res := g.ProcessMealImageForSave(egCtx, *m.ImageURL, m.DisplayName())
					m.ImageURL = res.ImageURL
					m.ImagePending = res.ImagePending
					if res.IngestionAttempted {
						atomic.AddInt64(&processed, 1)
					}
					return nil
				})
			}
		}
	}
	_ = eg.Wait()

	b.SyncLists()
	return BoardResult{
		ImagesProcessed: int(processed),
		ImagesPending:   b.PendingImages(),
	}
}
