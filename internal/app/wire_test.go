package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meal-board/internal/config"
	"meal-board/internal/database"
	"meal-board/internal/logging"
)

func TestNewRuntime(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTH_SECRET", "wire-secret")
	t.Setenv("IMAGE_STORAGE_BACKEND", "local")
	t.Setenv("LOCAL_IMAGE_PATH", filepath.Join(dir, "images"))
	t.Setenv("PUBLIC_BASE_URL", "https://board.example.com/")
	// Nothing listens on port 1, so the hash cache must fall back to memory.
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")

	cfg, err := config.NewFromEnv()
	require.NoError(t, err)

	db, err := database.NewDB(filepath.Join(dir, "board.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	rt, err := NewRuntime(ctx, cfg, db.SQL, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, cfg.LocalImagePath, rt.ImageDir)
	assert.Empty(t, rt.closers, "unreachable redis must not register a closer")

	res, err := rt.App.GetWeek(ctx, "user-1", testWeek)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Week.Version)

	t.Run("ServedImagesAreFirstParty", func(t *testing.T) {
		own := "https://board.example.com/images/meal-images/soup-abc.png"
		payload := fmt.Sprintf(`{"week": {
			"id": "week-%s",
			"version": 1,
			"days": {"2024-06-04": {"lists": {"dinner": [
				{"id": "own", "title": "Soup", "imageUrl": %q}
			]}}}
		}}`, testWeek, own)

		saved, err := rt.App.SaveWeek(ctx, "user-1", testWeek, []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, 0, saved.ImagesPending)

		dinner := saved.Week.Days["2024-06-04"].Dinner
		require.Len(t, dinner, 1)
		require.NotNil(t, dinner[0].ImageURL)
		assert.Equal(t, own, *dinner[0].ImageURL)
	})

	assert.NoError(t, rt.Close())
}
