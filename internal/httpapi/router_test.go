package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meal-board/internal/app"
	"meal-board/internal/board"
	"meal-board/internal/database"
	"meal-board/internal/identity"
	"meal-board/internal/imagegate"
	"meal-board/internal/metrics"
	"meal-board/internal/shopping"
	"meal-board/internal/storage"
	"meal-board/internal/week"
)

const (
	testWeek   = "2024-06-03"
	testSecret = "router-test-secret"
)

type noopGate struct{}

func (noopGate) ProcessBoard(ctx context.Context, b *board.WeekBoard) imagegate.BoardResult {
	return imagegate.BoardResult{ImagesPending: b.PendingImages()}
}

// failingService returns err from every call.
type failingService struct {
	err error
}

func (f failingService) GetWeek(context.Context, string, string) (app.SaveResult, error) {
	return app.SaveResult{}, f.err
}

func (f failingService) SaveWeek(context.Context, string, string, []byte) (app.SaveResult, error) {
	return app.SaveResult{}, f.err
}

func (f failingService) AddMeal(context.Context, string, string, string, string, []byte) (app.SaveResult, error) {
	return app.SaveResult{}, f.err
}

func (f failingService) RemoveMeal(context.Context, string, string, string, string, string) (app.SaveResult, error) {
	return app.SaveResult{}, f.err
}

func (f failingService) ShoppingList(context.Context, string, string) (shopping.ShoppingList, error) {
	return shopping.ShoppingList{}, f.err
}

type testServer struct {
	handler http.Handler
	tokens  *identity.JWTVerifier
}

func newTestServer(t *testing.T, imageDir string) *testServer {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	normalizer := board.NewNormalizer(time.UTC)
	svc := app.NewApp(week.NewRepository(db.SQL, normalizer), noopGate{}, normalizer, nil)
	tokens := identity.NewJWTVerifier(testSecret, "meal-board")

	h := NewRouter(svc, Options{
		Resolver: identity.NewResolver(tokens, "review-token", "reviewer"),
		Sessions: tokens,
		ImageDir: imageDir,
		Health: func(ctx context.Context) metrics.SysHealth {
			return metrics.GetSysHealth(ctx, db.SQL, "")
		},
	})
	return &testServer{handler: h, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := s.tokens.IssueToken(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWeekRoutes(t *testing.T) {
	srv := newTestServer(t, "")
	weekPath := "/api/weeks/" + testWeek

	t.Run("RequiresAuthentication", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, weekPath, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Authentication required", decode(t, rec)["error"])
	})

	t.Run("InvalidBearerRejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, weekPath, nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("GetCreatesEmptyWeek", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, weekPath, "alice", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var res app.SaveResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, testWeek, res.WeekStartISO)
		assert.Equal(t, 1, res.Week.Version)
		assert.Len(t, res.Week.Days, board.DaysPerWeek)
	})

	t.Run("PutSavesBoard", func(t *testing.T) {
		body := `{"week":{"version":1,"days":{"2024-06-04":{"dinner":[{"title":"Lentil soup","ingredients":[{"item":"Lentils","amount":"200","unit":"g"}]}]}}}}`
		rec := srv.do(t, http.MethodPut, weekPath, "alice", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res app.SaveResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 2, res.Week.Version)
		require.Len(t, res.Week.Days["2024-06-04"].Dinner, 1)
		assert.Equal(t, "Lentil soup", res.Week.Days["2024-06-04"].Dinner[0].Title)
	})

	t.Run("StalePutConflicts", func(t *testing.T) {
		rec := srv.do(t, http.MethodPut, weekPath, "alice", `{"version":1,"days":{}}`)
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		assert.EqualValues(t, 2, decode(t, rec)["currentVersion"])
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, weekPath, "bob", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var res app.SaveResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Week.Version)
		assert.Empty(t, res.Week.Days["2024-06-04"].Dinner)
	})

	t.Run("BadWeekStart", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/weeks/2024-06-05", "alice", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, decode(t, rec)["field"])
	})

	t.Run("NonObjectBody", func(t *testing.T) {
		rec := srv.do(t, http.MethodPut, weekPath, "alice", `[1,2]`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "body", decode(t, rec)["field"])
	})

	t.Run("ReviewBypass", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, weekPath, nil)
		req.Header.Set(identity.ReviewTokenHeader, "review-token")
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("SessionCookie", func(t *testing.T) {
		token, err := srv.tokens.IssueToken("alice", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, weekPath, nil)
		req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: token})
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var res app.SaveResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 2, res.Week.Version)
	})
}

func TestMealRoutes(t *testing.T) {
	srv := newTestServer(t, "")
	mealsPath := fmt.Sprintf("/api/weeks/%s/days/2024-06-05/snacks/meals", testWeek)

	rec := srv.do(t, http.MethodPost, mealsPath, "alice", `{"meal":{"title":"Apple","ingredients":[{"item":"Apple","amount":"1"}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res app.SaveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	snacks := res.Week.Days["2024-06-05"].Snacks
	require.Len(t, snacks, 1)
	mealID := snacks[0].ID
	assert.True(t, strings.HasPrefix(mealID, "meal-"))

	rec = srv.do(t, http.MethodPost, mealsPath, "alice", `{"title":"Pear","ingredients":[{"item":"apple","amount":"2"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("ShoppingList", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/weeks/"+testWeek+"/shopping-list", "alice", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var list shopping.ShoppingList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Items, 1)
		assert.Equal(t, "3", list.Items[0].Amount)
	})

	t.Run("MissingTitle", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, mealsPath, "alice", `{"ingredients":[]}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "meal.title", decode(t, rec)["field"])
	})

	t.Run("BadSlot", func(t *testing.T) {
		path := fmt.Sprintf("/api/weeks/%s/days/2024-06-05/brunch/meals", testWeek)
		rec := srv.do(t, http.MethodPost, path, "alice", `{"title":"Eggs"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "slot", decode(t, rec)["field"])
	})

	t.Run("Remove", func(t *testing.T) {
		rec := srv.do(t, http.MethodDelete, mealsPath+"/"+mealID, "alice", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res app.SaveResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		snacks := res.Week.Days["2024-06-05"].Snacks
		require.Len(t, snacks, 1)
		assert.Equal(t, "Pear", snacks[0].Title)
		require.NotNil(t, snacks[0].OrderIndex)
		assert.Equal(t, 0, *snacks[0].OrderIndex)
	})

	t.Run("TooLarge", func(t *testing.T) {
		body := `{"title":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		rec := srv.do(t, http.MethodPost, mealsPath, "alice", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	tokens := identity.NewJWTVerifier(testSecret, "meal-board")
	token, err := tokens.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			name:   "Persistence",
			err:    &week.PersistenceError{Op: "upsert", Err: fmt.Errorf("disk I/O error")},
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["retryable"])
				assert.NotContains(t, body["error"], "disk")
			},
		},
		{
			name:   "Conflict",
			err:    &week.VersionConflictError{UserID: "alice", WeekStartISO: testWeek, Expected: 3, Current: 5},
			status: http.StatusConflict,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.EqualValues(t, 5, body["currentVersion"])
			},
		},
		{
			name:   "Validation",
			err:    fmt.Errorf("wrapped: %w", board.Invalid("date", "out of range")),
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "date", body["field"])
				assert.Equal(t, "out of range", body["reason"])
			},
		},
		{
			name:   "Unknown",
			err:    fmt.Errorf("boom"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "Internal server error", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(failingService{err: tt.err}, Options{Sessions: tokens})
			req := httptest.NewRequest(http.MethodGet, "/api/weeks/"+testWeek, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			tt.check(t, decode(t, rec))
		})
	}
}

func TestOperationalRoutes(t *testing.T) {
	dir := t.TempDir()
	objectPath := storage.ObjectPrefix + "soup-0123456789ab.png"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, storage.ObjectPrefix), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(objectPath)), []byte("\x89PNG\r\n\x1a\n"), 0644))
	srv := newTestServer(t, dir)

	t.Run("Health", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/healthz", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode(t, rec)["status"])
	})

	t.Run("Metrics", func(t *testing.T) {
		srv.do(t, http.MethodGet, "/healthz", "", "")
		rec := srv.do(t, http.MethodGet, "/metrics", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "meal_board_http_requests_total")
	})

	t.Run("ServesImages", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, storage.LocalRoutePrefix+objectPath, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, storage.CacheControl, rec.Header().Get("Cache-Control"))
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	})

	t.Run("NoDirectoryListing", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, storage.LocalRoutePrefix+storage.ObjectPrefix, "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
