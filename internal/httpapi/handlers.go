package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"meal-board/internal/identity"
)

func (h *handler) getWeek(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetWeek(r.Context(), userID(r), chi.URLParam(r, "weekStartISO"))
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) saveWeek(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	res, err := h.svc.SaveWeek(r.Context(), userID(r), chi.URLParam(r, "weekStartISO"), body)
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) addMeal(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	res, err := h.svc.AddMeal(r.Context(), userID(r),
		chi.URLParam(r, "weekStartISO"), chi.URLParam(r, "date"), chi.URLParam(r, "slot"), body)
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) removeMeal(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RemoveMeal(r.Context(), userID(r),
		chi.URLParam(r, "weekStartISO"), chi.URLParam(r, "date"), chi.URLParam(r, "slot"), chi.URLParam(r, "mealId"))
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) shoppingList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ShoppingList(r.Context(), userID(r), chi.URLParam(r, "weekStartISO"))
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func userID(r *http.Request) string {
	u, _ := identity.UserFromContext(r.Context())
	return u.ID
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}
