package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/auth"
	"github.com/aisaas-platform/aisaas/internal/entitlement"
	"github.com/aisaas-platform/aisaas/internal/models"
)

const (
	maxJSONBody = 1 << 20
	// Tool requests may carry an inline image as a data URL.
	maxToolBody = 15 << 20
)

func currentUser(r *http.Request) *models.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

func pagination(r *http.Request) (models.Pagination, error) {
	var p models.Pagination
	var err error
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if p.Page, err = strconv.Atoi(v); err != nil {
			return p, apperr.Invalid("page must be a number")
		}
	}
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil {
			return p, apperr.Invalid("limit must be a number")
		}
	}
	return p.Normalize(), nil
}

func toolFilter(r *http.Request) (models.ToolType, error) {
	v := r.URL.Query().Get("toolType")
	if v == "" {
		return "", nil
	}
	tool, ok := models.ParseToolType(v)
	if !ok {
		return "", apperr.Invalid("unknown toolType")
	}
	return tool, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("malformed JSON body")
	}
	return nil
}

type meResponse struct {
	*models.User
	EffectivePro bool `json:"effectivePro"`
}

func (api *Api) me(u *models.User) meResponse {
	return meResponse{User: u, EffectivePro: entitlement.EffectivePro(u, api.svc.Store.Now())}
}

// GetMe returns the resolved principal.
func (api *Api) GetMe(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.me(currentUser(r)))
}

// UpdateMe changes the caller's display name and image URL.
func (api *Api) UpdateMe(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	var req struct {
		Name     *string `json:"name"`
		ImageURL *string `json:"imageUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}

	name, imageURL := u.Name, u.ImageURL
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" || len(name) > 100 {
			api.writeError(w, r, apperr.Invalid("name must be 1-100 characters"))
			return
		}
	}
	if req.ImageURL != nil {
		imageURL = strings.TrimSpace(*req.ImageURL)
	}

	if err := api.svc.Store.UpdateProfile(r.Context(), u.ID, name, imageURL); err != nil {
		api.writeError(w, r, apperr.Unavailable(err))
		return
	}
	updated, err := api.svc.Store.GetUserByID(r.Context(), u.ID)
	if err != nil {
		api.writeError(w, r, apperr.Unavailable(err))
		return
	}
	api.writeJSON(w, http.StatusOK, api.me(updated))
}

// RunTool invokes a tool and returns the recorded creation.
func (api *Api) RunTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := models.ParseToolType(chi.URLParam(r, "toolType"))
	if !ok {
		api.writeError(w, r, apperr.NotFound("tool"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxToolBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		api.writeError(w, r, apperr.Invalid("unreadable request body"))
		return
	}

	c, err := api.svc.Ledger.Run(r.Context(), currentUser(r), tool, body)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, c)
}

func (api *Api) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.svc.Ledger.Dashboard(r.Context(), currentUser(r))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stats)
}

func (api *Api) ListCreations(w http.ResponseWriter, r *http.Request) {
	p, err := pagination(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	tool, err := toolFilter(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	page, err := api.svc.Ledger.List(r.Context(), currentUser(r), tool, p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, page)
}

func (api *Api) GetCreation(w http.ResponseWriter, r *http.Request) {
	c, err := api.svc.Ledger.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, c)
}

func (api *Api) DeleteCreation(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.Ledger.Remove(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		api.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
