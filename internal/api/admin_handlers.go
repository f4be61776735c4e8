package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/store"
)

func (api *Api) AdminStats(w http.ResponseWriter, r *http.Request) {
	o, err := api.svc.Admin.Overview(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, o)
}

func (api *Api) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	p, err := pagination(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.UserFilter{Search: q.Get("search"), Status: q.Get("status")}

	page, err := api.svc.Admin.ListUsers(r.Context(), filter, p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, page)
}

func (api *Api) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	detail, err := api.svc.Admin.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, detail)
}

// AdminUpdateUser sets isPro and/or isAdmin on a user.
func (api *Api) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsPro   *bool `json:"isPro"`
		IsAdmin *bool `json:"isAdmin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	if req.IsPro == nil && req.IsAdmin == nil {
		api.writeError(w, r, apperr.Invalid("nothing to update"))
		return
	}

	u, err := api.svc.Admin.UpdateUser(r.Context(), currentUser(r), chi.URLParam(r, "id"),
		store.FlagUpdate{IsPro: req.IsPro, IsAdmin: req.IsAdmin})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, u)
}

func (api *Api) AdminListPayments(w http.ResponseWriter, r *http.Request) {
	p, err := pagination(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.PaymentFilter{
		UserID:   q.Get("userId"),
		Status:   models.PaymentStatus(q.Get("status")),
		PlanType: models.PlanType(q.Get("planType")),
	}

	page, err := api.svc.Admin.ListPayments(r.Context(), filter, p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, page)
}

func (api *Api) AdminListCreations(w http.ResponseWriter, r *http.Request) {
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
	filter := models.CreationFilter{UserID: r.URL.Query().Get("userId"), ToolType: tool}

	page, err := api.svc.Admin.ListCreations(r.Context(), filter, p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, page)
}
