package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/billing"
)

// Stripe recommends accepting payloads up to 64KiB.
const maxWebhookBody = 64 << 10

// Checkout opens a Pro subscription checkout for the caller.
func (api *Api) Checkout(w http.ResponseWriter, r *http.Request) {
	sess, err := api.svc.Billing.StartCheckout(r.Context(), currentUser(r))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, sess)
}

type creditPaymentRequest struct {
	Amount int64 `json:"amount"` // whole currency units
}

// CheckoutCredits starts a one-off credit purchase for the caller.
func (api *Api) CheckoutCredits(w http.ResponseWriter, r *http.Request) {
	var req creditPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	purchase, err := api.svc.Billing.StartCreditPayment(r.Context(), currentUser(r), req.Amount)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, purchase)
}

func (api *Api) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := api.svc.Billing.Payment(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, p)
}

func (api *Api) BillingHistory(w http.ResponseWriter, r *http.Request) {
	p, err := pagination(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	page, err := api.svc.Billing.History(r.Context(), currentUser(r), p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, page)
}

type webhookResponse struct {
	Received bool `json:"received"`
	billing.Outcome
}

// BillingWebhook verifies and applies a processor event. Ignored and
// duplicate events are acknowledged; only store failures ask the
// processor to redeliver.
func (api *Api) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	if api.svc.Webhooks == nil {
		api.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "billing is not configured"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		api.writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable webhook body"})
		return
	}

	ev, err := api.svc.Webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		api.log.Warn("Rejected webhook", zap.Error(err))
		api.writeJSON(w, http.StatusBadRequest, errorBody{Error: "webhook verification failed"})
		return
	}

	out, err := api.svc.Reconciler.Apply(r.Context(), ev)
	if err != nil {
		api.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "webhook processing failed"})
		return
	}
	api.writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: out})
}
