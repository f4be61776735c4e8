package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/admin"
	"github.com/aisaas-platform/aisaas/internal/auth"
	"github.com/aisaas-platform/aisaas/internal/billing"
	"github.com/aisaas-platform/aisaas/internal/config"
	"github.com/aisaas-platform/aisaas/internal/entitlement"
	"github.com/aisaas-platform/aisaas/internal/ledger"
	"github.com/aisaas-platform/aisaas/internal/store"
)

// WebhookParser verifies a processor webhook and translates it.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (billing.Event, error)
}

// Services are the components the HTTP layer dispatches to.
type Services struct {
	Store      *store.Store
	Resolver   *auth.Resolver
	Ledger     *ledger.Ledger
	Billing    *billing.Service
	Reconciler *billing.Reconciler
	Webhooks   WebhookParser // nil disables the webhook endpoint
	Admin      *admin.Service
}

type Api struct {
	Config config.Config
	Router *chi.Mux
	svc    Services
	log    *zap.Logger
}

func NewApi(cfg config.Config, svc Services, logger *zap.Logger) (*Api, error) {
	if cfg.Server.Port == 0 {
		return nil, errors.New("Must have at least a port to start API")
	}
	if svc.Store == nil || svc.Resolver == nil || svc.Ledger == nil || svc.Billing == nil ||
		svc.Reconciler == nil || svc.Admin == nil {
		return nil, errors.New("api: missing service dependency")
	}

	api := &Api{
		Config: cfg,
		Router: chi.NewRouter(),
		svc:    svc,
		log:    logger,
	}
	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router
	limits := api.Config.RateLimit

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.requestLogger)
	r.Use(api.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/health"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	// Processor callbacks carry their own signature and are not rate limited.
	r.Post("/billing/webhook", api.BillingWebhook)

	r.Group(func(r chi.Router) {
		r.Use(api.rateLimit(limits.APIRequests, limits.APIWindow))
		r.Use(api.svc.Resolver.Middleware(api.writeError))

		r.Get("/auth/me", api.GetMe)
		r.Put("/auth/me", api.UpdateMe)

		r.With(api.rateLimit(limits.GenerationRequests, limits.GenerationWindow)).
			Post("/tools/{toolType}", api.RunTool)

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/stats", api.DashboardStats)
			r.Get("/creations", api.ListCreations)
			r.Get("/creations/{id}", api.GetCreation)
			r.Delete("/creations/{id}", api.DeleteCreation)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(api.rateLimit(limits.PaymentRequests, limits.PaymentWindow))
				r.Post("/checkout", api.Checkout)
				r.Post("/checkout/credits", api.CheckoutCredits)
			})
			r.Get("/history", api.BillingHistory)
			r.Get("/payments/{id}", api.GetPayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(api.requireTier(entitlement.Admin))
			r.Get("/stats", api.AdminStats)
			r.Get("/users", api.AdminListUsers)
			r.Get("/users/{id}", api.AdminGetUser)
			r.Put("/users/{id}", api.AdminUpdateUser)
			r.Get("/payments", api.AdminListPayments)
			r.Get("/creations", api.AdminListCreations)
		})
	})
}

// ServeHTTP makes Api an http.Handler.
func (api *Api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.Router.ServeHTTP(w, r)
}

func (api *Api) rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			api.writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests, please try again later"})
		}),
	)
}
