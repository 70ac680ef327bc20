package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopraq/shopraq-backend/api/controllers"
	paymentcontrollers "github.com/shopraq/shopraq-backend/api/controllers/payments"
	plancontrollers "github.com/shopraq/shopraq-backend/api/controllers/plans"
	storecontrollers "github.com/shopraq/shopraq-backend/api/controllers/stores"
	"github.com/shopraq/shopraq-backend/api/middleware"
	"github.com/shopraq/shopraq-backend/pkg/config"
	"github.com/shopraq/shopraq-backend/pkg/db"
	"github.com/shopraq/shopraq-backend/pkg/logger"
	"github.com/shopraq/shopraq-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	engine paymentcontrollers.ReconcileEngine,
	subscriptionService storecontrollers.SubscriptionService,
	planService plancontrollers.PlanService,
	ledgerService paymentcontrollers.LedgerReader,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", plancontrollers.PublicList(planService, logg))

		r.Route("/payment", func(r chi.Router) {
			r.Get("/polling-status", paymentcontrollers.PollingStatus(redisClient, logg))
			r.Post("/webhook", paymentcontrollers.Webhook(engine, logg))

			r.Route("/{storeId}", func(r chi.Router) {
				r.Get("/", paymentcontrollers.List(ledgerService, logg))
				r.Post("/initialize", paymentcontrollers.Initialize(engine, logg))
				r.Post("/verify", paymentcontrollers.Verify(engine, logg))
				r.Get("/status/{reference}", paymentcontrollers.Status(ledgerService, logg))
				r.Get("/poll/{reference}", paymentcontrollers.Poll(engine, logg))
				r.Post("/manual-activate", paymentcontrollers.ManualActivate(engine, logg))
			})
		})

		r.Route("/stores/{storeId}/subscription", func(r chi.Router) {
			r.Get("/", storecontrollers.SubscriptionStatus(subscriptionService, logg))
			r.Get("/history", storecontrollers.SubscriptionHistory(subscriptionService, logg))
			r.Post("/cancel", storecontrollers.SubscriptionCancel(subscriptionService, logg))
			r.Post("/auto-renew/enable", storecontrollers.AutoRenewEnable(subscriptionService, logg))
			r.Post("/auto-renew/disable", storecontrollers.AutoRenewDisable(subscriptionService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", plancontrollers.AdminList(planService, logg))
			r.Post("/", plancontrollers.AdminCreate(planService, logg))
			r.Get("/{planId}", plancontrollers.AdminGet(planService, logg))
			r.Put("/{planId}", plancontrollers.AdminUpdate(planService, logg))
			r.Delete("/{planId}", plancontrollers.AdminDelete(planService, logg))
		})

		r.Route("/stores", func(r chi.Router) {
			r.Post("/", storecontrollers.AdminCreateStore(subscriptionService, logg))
			r.Route("/{storeId}", func(r chi.Router) {
				r.Post("/extend-trial", storecontrollers.AdminExtendTrial(subscriptionService, logg))
				r.Post("/reactivate", storecontrollers.AdminReactivate(subscriptionService, logg))
			})
		})
	})

	return r
}
