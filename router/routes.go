package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/commercekit/paygate/handler"
	"github.com/commercekit/paygate/infra/middle"

	// Import for side-effect registration
	_ "github.com/commercekit/paygate/provider/authorizenet"
	_ "github.com/commercekit/paygate/provider/datacash"
	_ "github.com/commercekit/paygate/provider/dibs"
	_ "github.com/commercekit/paygate/provider/icharge"
	_ "github.com/commercekit/paygate/provider/paypal"
	_ "github.com/commercekit/paygate/provider/stripe"
)

// Routes registers all API routes
func Routes(r chi.Router, payment *handler.PaymentHandler, configHandler *handler.ConfigHandler, health *handler.HealthHandler) {
	// Health endpoints carry no auth so probes can reach them.
	r.Get("/health", health.CheckHealth)
	r.Get("/health/live", health.Liveness)

	r.Route("/v1", func(r chi.Router) {
		// Providers call back without credentials; the callback state
		// token and webhook signatures authenticate these requests.
		r.HandleFunc("/callback/{provider}", payment.HandleCallback)
		r.Post("/webhooks/{provider}", payment.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middle.AuthMiddleware())

			r.Route("/config", func(r chi.Router) {
				r.Get("/providers", configHandler.GetProviders)
				r.Get("/providers/{provider}", configHandler.GetRequiredConfig)
				r.Get("/stats", configHandler.GetStats)
				r.Post("/tenant", configHandler.SetTenantConfig)
				r.Get("/tenant", configHandler.GetTenantConfig)
				r.Delete("/tenant", configHandler.DeleteTenantConfig)
			})

			r.Route("/payments", func(r chi.Router) {
				r.Use(middle.TenantMiddleware())

				r.Post("/{provider}", payment.ProcessPayment)
				r.Post("/{provider}/refund", payment.RefundPayment)
				r.Get("/{provider}/{paymentID}", payment.GetPaymentStatus)
				r.Post("/{provider}/{paymentID}/capture", payment.CapturePayment)
				r.Delete("/{provider}/{paymentID}", payment.CancelPayment)
			})
		})
	})
}
