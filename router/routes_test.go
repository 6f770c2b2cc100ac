package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/paygate/handler"
	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/infra/validate"
	"github.com/commercekit/paygate/provider"
)

func newTestHandlers() (*handler.PaymentHandler, *handler.ConfigHandler, *handler.HealthHandler) {
	providerConfig := config.NewProviderConfig(nil)
	paymentService := provider.NewPaymentService(providerConfig, nil, provider.NewCallbackEncryptor("test-secret"))
	validator := validate.New()

	return handler.NewPaymentHandler(paymentService, validator),
		handler.NewConfigHandler(providerConfig, paymentService, validator),
		handler.NewHealthHandler(nil, paymentService, providerConfig, false)
}

func TestRoutes(t *testing.T) {
	r := chi.NewRouter()
	require.NotNil(t, r)

	payment, configHandler, health := newTestHandlers()
	assert.NotPanics(t, func() {
		Routes(r, payment, configHandler, health)
	})
}

func TestRoutes_HealthWithoutAuth(t *testing.T) {
	r := chi.NewRouter()
	payment, configHandler, health := newTestHandlers()
	Routes(r, payment, configHandler, health)

	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_PaymentsRequireAuth(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")

	r := chi.NewRouter()
	payment, configHandler, health := newTestHandlers()
	Routes(r, payment, configHandler, health)

	req := httptest.NewRequest("POST", "/v1/payments/stripe", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("GET", "/v1/config/providers", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_PaymentsRequireTenant(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")

	r := chi.NewRouter()
	payment, configHandler, health := newTestHandlers()
	Routes(r, payment, configHandler, health)

	req := httptest.NewRequest("POST", "/v1/payments/stripe", nil)
	req.Header.Set("Authorization", "Bearer test-api-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "X-Tenant-ID")
}

func TestRoutes_CallbackWithoutAuth(t *testing.T) {
	r := chi.NewRouter()
	payment, configHandler, health := newTestHandlers()
	Routes(r, payment, configHandler, health)

	// Reachable without credentials; rejected only for the missing state.
	req := httptest.NewRequest("GET", "/v1/callback/paypal", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "state")
}

func TestProviderRegistration(t *testing.T) {
	// The side-effect imports register every shipped adapter.
	names := provider.DefaultRegistry.GetProviderNames()
	for _, want := range []string{"authorizenet", "datacash", "dibs", "icharge", "paypal", "stripe"} {
		assert.Contains(t, names, want)
	}
}
