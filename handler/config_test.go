package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/infra/validate"
	"github.com/commercekit/paygate/provider"
)

// fakeProvider satisfies the provider interface for registry-backed tests.
type fakeProvider struct{}

func (fakeProvider) Initialize(conf map[string]string) error { return nil }
func (fakeProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "apiKey", Required: true, Type: "string"},
		{Key: "environment", Required: true, Type: "string", Pattern: "^(sandbox|production)$"},
	}
}
func (f fakeProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("fakepay", conf, f.GetRequiredConfig(conf["environment"]))
}
func (fakeProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return &provider.PaymentResponse{Success: true, Status: provider.StatusSuccessful}, nil
}
func (fakeProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return &provider.PaymentResponse{Success: true, Status: provider.StatusPending}, nil
}
func (fakeProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	return &provider.PaymentResponse{Success: true, Status: provider.StatusSuccessful}, nil
}
func (fakeProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	return &provider.PaymentResponse{Success: true, Status: provider.StatusSuccessful}, nil
}
func (fakeProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	return &provider.PaymentResponse{Success: true, Status: provider.StatusCaptured}, nil
}
func (fakeProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	return &provider.PaymentResponse{Success: true, Status: provider.StatusCancelled}, nil
}
func (fakeProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	return &provider.RefundResponse{Success: true, Status: "refunded"}, nil
}
func (fakeProvider) ValidateWebhook(ctx context.Context, data, headers map[string]string) (bool, map[string]string, error) {
	return true, nil, nil
}

func init() {
	provider.Register("fakepay", func() provider.PaymentProvider { return fakeProvider{} })
}

func newConfigTestRouter() chi.Router {
	providerConfig := config.NewProviderConfig(nil)
	paymentService := provider.NewPaymentService(providerConfig, nil, provider.NewCallbackEncryptor("test-secret"))
	h := NewConfigHandler(providerConfig, paymentService, validate.New())

	r := chi.NewRouter()
	r.Get("/config/providers", h.GetProviders)
	r.Get("/config/providers/{provider}", h.GetRequiredConfig)
	r.Get("/config/stats", h.GetStats)
	r.Post("/config/tenant", h.SetTenantConfig)
	r.Get("/config/tenant", h.GetTenantConfig)
	r.Delete("/config/tenant", h.DeleteTenantConfig)
	return r
}

func TestConfigHandler_SetTenantConfig(t *testing.T) {
	tests := []struct {
		name           string
		tenantID       string
		body           string
		expectedStatus int
	}{
		{
			name:           "valid config",
			tenantID:       "1",
			body:           `{"provider": "fakepay", "config": {"apiKey": "key-123", "environment": "sandbox"}}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing tenant header",
			body:           `{"provider": "fakepay", "config": {"apiKey": "key-123"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown provider",
			tenantID:       "1",
			body:           `{"provider": "acmebank", "config": {"apiKey": "key-123"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "config fails provider validation",
			tenantID:       "1",
			body:           `{"provider": "fakepay", "config": {"environment": "sandbox"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing config",
			tenantID:       "1",
			body:           `{"provider": "fakepay"}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newConfigTestRouter()
			req := httptest.NewRequest("POST", "/config/tenant", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.tenantID != "" {
				req.Header.Set("X-Tenant-ID", tt.tenantID)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d, body: %s", w.Code, tt.expectedStatus, w.Body.String())
			}
		})
	}
}

func TestConfigHandler_GetTenantConfig_MasksSecrets(t *testing.T) {
	r := newConfigTestRouter()

	body := `{"provider": "fakepay", "config": {"apiKey": "verysecretapikey", "environment": "sandbox"}}`
	req := httptest.NewRequest("POST", "/config/tenant", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("setup failed: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/config/tenant?provider=fakepay", nil)
	req.Header.Set("X-Tenant-ID", "1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			Config map[string]string `json:"config"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if got := resp.Data.Config["apiKey"]; got != "very****ikey" {
		t.Errorf("apiKey = %q, want masked value", got)
	}
	if resp.Data.Config["environment"] != "sandbox" {
		t.Errorf("environment = %q, want sandbox in clear", resp.Data.Config["environment"])
	}
}

func TestConfigHandler_GetTenantConfig_NotFound(t *testing.T) {
	r := newConfigTestRouter()

	req := httptest.NewRequest("GET", "/config/tenant?provider=fakepay", nil)
	req.Header.Set("X-Tenant-ID", "99")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConfigHandler_DeleteTenantConfig(t *testing.T) {
	r := newConfigTestRouter()

	body := `{"provider": "fakepay", "config": {"apiKey": "key-123", "environment": "sandbox"}}`
	req := httptest.NewRequest("POST", "/config/tenant", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "3")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("setup failed: %d", w.Code)
	}

	req = httptest.NewRequest("DELETE", "/config/tenant?provider=fakepay", nil)
	req.Header.Set("X-Tenant-ID", "3")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/config/tenant?provider=fakepay", nil)
	req.Header.Set("X-Tenant-ID", "3")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("config still readable after delete: %d", w.Code)
	}
}

func TestConfigHandler_GetProviders(t *testing.T) {
	r := newConfigTestRouter()

	req := httptest.NewRequest("GET", "/config/providers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data map[string][]provider.ConfigField `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	fields, ok := resp.Data["fakepay"]
	if !ok {
		t.Fatal("fakepay missing from provider list")
	}
	if len(fields) != 2 {
		t.Errorf("fakepay fields = %d, want 2", len(fields))
	}
}

func TestConfigHandler_GetRequiredConfig(t *testing.T) {
	r := newConfigTestRouter()

	req := httptest.NewRequest("GET", "/config/providers/fakepay", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/config/providers/acmebank", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", w.Code)
	}
}

func TestMaskSensitiveConfig(t *testing.T) {
	masked := maskSensitiveConfig(map[string]string{
		"apiKey":      "1234567890abcdef",
		"password":    "short",
		"merchantId":  "M-100",
		"environment": "production",
	})

	if masked["apiKey"] != "1234****cdef" {
		t.Errorf("apiKey = %q", masked["apiKey"])
	}
	if masked["password"] != "****" {
		t.Errorf("password = %q, want fully masked", masked["password"])
	}
	if masked["merchantId"] != "M-100" || masked["environment"] != "production" {
		t.Error("non-sensitive fields must pass through unmodified")
	}
}
