package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/infra/response"
	"github.com/commercekit/paygate/provider"
)

// ConfigHandler handles configuration related HTTP requests
type ConfigHandler struct {
	providerConfig *config.ProviderConfig
	paymentService *provider.PaymentService
	validate       *validator.Validate
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(providerConfig *config.ProviderConfig, paymentService *provider.PaymentService, validate *validator.Validate) *ConfigHandler {
	return &ConfigHandler{
		providerConfig: providerConfig,
		paymentService: paymentService,
		validate:       validate,
	}
}

// SetConfigRequest carries a provider configuration for one tenant.
type SetConfigRequest struct {
	Provider string            `json:"provider" validate:"required"`
	Config   map[string]string `json:"config" validate:"required"`
}

func tenantIDFromHeader(r *http.Request) (int, bool) {
	tenantID, err := strconv.Atoi(r.Header.Get("X-Tenant-ID"))
	return tenantID, err == nil && tenantID > 0
}

// SetTenantConfig stores a provider configuration for the requesting
// tenant after validating it against the provider's requirements.
func (h *ConfigHandler) SetTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromHeader(r)
	if !ok {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required", nil)
		return
	}

	var req SetConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	providerName := strings.ToLower(req.Provider)
	p, err := provider.CreateProvider(providerName)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Unknown provider", err)
		return
	}
	if req.Config["environment"] == "" {
		req.Config["environment"] = "sandbox"
	}
	if err := p.ValidateConfig(req.Config); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid provider configuration", err)
		return
	}

	if err := h.providerConfig.SetTenantConfig(tenantID, providerName, req.Config); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to save configuration", err)
		return
	}

	// Drop cached provider instances built from the previous config.
	h.paymentService.InvalidateProvider(tenantID, providerName, "sandbox")
	h.paymentService.InvalidateProvider(tenantID, providerName, "production")

	response.Success(w, http.StatusOK, "Configuration updated", map[string]any{
		"tenantId": tenantID,
		"provider": providerName,
	})
}

// GetTenantConfig returns the configuration for a specific tenant and provider
func (h *ConfigHandler) GetTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromHeader(r)
	if !ok {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required", nil)
		return
	}

	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		response.Error(w, http.StatusBadRequest, "provider query parameter is required", nil)
		return
	}

	conf, err := h.providerConfig.GetTenantConfig(tenantID, providerName)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Configuration not found", err)
		return
	}

	response.Success(w, http.StatusOK, "Configuration retrieved", map[string]any{
		"tenantId": tenantID,
		"provider": providerName,
		"config":   maskSensitiveConfig(conf),
	})
}

// DeleteTenantConfig deletes a tenant configuration
func (h *ConfigHandler) DeleteTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromHeader(r)
	if !ok {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required", nil)
		return
	}

	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		response.Error(w, http.StatusBadRequest, "provider query parameter is required", nil)
		return
	}

	if err := h.providerConfig.DeleteTenantConfig(tenantID, providerName); err != nil {
		response.Error(w, http.StatusNotFound, "Failed to delete configuration", err)
		return
	}

	h.paymentService.InvalidateProvider(tenantID, providerName, "sandbox")
	h.paymentService.InvalidateProvider(tenantID, providerName, "production")

	response.Success(w, http.StatusOK, "Configuration deleted", map[string]any{
		"tenantId": tenantID,
		"provider": providerName,
	})
}

// GetProviders lists the registered providers and, per provider, the
// configuration fields it requires.
func (h *ConfigHandler) GetProviders(w http.ResponseWriter, r *http.Request) {
	environment := r.URL.Query().Get("environment")
	if environment == "" {
		environment = "sandbox"
	}

	names := provider.DefaultRegistry.GetProviderNames()
	providers := make(map[string][]provider.ConfigField, len(names))
	for _, name := range names {
		p, err := provider.CreateProvider(name)
		if err != nil {
			continue
		}
		providers[name] = p.GetRequiredConfig(environment)
	}

	response.Success(w, http.StatusOK, "Providers retrieved", providers)
}

// GetRequiredConfig returns the configuration fields one provider requires
func (h *ConfigHandler) GetRequiredConfig(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	p, err := provider.CreateProvider(providerName)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Unknown provider", err)
		return
	}

	environment := r.URL.Query().Get("environment")
	if environment == "" {
		environment = "sandbox"
	}

	response.Success(w, http.StatusOK, "Required configuration retrieved", p.GetRequiredConfig(environment))
}

// GetStats returns configuration store and provider cache statistics
func (h *ConfigHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.providerConfig.GetStats()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to get statistics", err)
		return
	}
	stats["provider_cache"] = h.paymentService.CacheStats()

	response.Success(w, http.StatusOK, "Statistics retrieved", stats)
}

// maskSensitiveConfig hides key material in responses.
func maskSensitiveConfig(conf map[string]string) map[string]string {
	masked := make(map[string]string, len(conf))
	for key, value := range conf {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "key") || strings.Contains(lower, "password") || strings.Contains(lower, "secret") {
			if len(value) > 8 {
				masked[key] = value[:4] + "****" + value[len(value)-4:]
			} else {
				masked[key] = "****"
			}
		} else {
			masked[key] = value
		}
	}
	return masked
}
