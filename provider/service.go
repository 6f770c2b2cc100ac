package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/commercekit/paygate/infra/logger"
	"github.com/commercekit/paygate/infra/middle"
)

// ConfigSource supplies per-tenant provider configuration.
type ConfigSource interface {
	GetTenantConfig(tenantID int, providerName string) (map[string]string, error)
}

// PaymentService manages payment operations through various providers.
// It resolves the provider instance for the requesting tenant, audits
// every round-trip, and never lets audit failures break a payment.
type PaymentService struct {
	registry  *ProviderRegistry
	cache     ProviderCache
	configs   ConfigSource
	logger    PaymentLogger
	encryptor *CallbackEncryptor
}

// NewPaymentService creates a new payment service backed by the default
// provider registry.
func NewPaymentService(configs ConfigSource, auditLogger PaymentLogger, encryptor *CallbackEncryptor) *PaymentService {
	if auditLogger == nil {
		auditLogger = NopPaymentLogger{}
	}
	return &PaymentService{
		registry:  DefaultRegistry,
		cache:     NewProviderCache(256, time.Hour),
		configs:   configs,
		logger:    auditLogger,
		encryptor: encryptor,
	}
}

// getTenantIDFromContext extracts and validates tenant ID from context
func getTenantIDFromContext(ctx context.Context) (int, error) {
	tenantIDStr, ok := ctx.Value(middle.TenantIDKey).(string)
	if !ok || tenantIDStr == "" {
		return 0, fmt.Errorf("tenant ID not found in context")
	}

	tenantID, err := strconv.Atoi(tenantIDStr)
	if err != nil {
		return 0, fmt.Errorf("invalid tenant ID format '%s': %v", tenantIDStr, err)
	}

	return tenantID, nil
}

// resolveProvider returns an initialized provider instance for the
// tenant, from cache when possible.
func (s *PaymentService) resolveProvider(tenantID int, providerName, environment string) (PaymentProvider, error) {
	if p := s.cache.Get(tenantID, providerName, environment); p != nil {
		return p, nil
	}

	conf, err := s.configs.GetTenantConfig(tenantID, providerName)
	if err != nil {
		return nil, fmt.Errorf("no configuration for tenant %d provider %s: %w", tenantID, providerName, err)
	}
	if conf["environment"] == "" {
		conf["environment"] = environment
	}

	p, err := s.registry.CreateProvider(providerName)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(conf); err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", providerName, err)
	}

	s.cache.Set(tenantID, providerName, environment, p)
	return p, nil
}

// InvalidateProvider drops a cached provider instance after its tenant
// configuration changed.
func (s *PaymentService) InvalidateProvider(tenantID int, providerName, environment string) {
	s.cache.Delete(tenantID, providerName, environment)
}

// CacheStats exposes provider cache metrics for the health endpoint.
func (s *PaymentService) CacheStats() CacheStats {
	return s.cache.Stats()
}

// audit wraps a provider call with request/response logging. Audit
// failures are logged and swallowed.
func (s *PaymentService) audit(ctx context.Context, tenantID int, providerName, method, endpoint string, request any, userAgent, clientIP string) (int64, time.Time) {
	startTime := time.Now()
	logID, err := s.logger.LogRequest(ctx, tenantID, providerName, method, endpoint, request, userAgent, clientIP)
	if err != nil {
		logger.Warn("Failed to log payment request", logger.LogContext{
			Provider: providerName,
			Fields:   map[string]any{"error": err.Error()},
		})
	}
	return logID, startTime
}

func (s *PaymentService) auditResult(ctx context.Context, logID int64, providerName, errorCode string, startTime time.Time, response any, err error) {
	if logID <= 0 {
		return
	}
	processingMs := time.Since(startTime).Milliseconds()

	var logErr error
	if err != nil {
		logErr = s.logger.LogError(ctx, logID, errorCode, err.Error(), processingMs)
	} else {
		logErr = s.logger.LogResponse(ctx, logID, response, processingMs)
	}
	if logErr != nil {
		logger.Warn("Failed to log payment result", logger.LogContext{
			Provider: providerName,
			Fields:   map[string]any{"log_id": logID, "error": logErr.Error()},
		})
	}
}

// CreatePayment processes a payment using the specified provider
func (s *PaymentService) CreatePayment(ctx context.Context, environment, providerName string, request PaymentRequest) (*PaymentResponse, error) {
	tenantID, err := getTenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	request.TenantID = tenantID
	request.Environment = environment
	p, err := s.resolveProvider(tenantID, providerName, environment)
	if err != nil {
		return nil, err
	}

	endpoint := "/payment"
	if request.Use3D {
		endpoint = "/payment/3d"
	}
	logID, startTime := s.audit(ctx, tenantID, providerName, "POST", endpoint, request, request.ClientUserAgent, request.ClientIP)
	request.LogID = logID

	var response *PaymentResponse
	if request.Use3D {
		response, err = p.Create3DPayment(ctx, request)
	} else {
		response, err = p.CreatePayment(ctx, request)
	}

	s.auditResult(ctx, logID, providerName, "PROVIDER_ERROR", startTime, response, err)
	return response, err
}

// Complete3DPayment completes a redirect payment after user authentication
func (s *PaymentService) Complete3DPayment(ctx context.Context, providerName, state string, data map[string]string) (*PaymentResponse, error) {
	callbackState, err := s.encryptor.DecryptState(state)
	if err != nil {
		return nil, err
	}

	p, err := s.resolveProvider(callbackState.TenantID, providerName, callbackState.Environment)
	if err != nil {
		return nil, err
	}

	logID, startTime := s.audit(ctx, callbackState.TenantID, providerName, "POST", "/payment/3d/complete", data, "", callbackState.ClientIP)

	response, err := p.Complete3DPayment(ctx, callbackState, data)
	if response != nil && response.RedirectURL == "" {
		// Send the shopper back to the merchant page that started the flow.
		response.RedirectURL = callbackState.OriginalCallback
	}

	s.auditResult(ctx, logID, providerName, "3D_COMPLETION_ERROR", startTime, response, err)
	return response, err
}

// GetPaymentStatus retrieves the current status of a payment
func (s *PaymentService) GetPaymentStatus(ctx context.Context, environment, providerName string, request GetPaymentStatusRequest) (*PaymentResponse, error) {
	tenantID, err := getTenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveProvider(tenantID, providerName, environment)
	if err != nil {
		return nil, err
	}

	logID, startTime := s.audit(ctx, tenantID, providerName, "GET", "/payment/status", request, "", "")
	request.LogID = logID

	response, err := p.GetPaymentStatus(ctx, request)

	s.auditResult(ctx, logID, providerName, "STATUS_ERROR", startTime, response, err)
	return response, err
}

// CapturePayment settles a previously authorized payment
func (s *PaymentService) CapturePayment(ctx context.Context, environment, providerName string, request CaptureRequest) (*PaymentResponse, error) {
	tenantID, err := getTenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveProvider(tenantID, providerName, environment)
	if err != nil {
		return nil, err
	}

	logID, startTime := s.audit(ctx, tenantID, providerName, "POST", "/payment/capture", request, "", "")
	request.LogID = logID

	response, err := p.CapturePayment(ctx, request)

	s.auditResult(ctx, logID, providerName, "CAPTURE_ERROR", startTime, response, err)
	return response, err
}

// CancelPayment voids an authorization
func (s *PaymentService) CancelPayment(ctx context.Context, environment, providerName string, request CancelRequest) (*PaymentResponse, error) {
	tenantID, err := getTenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveProvider(tenantID, providerName, environment)
	if err != nil {
		return nil, err
	}

	logID, startTime := s.audit(ctx, tenantID, providerName, "POST", "/payment/cancel", request, "", "")
	request.LogID = logID

	response, err := p.CancelPayment(ctx, request)

	s.auditResult(ctx, logID, providerName, "CANCEL_ERROR", startTime, response, err)
	return response, err
}

// RefundPayment issues a refund for a payment
func (s *PaymentService) RefundPayment(ctx context.Context, environment, providerName string, request RefundRequest) (*RefundResponse, error) {
	tenantID, err := getTenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveProvider(tenantID, providerName, environment)
	if err != nil {
		return nil, err
	}

	logID, startTime := s.audit(ctx, tenantID, providerName, "POST", "/payment/refund", request, "", "")
	request.LogID = logID

	response, err := p.RefundPayment(ctx, request)

	s.auditResult(ctx, logID, providerName, "REFUND_ERROR", startTime, response, err)
	return response, err
}

// ValidateWebhook validates an incoming webhook notification
func (s *PaymentService) ValidateWebhook(ctx context.Context, environment, providerName string, data, headers map[string]string) (bool, map[string]string, error) {
	tenantID, err := getTenantIDFromContext(ctx)
	if err != nil {
		return false, nil, err
	}
	p, err := s.resolveProvider(tenantID, providerName, environment)
	if err != nil {
		return false, nil, err
	}

	webhookData := map[string]any{"data": data, "headers": headers}
	logID, startTime := s.audit(ctx, tenantID, providerName, "POST", "/webhook", webhookData, "", "")

	valid, result, err := p.ValidateWebhook(ctx, data, headers)

	s.auditResult(ctx, logID, providerName, "WEBHOOK_ERROR", startTime, map[string]any{"valid": valid, "result": result}, err)
	return valid, result, err
}
