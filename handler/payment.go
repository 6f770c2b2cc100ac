package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/commercekit/paygate/infra/logger"
	"github.com/commercekit/paygate/infra/middle"
	"github.com/commercekit/paygate/infra/response"
	"github.com/commercekit/paygate/provider"
)

// maxWebhookBody bounds how much of a notification body is read.
const maxWebhookBody = 1 << 20

// PaymentServiceInterface defines the interface for payment operations
type PaymentServiceInterface interface {
	CreatePayment(ctx context.Context, environment, providerName string, request provider.PaymentRequest) (*provider.PaymentResponse, error)
	GetPaymentStatus(ctx context.Context, environment, providerName string, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error)
	CapturePayment(ctx context.Context, environment, providerName string, request provider.CaptureRequest) (*provider.PaymentResponse, error)
	CancelPayment(ctx context.Context, environment, providerName string, request provider.CancelRequest) (*provider.PaymentResponse, error)
	RefundPayment(ctx context.Context, environment, providerName string, request provider.RefundRequest) (*provider.RefundResponse, error)
	Complete3DPayment(ctx context.Context, providerName, state string, data map[string]string) (*provider.PaymentResponse, error)
	ValidateWebhook(ctx context.Context, environment, providerName string, data, headers map[string]string) (bool, map[string]string, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	paymentService PaymentServiceInterface
	validate       *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService PaymentServiceInterface, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		validate:       validate,
	}
}

// environmentFromRequest reads the environment query parameter,
// defaulting everything that is not production to sandbox.
func environmentFromRequest(r *http.Request) string {
	environment := r.URL.Query().Get("environment")
	if environment != "production" {
		environment = "sandbox"
	}
	return environment
}

// ProcessPayment handles payment requests
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req provider.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	req.ClientIP = middle.GetClientIP(r)
	req.ClientUserAgent = r.Header.Get("User-Agent")

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	providerName := chi.URLParam(r, "provider")
	if providerName == "" {
		response.Error(w, http.StatusBadRequest, "Provider parameter is required", nil)
		return
	}

	resp, err := h.paymentService.CreatePayment(ctx, environmentFromRequest(r), providerName, req)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Payment failed", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment processed", resp)
}

// GetPaymentStatus handles payment status requests
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return
	}

	resp, err := h.paymentService.GetPaymentStatus(ctx, environmentFromRequest(r), providerName, provider.GetPaymentStatusRequest{
		PaymentID: paymentID,
	})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to get payment status", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment status retrieved", resp)
}

// CapturePayment settles a previously authorized payment
func (h *PaymentHandler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return
	}

	var req provider.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	req.PaymentID = paymentID

	resp, err := h.paymentService.CapturePayment(ctx, environmentFromRequest(r), providerName, req)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to capture payment", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment captured", resp)
}

// CancelPayment handles payment cancellation requests
func (h *PaymentHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Continue with empty reason if parsing fails
		req.Reason = ""
	}

	resp, err := h.paymentService.CancelPayment(ctx, environmentFromRequest(r), providerName, provider.CancelRequest{
		PaymentID: paymentID,
		Reason:    req.Reason,
	})
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to cancel payment", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment cancelled", resp)
}

// RefundPayment handles payment refund requests
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")

	var req provider.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	resp, err := h.paymentService.RefundPayment(ctx, environmentFromRequest(r), providerName, req)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to refund payment", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment refunded", resp)
}

// HandleCallback completes a redirect payment when the shopper returns
// from the provider's hosted page.
func (h *PaymentHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")
	if providerName == "" {
		response.Error(w, http.StatusBadRequest, "Provider parameter is required", nil)
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		response.Error(w, http.StatusBadRequest, "Missing state", nil)
		return
	}

	// Combine form and query parameters
	_ = r.ParseForm()
	callbackData := make(map[string]string)
	for key, values := range r.Form {
		if len(values) > 0 {
			callbackData[key] = values[0]
		}
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			callbackData[key] = values[0]
		}
	}

	resp, err := h.paymentService.Complete3DPayment(ctx, providerName, state, callbackData)
	if err != nil {
		h.handleCallbackError(w, r, err)
		return
	}

	if resp.Success {
		h.redirectOrRespond(w, r, resp, "Payment completed successfully", url.Values{
			"success":       {"true"},
			"paymentId":     {resp.PaymentID},
			"status":        {string(resp.Status)},
			"transactionId": {resp.TransactionID},
			"amount":        {resp.Amount.String()},
			"currency":      {resp.Currency},
		})
	} else {
		h.redirectOrRespond(w, r, resp, "Payment failed", url.Values{
			"success":   {"false"},
			"paymentId": {resp.PaymentID},
			"status":    {string(resp.Status)},
			"error":     {resp.Message},
			"errorCode": {resp.ErrorCode},
		})
	}
}

// redirectOrRespond sends the shopper back to the merchant callback URL
// with the outcome attached, or answers with JSON when there is nowhere
// to redirect to.
func (h *PaymentHandler) redirectOrRespond(w http.ResponseWriter, r *http.Request, resp *provider.PaymentResponse, message string, params url.Values) {
	if resp.RedirectURL == "" {
		response.Success(w, http.StatusOK, message, resp)
		return
	}

	separator := "?"
	if strings.Contains(resp.RedirectURL, "?") {
		separator = "&"
	}
	http.Redirect(w, r, resp.RedirectURL+separator+params.Encode(), http.StatusFound)
}

func (h *PaymentHandler) handleCallbackError(w http.ResponseWriter, r *http.Request, err error) {
	if errorURL := r.URL.Query().Get("errorUrl"); errorURL != "" {
		params := url.Values{"error": {err.Error()}, "errorCode": {"CALLBACK_ERROR"}}
		http.Redirect(w, r, fmt.Sprintf("%s?%s", errorURL, params.Encode()), http.StatusFound)
		return
	}
	response.Error(w, http.StatusInternalServerError, "Failed to complete payment", err)
}

// HandleWebhook validates and processes provider notifications
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	providerName := chi.URLParam(r, "provider")
	if providerName == "" {
		response.Error(w, http.StatusBadRequest, "Provider parameter is required", nil)
		return
	}

	// Providers cannot send the tenant header; the notification URL
	// registered with them carries the tenant as a query parameter.
	if tenantID := r.URL.Query().Get("tenantId"); tenantID != "" {
		ctx = context.WithValue(ctx, middle.TenantIDKey, tenantID)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read webhook body", err)
		return
	}

	// Providers sign the exact bytes they sent; the raw body travels
	// under "_raw" next to the parsed fields.
	webhookData := map[string]string{"_raw": string(body)}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid form data", err)
			return
		}
		for key, vs := range values {
			if len(vs) > 0 {
				webhookData[key] = vs[0]
			}
		}
	} else if len(body) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON webhook data", err)
			return
		}
		for key, value := range fields {
			if s, ok := value.(string); ok {
				webhookData[key] = s
			}
		}
	}

	headers := make(map[string]string)
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	isValid, paymentData, err := h.paymentService.ValidateWebhook(ctx, environmentFromRequest(r), providerName, webhookData, headers)
	if err != nil {
		h.logWebhookError(providerName, "validation_failed", err)
		response.Error(w, http.StatusBadRequest, "Webhook validation failed", err)
		return
	}
	if !isValid {
		h.logWebhookError(providerName, "invalid_signature", errors.New("invalid webhook signature"))
		response.Error(w, http.StatusBadRequest, "Invalid webhook signature", nil)
		return
	}

	logger.Info("Webhook accepted", logger.LogContext{
		Provider: providerName,
		Fields: map[string]any{
			"payment_id": paymentData["paymentId"],
			"status":     paymentData["status"],
		},
	})

	response.Success(w, http.StatusOK, "Webhook received", map[string]string{
		"status":    "accepted",
		"paymentId": paymentData["paymentId"],
	})
}

func (h *PaymentHandler) logWebhookError(providerName, errorType string, err error) {
	logger.Error("Webhook processing error", err, logger.LogContext{
		Provider: providerName,
		Fields:   map[string]any{"error_type": errorType},
	})
}
