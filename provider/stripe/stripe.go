package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/money"
	"github.com/commercekit/paygate/provider"
	"github.com/commercekit/paygate/reconcile"
)

const (
	// Payment actions
	actionAuthorization = "Authorization"
	actionSale          = "Sale"
)

// refundReasons are the only values Stripe accepts for a refund reason;
// anything else travels in metadata.
var refundReasons = map[string]bool{
	"duplicate":             true,
	"fraudulent":            true,
	"requested_by_customer": true,
}

// StripeProvider implements the provider.PaymentProvider interface for
// Stripe PaymentIntents.
type StripeProvider struct {
	secretKey      string
	publicKey      string
	webhookSecret  string
	paymentAction  string
	gatewayBaseURL string
	isProduction   bool
	api            *client.API
}

// NewProvider creates a new Stripe payment provider
func NewProvider() provider.PaymentProvider {
	return &StripeProvider{}
}

// Initialize sets up the Stripe payment provider with authentication credentials
func (p *StripeProvider) Initialize(conf map[string]string) error {
	p.secretKey = conf["secretKey"]
	p.publicKey = conf["publicKey"]
	if p.secretKey == "" {
		return errors.New("stripe: secretKey is required")
	}

	p.webhookSecret = conf["webhookSecret"]

	p.paymentAction = conf["paymentAction"]
	if p.paymentAction == "" {
		p.paymentAction = actionSale
	}
	if p.paymentAction != actionAuthorization && p.paymentAction != actionSale {
		return fmt.Errorf("stripe: paymentAction must be %s or %s", actionAuthorization, actionSale)
	}

	if gatewayBaseURL, ok := conf["gatewayBaseURL"]; ok && gatewayBaseURL != "" {
		p.gatewayBaseURL = gatewayBaseURL
	} else {
		p.gatewayBaseURL = config.GetEnv("APP_URL", "http://localhost:9999")
	}

	// Stripe keys encode the environment; the same host serves both.
	p.isProduction = conf["environment"] == "production"

	p.api = &client.API{}
	p.api.Init(p.secretKey, nil)

	return nil
}

// GetRequiredConfig returns the configuration fields required for Stripe
func (p *StripeProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "secretKey",
			Required:    true,
			Type:        "string",
			Description: "Stripe secret key",
			Example:     "sk_test_...",
		},
		{
			Key:         "publicKey",
			Required:    false,
			Type:        "string",
			Description: "Stripe publishable key",
			Example:     "pk_test_...",
		},
		{
			Key:         "webhookSecret",
			Required:    false,
			Type:        "string",
			Description: "Webhook endpoint signing secret",
			Example:     "whsec_...",
		},
		{
			Key:         "paymentAction",
			Required:    false,
			Type:        "string",
			Description: "Authorization (capture later) or Sale (immediate settlement)",
			Example:     actionSale,
		},
		{
			Key:         "environment",
			Required:    true,
			Type:        "string",
			Description: "Environment (sandbox, test or production)",
			Example:     "sandbox",
			Pattern:     "^(sandbox|test|production)$",
		},
	}
}

// ValidateConfig validates the provided configuration against Stripe requirements
func (p *StripeProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("stripe", conf, p.GetRequiredConfig(conf["environment"]))
}

// CreatePayment confirms a PaymentIntent with an attached payment method
func (p *StripeProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return p.createIntent(ctx, request, false)
}

// Create3DPayment confirms a PaymentIntent requesting 3D Secure; the
// response carries the issuer redirect URL when authentication is needed.
func (p *StripeProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return p.createIntent(ctx, request, true)
}

// Complete3DPayment reads the intent state after the shopper returns
// from issuer authentication.
func (p *StripeProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	intentID := data["payment_intent"]
	if intentID == "" && state != nil {
		intentID = state.PaymentID
	}
	if intentID == "" {
		return nil, errors.New("stripe: callback is missing the payment intent id")
	}

	intent, err := p.api.PaymentIntents.Get(intentID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, wrapError("3D completion", err)
	}
	return p.mapIntent(intent), nil
}

// GetPaymentStatus retrieves the current status of a payment intent
func (p *StripeProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	if request.PaymentID == "" {
		return nil, errors.New("stripe: paymentId is required")
	}

	intent, err := p.api.PaymentIntents.Get(request.PaymentID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, wrapError("status lookup", err)
	}
	return p.mapIntent(intent), nil
}

// CapturePayment captures a manually-captured intent, up to the
// authorized amount
func (p *StripeProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	if request.PaymentID == "" {
		return nil, errors.New("stripe: paymentId is required for capture")
	}
	if request.Currency == "" {
		return nil, errors.New("stripe: currency is required for capture")
	}

	params := &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	}
	if request.Amount.IsPositive() {
		params.AmountToCapture = stripe.Int64(money.New(request.Amount, request.Currency).ToMinorUnits())
	}

	intent, err := p.api.PaymentIntents.Capture(request.PaymentID, params)
	if err != nil {
		return nil, wrapError("capture", err)
	}
	return p.mapIntent(intent), nil
}

// CancelPayment cancels an uncaptured payment intent
func (p *StripeProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	if request.PaymentID == "" {
		return nil, errors.New("stripe: paymentId is required for cancel")
	}

	params := &stripe.PaymentIntentCancelParams{
		Params:             stripe.Params{Context: ctx},
		CancellationReason: stripe.String(cancellationReason(request.Reason)),
	}

	intent, err := p.api.PaymentIntents.Cancel(request.PaymentID, params)
	if err != nil {
		return nil, wrapError("cancel", err)
	}
	return p.mapIntent(intent), nil
}

// RefundPayment refunds a captured payment intent, fully or partially
func (p *StripeProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	if request.PaymentID == "" {
		return nil, errors.New("stripe: paymentId is required for refund")
	}

	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(request.PaymentID),
	}
	if request.RefundAmount.IsPositive() {
		if request.Currency == "" {
			return nil, errors.New("stripe: currency is required for a partial refund")
		}
		params.Amount = stripe.Int64(money.New(request.RefundAmount, request.Currency).ToMinorUnits())
	}
	if request.Reason != "" {
		if refundReasons[request.Reason] {
			params.Reason = stripe.String(request.Reason)
		} else {
			params.AddMetadata("reason", request.Reason)
		}
	}

	refund, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, wrapError("refund", err)
	}

	now := time.Now()
	resp := &provider.RefundResponse{
		Success:     refund.Status == stripe.RefundStatusSucceeded || refund.Status == stripe.RefundStatusPending,
		RefundID:    refund.ID,
		PaymentID:   request.PaymentID,
		Status:      string(refund.Status),
		Message:     "refund " + string(refund.Status),
		SystemTime:  &now,
		RawResponse: refund,
	}
	if refund.Currency != "" {
		minor := decimal.NewFromInt(refund.Amount)
		places := money.DecimalPlaces(strings.ToUpper(string(refund.Currency)))
		resp.RefundAmount = minor.Shift(-places)
	}
	return resp, nil
}

// ValidateWebhook verifies the event signature against the endpoint's
// signing secret. The webhook handler passes the unmodified request
// body under the "_raw" key.
func (p *StripeProvider) ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error) {
	if p.webhookSecret == "" {
		return false, nil, errors.New("stripe: webhookSecret is not configured")
	}
	signature := headers["Stripe-Signature"]
	if signature == "" {
		return false, nil, errors.New("stripe: Stripe-Signature header is missing")
	}

	event, err := webhook.ConstructEvent([]byte(data["_raw"]), signature, p.webhookSecret)
	if err != nil {
		return false, nil, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}

	result := map[string]string{
		"eventId":   event.ID,
		"eventType": string(event.Type),
	}
	if intentID, ok := event.Data.Object["id"].(string); ok {
		result["paymentId"] = intentID
	}
	if status, ok := event.Data.Object["status"].(string); ok {
		result["status"] = status
	}
	return true, result, nil
}

func (p *StripeProvider) validatePaymentRequest(request provider.PaymentRequest) error {
	if !request.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if request.Currency == "" {
		return errors.New("currency is required")
	}
	if request.CardInfo.Token == "" {
		return errors.New("a payment method id is required")
	}
	return nil
}

func (p *StripeProvider) createIntent(ctx context.Context, request provider.PaymentRequest, force3D bool) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request); err != nil {
		return nil, fmt.Errorf("stripe: invalid payment request: %w", err)
	}
	result, err := reconcileOrder(request)
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}

	captureMethod := stripe.PaymentIntentCaptureMethodAutomatic
	if p.paymentAction == actionAuthorization {
		captureMethod = stripe.PaymentIntentCaptureMethodManual
	}

	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(money.New(request.Amount, request.Currency).ToMinorUnits()),
		Currency:      stripe.String(strings.ToLower(request.Currency)),
		PaymentMethod: stripe.String(request.CardInfo.Token),
		Confirm:       stripe.Bool(true),
		CaptureMethod: stripe.String(string(captureMethod)),
		ReturnURL:     stripe.String(fmt.Sprintf("%s/v1/callback/stripe", p.gatewayBaseURL)),
	}
	if request.Description != "" {
		params.Description = stripe.String(request.Description)
	}
	if request.Customer.Email != "" {
		params.ReceiptEmail = stripe.String(request.Customer.Email)
	}

	threeDSecure := "automatic"
	if force3D {
		threeDSecure = "any"
	}
	params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
		Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
			RequestThreeDSecure: stripe.String(threeDSecure),
		},
	}

	addIntentMetadata(params, request, result)

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapError("payment", err)
	}

	response := p.mapIntent(intent)
	response.OrderNumber = request.OrderNumber
	return response, nil
}

// addIntentMetadata records the reconciled order breakdown on the
// intent so settlement reports can be tied back to the order lines.
func addIntentMetadata(params *stripe.PaymentIntentParams, request provider.PaymentRequest, result *reconcile.Result) {
	if request.OrderNumber != "" {
		params.AddMetadata("order_number", request.OrderNumber)
	}
	params.AddMetadata("item_total", result.ItemTotal.Format())
	params.AddMetadata("shipping_total", result.Shipping.Format())
	params.AddMetadata("handling_total", result.Handling.Format())
	params.AddMetadata("tax_total", result.Tax.Format())
	if result.ShippingDiscount.IsNegative() {
		params.AddMetadata("shipping_discount", result.ShippingDiscount.Format())
	}
	for _, line := range result.Lines {
		if line.IsAdjustment() {
			params.AddMetadata("order_adjustment", line.UnitPrice.Format())
		}
	}
}

func reconcileOrder(request provider.PaymentRequest) (*reconcile.Result, error) {
	totals, items := request.OrderSnapshot()
	return reconcile.Reconcile(totals, items, reconcile.PolicyAdjustmentLine)
}

// mapIntent translates an intent into the common payment response.
func (p *StripeProvider) mapIntent(intent *stripe.PaymentIntent) *provider.PaymentResponse {
	now := time.Now()
	response := &provider.PaymentResponse{
		PaymentID:        intent.ID,
		Currency:         strings.ToUpper(string(intent.Currency)),
		SystemTime:       &now,
		ProviderResponse: intent,
	}
	places := money.DecimalPlaces(response.Currency)
	response.Amount = decimal.NewFromInt(intent.Amount).Shift(-places)
	if intent.LatestCharge != nil {
		response.TransactionID = intent.LatestCharge.ID
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		response.Success = true
		response.Status = provider.StatusSuccessful
		response.Message = "payment successful"
	case stripe.PaymentIntentStatusRequiresCapture:
		response.Success = true
		response.Status = provider.StatusAuthorized
		response.Message = "payment authorized, awaiting capture"
	case stripe.PaymentIntentStatusProcessing:
		response.Success = true
		response.Status = provider.StatusProcessing
		response.Message = "payment is being processed"
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		response.Success = true
		response.Status = provider.StatusPending
		response.Message = "payment requires additional action"
		if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
			response.RedirectURL = intent.NextAction.RedirectToURL.URL
		}
	case stripe.PaymentIntentStatusCanceled:
		response.Status = provider.StatusCancelled
		response.Message = "payment was cancelled"
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		response.Status = provider.StatusFailed
		response.Message = "payment failed, a new payment method is required"
		if intent.LastPaymentError != nil {
			response.ErrorCode = string(intent.LastPaymentError.Code)
			response.Message = intent.LastPaymentError.Msg
		}
	default:
		response.Status = provider.StatusPending
		response.Message = fmt.Sprintf("payment status: %s", intent.Status)
	}
	return response
}

// cancellationReason maps free-form reasons onto the values the API
// accepts, defaulting to a customer request.
func cancellationReason(reason string) string {
	switch reason {
	case "duplicate", "fraudulent", "requested_by_customer", "abandoned":
		return reason
	}
	return "requested_by_customer"
}

// wrapError unwraps the structured API error when there is one.
func wrapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe: %s failed: %s (%s)", op, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("stripe: %s failed: %w", op, err)
}
