package stripe

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/commercekit/paygate/provider"
)

func newTestProvider(t *testing.T) *StripeProvider {
	t.Helper()
	p := NewProvider().(*StripeProvider)
	err := p.Initialize(map[string]string{
		"secretKey":     "sk_test_123",
		"publicKey":     "pk_test_123",
		"webhookSecret": "whsec_123",
		"environment":   "sandbox",
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return p
}

func TestStripeProvider_GetRequiredConfig(t *testing.T) {
	p := NewProvider().(*StripeProvider)
	fields := p.GetRequiredConfig("sandbox")

	if len(fields) != 5 {
		t.Fatalf("expected 5 config fields, got %d", len(fields))
	}
	required := map[string]bool{}
	for _, f := range fields {
		required[f.Key] = f.Required
	}
	if !required["secretKey"] || !required["environment"] {
		t.Error("secretKey and environment must be required")
	}
	if required["publicKey"] || required["webhookSecret"] || required["paymentAction"] {
		t.Error("publicKey, webhookSecret and paymentAction must be optional")
	}
}

func TestStripeProvider_ValidateConfig(t *testing.T) {
	p := NewProvider().(*StripeProvider)

	tests := []struct {
		name     string
		config   map[string]string
		wantErr  bool
		errorMsg string
	}{
		{
			name: "valid config",
			config: map[string]string{
				"secretKey":   "sk_test_123",
				"environment": "sandbox",
			},
			wantErr: false,
		},
		{
			name: "missing secretKey",
			config: map[string]string{
				"environment": "sandbox",
			},
			wantErr:  true,
			errorMsg: "secretKey",
		},
		{
			name: "invalid environment",
			config: map[string]string{
				"secretKey":   "sk_test_123",
				"environment": "live",
			},
			wantErr:  true,
			errorMsg: "environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateConfig(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStripeProvider_Initialize(t *testing.T) {
	p := NewProvider().(*StripeProvider)
	err := p.Initialize(map[string]string{
		"secretKey":   "sk_test_123",
		"environment": "sandbox",
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if p.paymentAction != actionSale {
		t.Errorf("default paymentAction = %q, want %q", p.paymentAction, actionSale)
	}
	if p.isProduction {
		t.Error("sandbox config must not be production")
	}
	if p.api == nil {
		t.Error("expected the API client to be initialized")
	}

	p = NewProvider().(*StripeProvider)
	err = p.Initialize(map[string]string{
		"secretKey":     "sk_live_123",
		"environment":   "production",
		"paymentAction": "Authorization",
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !p.isProduction {
		t.Error("production config must be production")
	}
	if p.paymentAction != actionAuthorization {
		t.Errorf("paymentAction = %q, want %q", p.paymentAction, actionAuthorization)
	}

	p = NewProvider().(*StripeProvider)
	err = p.Initialize(map[string]string{
		"secretKey":     "sk_test_123",
		"environment":   "sandbox",
		"paymentAction": "Order",
	})
	if err == nil {
		t.Error("expected error for unknown paymentAction")
	}

	p = NewProvider().(*StripeProvider)
	err = p.Initialize(map[string]string{"environment": "sandbox"})
	if err == nil {
		t.Error("expected error when secretKey is missing")
	}
}

func TestValidatePaymentRequest(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name     string
		request  provider.PaymentRequest
		errorMsg string
	}{
		{
			name: "missing payment method",
			request: provider.PaymentRequest{
				Amount:   decimal.NewFromFloat(10.00),
				Currency: "USD",
			},
			errorMsg: "payment method",
		},
		{
			name: "zero amount",
			request: provider.PaymentRequest{
				Currency: "USD",
				CardInfo: provider.CardInfo{Token: "pm_123"},
			},
			errorMsg: "amount",
		},
		{
			name: "missing currency",
			request: provider.PaymentRequest{
				Amount:   decimal.NewFromFloat(10.00),
				CardInfo: provider.CardInfo{Token: "pm_123"},
			},
			errorMsg: "currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.validatePaymentRequest(tt.request)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.errorMsg)
			}
		})
	}

	err := p.validatePaymentRequest(provider.PaymentRequest{
		Amount:   decimal.NewFromFloat(10.00),
		Currency: "USD",
		CardInfo: provider.CardInfo{Token: "pm_123"},
	})
	if err != nil {
		t.Errorf("unexpected error for a valid request: %v", err)
	}
}

func TestAddIntentMetadata(t *testing.T) {
	request := provider.PaymentRequest{
		OrderNumber: "PO-1001",
		Amount:      decimal.NewFromFloat(125.77),
		Currency:    "USD",
		Totals: provider.OrderTotals{
			Shipping: decimal.NewFromFloat(10.00),
			Tax:      decimal.NewFromFloat(15.76),
		},
		Items: []provider.OrderItem{
			{
				Code:          "SKU-1",
				Name:          "Widget",
				Quantity:      decimal.NewFromInt(3),
				ExtendedPrice: decimal.NewFromFloat(100.00),
			},
		},
	}

	result, err := reconcileOrder(request)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	params := &stripe.PaymentIntentParams{}
	addIntentMetadata(params, request, result)

	want := map[string]string{
		"order_number":     "PO-1001",
		"item_total":       "100.01",
		"shipping_total":   "10.00",
		"handling_total":   "0.00",
		"tax_total":        "15.76",
		"order_adjustment": "0.02",
	}
	for key, value := range want {
		if got := params.Metadata[key]; got != value {
			t.Errorf("metadata[%s] = %q, want %q", key, got, value)
		}
	}
	if _, ok := params.Metadata["shipping_discount"]; ok {
		t.Error("shipping_discount must be absent when nothing was discounted")
	}
}

func TestMapIntent(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name         string
		intent       *stripe.PaymentIntent
		wantSuccess  bool
		wantStatus   provider.PaymentStatus
		wantAmount   string
		wantRedirect string
	}{
		{
			name: "succeeded",
			intent: &stripe.PaymentIntent{
				ID:           "pi_1",
				Amount:       12577,
				Currency:     "usd",
				Status:       stripe.PaymentIntentStatusSucceeded,
				LatestCharge: &stripe.Charge{ID: "ch_1"},
			},
			wantSuccess: true,
			wantStatus:  provider.StatusSuccessful,
			wantAmount:  "125.77",
		},
		{
			name: "requires capture",
			intent: &stripe.PaymentIntent{
				ID:       "pi_2",
				Amount:   1200,
				Currency: "jpy",
				Status:   stripe.PaymentIntentStatusRequiresCapture,
			},
			wantSuccess: true,
			wantStatus:  provider.StatusAuthorized,
			wantAmount:  "1200",
		},
		{
			name: "requires action",
			intent: &stripe.PaymentIntent{
				ID:       "pi_3",
				Amount:   5000,
				Currency: "eur",
				Status:   stripe.PaymentIntentStatusRequiresAction,
				NextAction: &stripe.PaymentIntentNextAction{
					RedirectToURL: &stripe.PaymentIntentNextActionRedirectToURL{
						URL: "https://hooks.stripe.com/redirect/authenticate/src_1",
					},
				},
			},
			wantSuccess:  true,
			wantStatus:   provider.StatusPending,
			wantAmount:   "50",
			wantRedirect: "https://hooks.stripe.com/redirect/authenticate/src_1",
		},
		{
			name: "canceled",
			intent: &stripe.PaymentIntent{
				ID:       "pi_4",
				Amount:   5000,
				Currency: "usd",
				Status:   stripe.PaymentIntentStatusCanceled,
			},
			wantSuccess: false,
			wantStatus:  provider.StatusCancelled,
			wantAmount:  "50",
		},
		{
			name: "declined",
			intent: &stripe.PaymentIntent{
				ID:       "pi_5",
				Amount:   5000,
				Currency: "usd",
				Status:   stripe.PaymentIntentStatusRequiresPaymentMethod,
				LastPaymentError: &stripe.Error{
					Code: stripe.ErrorCodeCardDeclined,
					Msg:  "Your card was declined.",
				},
			},
			wantSuccess: false,
			wantStatus:  provider.StatusFailed,
			wantAmount:  "50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := p.mapIntent(tt.intent)
			if resp.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", resp.Success, tt.wantSuccess)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Amount.String() != tt.wantAmount {
				t.Errorf("Amount = %s, want %s", resp.Amount, tt.wantAmount)
			}
			if resp.RedirectURL != tt.wantRedirect {
				t.Errorf("RedirectURL = %q, want %q", resp.RedirectURL, tt.wantRedirect)
			}
			if resp.PaymentID != tt.intent.ID {
				t.Errorf("PaymentID = %q, want %q", resp.PaymentID, tt.intent.ID)
			}
		})
	}

	resp := p.mapIntent(&stripe.PaymentIntent{
		ID:           "pi_1",
		Amount:       12577,
		Currency:     "usd",
		Status:       stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{ID: "ch_1"},
	})
	if resp.TransactionID != "ch_1" {
		t.Errorf("TransactionID = %q, want ch_1", resp.TransactionID)
	}
	if resp.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", resp.Currency)
	}
}

func TestCancellationReason(t *testing.T) {
	if got := cancellationReason("fraudulent"); got != "fraudulent" {
		t.Errorf("cancellationReason(fraudulent) = %q", got)
	}
	if got := cancellationReason("changed my mind"); got != "requested_by_customer" {
		t.Errorf("cancellationReason free-form = %q, want requested_by_customer", got)
	}
	if got := cancellationReason(""); got != "requested_by_customer" {
		t.Errorf("cancellationReason empty = %q, want requested_by_customer", got)
	}
}
