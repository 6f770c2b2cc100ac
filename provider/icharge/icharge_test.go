package icharge

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/provider"
)

func newTestProvider(t *testing.T, extra map[string]string) *IChargeProvider {
	t.Helper()
	conf := map[string]string{
		"merchantLogin":    "merchant1",
		"merchantPassword": "secret",
		"gateway":          "authorizenet",
		"environment":      "sandbox",
	}
	for k, v := range extra {
		conf[k] = v
	}
	p := NewProvider().(*IChargeProvider)
	if err := p.Initialize(conf); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return p
}

func TestIChargeProvider_GetRequiredConfig(t *testing.T) {
	p := NewProvider().(*IChargeProvider)

	result := p.GetRequiredConfig("sandbox")
	if len(result) != 6 {
		t.Fatalf("GetRequiredConfig() returned %d fields, want 6", len(result))
	}

	expectedFields := []string{"merchantLogin", "merchantPassword", "gateway", "gatewayUrl", "paymentAction", "environment"}
	for i, field := range result {
		if field.Key != expectedFields[i] {
			t.Errorf("Expected field %s, got %s", expectedFields[i], field.Key)
		}
		required := field.Key == "merchantLogin" || field.Key == "merchantPassword" ||
			field.Key == "gateway" || field.Key == "environment"
		if field.Required != required {
			t.Errorf("Field %s required = %v, want %v", field.Key, field.Required, required)
		}
	}
}

func TestIChargeProvider_ValidateConfig(t *testing.T) {
	p := NewProvider().(*IChargeProvider)

	tests := []struct {
		name        string
		config      map[string]string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			config: map[string]string{
				"merchantLogin":    "merchant1",
				"merchantPassword": "secret",
				"gateway":          "authorizenet",
				"environment":      "sandbox",
			},
			expectError: false,
		},
		{
			name: "missing merchantLogin",
			config: map[string]string{
				"merchantPassword": "secret",
				"gateway":          "authorizenet",
				"environment":      "sandbox",
			},
			expectError: true,
			errorMsg:    "required field 'merchantLogin' is missing",
		},
		{
			name: "unknown gateway",
			config: map[string]string{
				"merchantLogin":    "merchant1",
				"merchantPassword": "secret",
				"gateway":          "acmebank",
				"environment":      "sandbox",
			},
			expectError: true,
			errorMsg:    "unsupported gateway",
		},
		{
			name: "invalid environment",
			config: map[string]string{
				"merchantLogin":    "merchant1",
				"merchantPassword": "secret",
				"gateway":          "authorizenet",
				"environment":      "live",
			},
			expectError: true,
			errorMsg:    "environment must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateConfig(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("ValidateConfig() expected error, got nil")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("ValidateConfig() error = %v, want containing %q", err, tt.errorMsg)
				}
			} else if err != nil {
				t.Errorf("ValidateConfig() unexpected error = %v", err)
			}
		})
	}
}

func TestIChargeProvider_Initialize(t *testing.T) {
	p := newTestProvider(t, nil)
	if p.gatewayURL != "https://secure2.authorize.net/gateway/transact.dll" {
		t.Errorf("gatewayURL = %s, want the gateway default", p.gatewayURL)
	}

	// Gateway names are matched case insensitively like the enum they
	// descend from.
	p = newTestProvider(t, map[string]string{"gateway": "SagePay", "gatewayUrl": "https://live.sagepay.example"})
	if p.gateway != "sagepay" {
		t.Errorf("gateway = %s, want sagepay", p.gateway)
	}

	// No default endpoint and no override is a configuration error.
	conf := map[string]string{
		"merchantLogin":    "merchant1",
		"merchantPassword": "secret",
		"gateway":          "sagepay",
		"environment":      "sandbox",
	}
	bad := NewProvider().(*IChargeProvider)
	err := bad.Initialize(conf)
	if err == nil || !strings.Contains(err.Error(), "gatewayUrl is required") {
		t.Errorf("Initialize() without endpoint error = %v", err)
	}
}

func TestPassthroughFields(t *testing.T) {
	p := newTestProvider(t, map[string]string{"x_Trans_Key": "tkey123"})

	form := p.baseForm(txnSale)
	if form["x_Trans_Key"] != "tkey123" {
		t.Errorf("x_Trans_Key = %q, want passthrough value", form["x_Trans_Key"])
	}
	if form["MerchantLogin"] != "merchant1" || form["MerchantPassword"] != "secret" {
		t.Error("credentials missing from the form")
	}
	if form["TestMode"] != "1" {
		t.Error("sandbox requests should carry the test flag")
	}

	p = newTestProvider(t, map[string]string{
		"gateway":         "sagepay",
		"gatewayUrl":      "https://live.sagepay.example",
		"RelatedTXAuthNo": "987",
	})
	form = p.baseForm(txnRefund)
	if form["RelatedTXAuthNo"] != "987" {
		t.Errorf("RelatedTXAuthNo = %q, want passthrough value", form["RelatedTXAuthNo"])
	}

	p = newTestProvider(t, map[string]string{"gateway": "jetpay", "gatewayUrl": "https://jetpay.example"})
	form = p.baseForm(txnSale)
	if form["TerminalId"] != "merchant1" {
		t.Errorf("TerminalId = %q, want the merchant login", form["TerminalId"])
	}
}

func TestFormatAmount(t *testing.T) {
	decimalGateway := newTestProvider(t, nil)
	centsGateway := newTestProvider(t, map[string]string{"gateway": "adyen", "gatewayUrl": "https://pal.adyen.example"})

	tests := []struct {
		provider *IChargeProvider
		amount   string
		currency string
		want     string
	}{
		{decimalGateway, "125.77", "USD", "125.77"},
		{decimalGateway, "125", "USD", "125.00"},
		{decimalGateway, "1200", "JPY", "1200"},
		{centsGateway, "125.77", "USD", "12577"},
		{centsGateway, "0.05", "EUR", "005"},
		{centsGateway, "1200", "JPY", "1200"},
	}
	for _, tt := range tests {
		got := tt.provider.formatAmount(decimal.RequireFromString(tt.amount), tt.currency)
		if got != tt.want {
			t.Errorf("formatAmount(%s %s) = %q, want %q", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestMapResponse(t *testing.T) {
	p := newTestProvider(t, nil)

	approved := gatewayResponse{"approved": "1", "approvalcode": "AB1234", "transactionid": "t-900"}
	resp := p.mapResponse(approved, "pay-1", decimal.RequireFromString("50.00"), "USD", provider.StatusAuthorized)
	if !resp.Success || resp.Status != provider.StatusAuthorized {
		t.Errorf("approved response mapped to %+v", resp)
	}
	if resp.TransactionID != "t-900" {
		t.Errorf("TransactionID = %s", resp.TransactionID)
	}
	if !strings.Contains(resp.Message, "AB1234") {
		t.Errorf("Message = %q, want approval code", resp.Message)
	}

	// Capture and void report their own terminal state on approval.
	for _, successStatus := range []provider.PaymentStatus{provider.StatusCaptured, provider.StatusCancelled} {
		resp = p.mapResponse(approved, "pay-1", decimal.RequireFromString("50.00"), "USD", successStatus)
		if resp.Status != successStatus {
			t.Errorf("Status = %s, want %s", resp.Status, successStatus)
		}
	}

	declined := gatewayResponse{"approved": "false", "code": "05", "text": "Do not honor"}
	resp = p.mapResponse(declined, "pay-2", decimal.RequireFromString("50.00"), "USD", provider.StatusAuthorized)
	if resp.Success || resp.Status != provider.StatusFailed {
		t.Errorf("declined response mapped to %+v", resp)
	}
	if resp.ErrorCode != "05" || !strings.Contains(resp.Message, "Do not honor") {
		t.Errorf("declined response = %+v", resp)
	}
}

func TestSupportedGateways(t *testing.T) {
	names := SupportedGateways()
	if len(names) != len(gatewayProfiles) {
		t.Fatalf("SupportedGateways() returned %d names, want %d", len(names), len(gatewayProfiles))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %s before %s", names[i-1], names[i])
		}
	}
}
