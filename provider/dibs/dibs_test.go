package dibs

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/provider"
)

func newTestProvider(t *testing.T) *DIBSProvider {
	t.Helper()
	p := NewProvider().(*DIBSProvider)
	err := p.Initialize(map[string]string{
		"merchantId":  "123456",
		"hmacKey":     "6d795f686d61635f6b6579",
		"md5Key1":     "key1",
		"md5Key2":     "key2",
		"environment": "sandbox",
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return p
}

func TestDIBSProvider_GetRequiredConfig(t *testing.T) {
	p := NewProvider().(*DIBSProvider)

	tests := []struct {
		name        string
		environment string
		expected    int
	}{
		{"sandbox environment", "sandbox", 5},
		{"production environment", "production", 5},
		{"test environment", "test", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := p.GetRequiredConfig(tt.environment)
			if len(result) != tt.expected {
				t.Errorf("GetRequiredConfig() returned %d fields, want %d", len(result), tt.expected)
			}

			expectedFields := []string{"merchantId", "hmacKey", "md5Key1", "md5Key2", "environment"}
			for i, field := range result {
				if field.Key != expectedFields[i] {
					t.Errorf("Expected field %s, got %s", expectedFields[i], field.Key)
				}
				// Only merchantId and environment are unconditionally
				// required, the signing keys are alternatives.
				required := field.Key == "merchantId" || field.Key == "environment"
				if field.Required != required {
					t.Errorf("Field %s required = %v, want %v", field.Key, field.Required, required)
				}
			}
		})
	}
}

func TestDIBSProvider_ValidateConfig(t *testing.T) {
	p := NewProvider().(*DIBSProvider)

	tests := []struct {
		name        string
		config      map[string]string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config with hmac key",
			config: map[string]string{
				"merchantId":  "90012345",
				"hmacKey":     "23caa57a68a8b3101b9a2b41b74b5f379325a7bd2bc4a2b7f6d8e1a2b3c4d5e6",
				"environment": "production",
			},
			expectError: false,
		},
		{
			name: "valid config with md5 key pair",
			config: map[string]string{
				"merchantId":  "90012345",
				"md5Key1":     "first-key",
				"md5Key2":     "second-key",
				"environment": "sandbox",
			},
			expectError: false,
		},
		{
			name: "missing merchantId",
			config: map[string]string{
				"hmacKey":     "23caa57a68a8b3101b9a2b41",
				"environment": "sandbox",
			},
			expectError: true,
			errorMsg:    "required field 'merchantId' is missing",
		},
		{
			name: "missing signing keys",
			config: map[string]string{
				"merchantId":  "90012345",
				"environment": "sandbox",
			},
			expectError: true,
			errorMsg:    "hmacKey or both md5Key1 and md5Key2",
		},
		{
			name: "md5 key pair incomplete",
			config: map[string]string{
				"merchantId":  "90012345",
				"md5Key1":     "first-key",
				"environment": "sandbox",
			},
			expectError: true,
			errorMsg:    "hmacKey or both md5Key1 and md5Key2",
		},
		{
			name: "invalid environment",
			config: map[string]string{
				"merchantId":  "90012345",
				"hmacKey":     "23caa57a68a8b3101b9a2b41",
				"environment": "staging",
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

func TestDIBSProvider_Initialize(t *testing.T) {
	p := NewProvider().(*DIBSProvider)

	err := p.Initialize(map[string]string{"hmacKey": "abcd", "environment": "sandbox"})
	if err == nil || !strings.Contains(err.Error(), "merchantId is required") {
		t.Errorf("Initialize() without merchantId error = %v", err)
	}

	err = p.Initialize(map[string]string{"merchantId": "123456", "environment": "sandbox"})
	if err == nil || !strings.Contains(err.Error(), "hmacKey or both md5Key1 and md5Key2") {
		t.Errorf("Initialize() without signing keys error = %v", err)
	}

	// A hex-encoded key is decoded before use.
	p = NewProvider().(*DIBSProvider)
	if err := p.Initialize(map[string]string{
		"merchantId":  "123456",
		"hmacKey":     "6d795f686d61635f6b6579",
		"environment": "production",
	}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if string(p.hmacKey) != "my_hmac_key" {
		t.Errorf("hmacKey = %q, want decoded %q", p.hmacKey, "my_hmac_key")
	}
	if !p.isProduction {
		t.Error("isProduction = false for production environment")
	}
}

func TestMinorUnitAmounts(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"125.75", "USD", "12575"},
		{"1200", "JPY", "1200"},
		{"0.01", "EUR", "1"},
		{"999.99", "SEK", "99999"},
	}

	for _, tt := range tests {
		amount, _ := decimal.NewFromString(tt.amount)
		if got := minorUnits(amount, tt.currency); got != tt.want {
			t.Errorf("minorUnits(%s %s) = %s, want %s", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestMD5Keys(t *testing.T) {
	p := newTestProvider(t)

	if got := p.md5RequestKey("123456", "PO-1001", "USD", "12575"); got != "5853a1bcc0d8580b1ebcd2d884450cc7" {
		t.Errorf("md5RequestKey() = %s", got)
	}
	if got := p.md5ResponseKey("987654321", "12575", "USD"); got != "e459757ba5b49f5ff00b5033db44d8f0" {
		t.Errorf("md5ResponseKey() = %s", got)
	}
	if got := p.md5RefundKey("123456", "PO-1001", "987654321", "12575"); got != "3706df48062328613a0a89cec4d1f809" {
		t.Errorf("md5RefundKey() = %s", got)
	}
}

func TestComputeMAC(t *testing.T) {
	p := newTestProvider(t)

	// Parameters are sorted by name before signing, so insertion order
	// must not matter.
	mac := p.computeMAC(map[string]string{
		"merchant": "123456",
		"amount":   "12575",
		"orderId":  "PO-1001",
		"currency": "USD",
	})
	want := "9a028d2deda443584b446b8fb00d56e9bd84a898712673bb1f48b70b554293df"
	if mac != want {
		t.Errorf("computeMAC() = %s, want %s", mac, want)
	}
}

func TestComplete3DPayment(t *testing.T) {
	p := newTestProvider(t)
	state := &provider.CallbackState{
		TenantID:  1,
		PaymentID: "PO-1001",
		Amount:    decimal.RequireFromString("125.75"),
		Currency:  "USD",
		Provider:  "dibs",
	}

	callbackData := func(status string) map[string]string {
		data := map[string]string{
			"orderId":     "PO-1001",
			"transaction": "987654321",
			"currency":    "USD",
			"amount":      "12575",
			"status":      status,
		}
		data["MAC"] = p.computeMAC(data)
		return data
	}

	t.Run("accepted payment", func(t *testing.T) {
		resp, err := p.Complete3DPayment(context.Background(), state, callbackData("ACCEPTED"))
		if err != nil {
			t.Fatalf("Complete3DPayment() error = %v", err)
		}
		if !resp.Success || resp.Status != provider.StatusAuthorized {
			t.Errorf("response success = %v status = %s", resp.Success, resp.Status)
		}
		if resp.TransactionID != "987654321" {
			t.Errorf("TransactionID = %s", resp.TransactionID)
		}
	})

	t.Run("declined payment", func(t *testing.T) {
		resp, err := p.Complete3DPayment(context.Background(), state, callbackData("DECLINED"))
		if err != nil {
			t.Fatalf("Complete3DPayment() error = %v", err)
		}
		if resp.Success || resp.ErrorCode != "DECLINED" {
			t.Errorf("response success = %v errorCode = %s", resp.Success, resp.ErrorCode)
		}
	})

	t.Run("tampered amount", func(t *testing.T) {
		data := callbackData("ACCEPTED")
		data["amount"] = "1"
		resp, err := p.Complete3DPayment(context.Background(), state, data)
		if err != nil {
			t.Fatalf("Complete3DPayment() error = %v", err)
		}
		if resp.Success || resp.ErrorCode != "INVALID_SIGNATURE" {
			t.Errorf("tampered callback success = %v errorCode = %s", resp.Success, resp.ErrorCode)
		}
	})

	t.Run("amount mismatch with valid signature", func(t *testing.T) {
		data := map[string]string{
			"orderId":     "PO-1001",
			"transaction": "987654321",
			"currency":    "USD",
			"amount":      "99999",
			"status":      "ACCEPTED",
		}
		data["MAC"] = p.computeMAC(data)
		resp, err := p.Complete3DPayment(context.Background(), state, data)
		if err != nil {
			t.Fatalf("Complete3DPayment() error = %v", err)
		}
		if resp.Success || resp.ErrorCode != "AMOUNT_MISMATCH" {
			t.Errorf("mismatched callback success = %v errorCode = %s", resp.Success, resp.ErrorCode)
		}
	})

	t.Run("missing required parameters", func(t *testing.T) {
		if _, err := p.Complete3DPayment(context.Background(), state, map[string]string{"status": "ACCEPTED"}); err == nil {
			t.Error("Complete3DPayment() expected error for incomplete callback")
		}
	})
}

func TestVerifyCallback_MD5Fallback(t *testing.T) {
	p := NewProvider().(*DIBSProvider)
	if err := p.Initialize(map[string]string{
		"merchantId":  "123456",
		"md5Key1":     "key1",
		"md5Key2":     "key2",
		"environment": "sandbox",
	}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	data := map[string]string{
		"transact": "987654321",
		"amount":   "12575",
		"currency": "USD",
		"authkey":  "e459757ba5b49f5ff00b5033db44d8f0",
	}
	if !p.verifyCallback(data) {
		t.Error("verifyCallback() = false for valid authkey")
	}

	data["amount"] = "12576"
	if p.verifyCallback(data) {
		t.Error("verifyCallback() = true for tampered amount")
	}
}

func TestCreate3DPaymentPayload(t *testing.T) {
	p := newTestProvider(t)

	request := provider.PaymentRequest{
		OrderNumber: "PO-1001",
		Currency:    "USD",
		Amount:      decimal.RequireFromString("125.77"),
		Totals: provider.OrderTotals{
			Shipping: decimal.RequireFromString("10.00"),
			Tax:      decimal.RequireFromString("15.76"),
		},
		Items: []provider.OrderItem{
			{Code: "SKU-1", Name: "Widget", Quantity: decimal.NewFromInt(3), ExtendedPrice: decimal.RequireFromString("100.00")},
		},
		Customer: provider.Customer{
			FirstName: "Jane",
			LastName:  "Doe",
			Email:     "jane@example.com",
			Address: &provider.Address{
				Line1:      "1 Main St",
				City:       "Oslo",
				PostalCode: "0150",
				Country:    "NO",
			},
		},
		Environment: "sandbox",
		TenantID:    1,
	}

	resp, err := p.Create3DPayment(context.Background(), request)
	if err != nil {
		t.Fatalf("Create3DPayment() error = %v", err)
	}
	if !resp.Success || resp.Status != provider.StatusPending {
		t.Fatalf("response success = %v status = %s", resp.Success, resp.Status)
	}
	if resp.RedirectURL != paymentWindowURL {
		t.Errorf("RedirectURL = %s", resp.RedirectURL)
	}

	fields, ok := resp.ProviderResponse.(map[string]string)
	if !ok {
		t.Fatalf("ProviderResponse type = %T", resp.ProviderResponse)
	}

	if fields["amount"] != "12577" {
		t.Errorf("amount = %s, want 12577", fields["amount"])
	}
	if fields["merchant"] != "123456" {
		t.Errorf("merchant = %s", fields["merchant"])
	}
	if fields["test"] != "1" {
		t.Error("test flag missing for sandbox environment")
	}
	if fields["acceptReturnUrl"] == "" || !strings.Contains(fields["acceptReturnUrl"], "/v1/callback/dibs") {
		t.Errorf("acceptReturnUrl = %s", fields["acceptReturnUrl"])
	}

	// Per-unit rounding leaves 33.33 * 3 = 99.99; the remaining cent
	// rides on a synthetic adjustment row so the rows plus shipping and
	// tax sum to the charged amount.
	if fields["oiRow1"] != "3;pcs;Widget;3333;SKU-1" {
		t.Errorf("oiRow1 = %s", fields["oiRow1"])
	}
	if got := fields["oiRow2"]; !strings.Contains(got, "ORDERADJUSTMENT") || !strings.HasPrefix(got, "1;pcs;") {
		t.Errorf("oiRow2 = %s", got)
	}
	if fields["shippingAmount"] != "1000" {
		t.Errorf("shippingAmount = %s", fields["shippingAmount"])
	}
	if fields["taxAmount"] != "1576" {
		t.Errorf("taxAmount = %s", fields["taxAmount"])
	}

	// The MAC covers every field except itself.
	mac := fields["MAC"]
	if mac == "" {
		t.Fatal("MAC missing from payment window fields")
	}
	if !p.verifyCallback(fields) {
		t.Error("payment window MAC does not verify")
	}

	if !strings.Contains(resp.HTML, paymentWindowURL) {
		t.Error("redirect form does not post to the payment window")
	}
}
