package opensearch

import (
	"context"
	"testing"

	"github.com/commercekit/paygate/infra/config"
	"github.com/stretchr/testify/assert"
)

func disabledLogger() *Logger {
	return NewLogger(&Client{config: &config.AppConfig{EnableLogging: false}})
}

func TestLogger_DisabledLogging(t *testing.T) {
	logger := disabledLogger()
	ctx := context.Background()

	// Writes become no-ops when logging is off.
	assert.NoError(t, logger.LogPaymentRequest(ctx, PaymentLog{Provider: "dibs"}))
	assert.NoError(t, logger.LogSystemEvent(ctx, map[string]string{"message": "startup"}))

	// Reads report the disabled state.
	_, err := logger.SearchLogs(ctx, "1", "dibs", map[string]any{"match_all": map[string]any{}})
	assert.ErrorContains(t, err, "logging is disabled")

	_, err = logger.GetProviderStats(ctx, "1", "dibs", 24)
	assert.ErrorContains(t, err, "logging is disabled")
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		excludes string
	}{
		{
			name:     "card_number_json",
			input:    `{"cardNumber":"4111111111111111","amount":"125.77"}`,
			contains: `"cardNumber":"***REDACTED***"`,
			excludes: "4111111111111111",
		},
		{
			name:     "cvv_json",
			input:    `{"cvv":"123"}`,
			contains: `"cvv":"***REDACTED***"`,
			excludes: `"123"`,
		},
		{
			name:     "snake_case_secret",
			input:    `{"secret_key":"sk_live_abc"}`,
			contains: `"secret_key":"***REDACTED***"`,
			excludes: "sk_live_abc",
		},
		{
			name:     "form_encoded_password",
			input:    "user=shop&password=hunter2",
			contains: `"password":"***REDACTED***"`,
			excludes: "hunter2",
		},
		{
			name:     "clean_body_untouched",
			input:    `{"orderNumber":"PO-1001","currency":"USD"}`,
			contains: "PO-1001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeForLog(tt.input)
			assert.Contains(t, result, tt.contains)
			if tt.excludes != "" {
				assert.NotContains(t, result, tt.excludes)
			}
		})
	}
}

func TestSanitizeForLog_PreservesStructure(t *testing.T) {
	input := `{"cardNumber":"4111111111111111","cvv":"999","orderNumber":"PO-2002"}`
	result := SanitizeForLog(input)

	assert.Contains(t, result, `"orderNumber":"PO-2002"`)
	assert.NotContains(t, result, "4111111111111111")
	assert.NotContains(t, result, "999")
}
