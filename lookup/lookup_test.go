package lookup

import "testing"

func TestCurrencyNumericCode(t *testing.T) {
	tests := []struct {
		currency string
		want     string
	}{
		{"USD", "840"},
		{"usd", "840"},
		{"DKK", "208"},
		{"XXX", ""},
	}
	for _, tt := range tests {
		if got := CurrencyNumericCode(tt.currency); got != tt.want {
			t.Errorf("CurrencyNumericCode(%q) = %q, want %q", tt.currency, got, tt.want)
		}
	}
}

func TestDIBSLanguage(t *testing.T) {
	if got := DIBSLanguage("Swedish"); got != "sv" {
		t.Errorf("DIBSLanguage(Swedish) = %q, want sv", got)
	}
	if got := DIBSLanguage("Klingon"); got != "en" {
		t.Errorf("DIBSLanguage(Klingon) = %q, want en fallback", got)
	}
}

func TestCountryNumericCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"US", "840"},
		{"USA", "840"},
		{"gb", "826"},
		{"GBR", "826"},
		{"ZZ", ""},
	}
	for _, tt := range tests {
		if got := CountryNumericCode(tt.code); got != tt.want {
			t.Errorf("CountryNumericCode(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCountryAlpha3(t *testing.T) {
	if got := CountryAlpha3("us"); got != "USA" {
		t.Errorf("CountryAlpha3(us) = %q, want USA", got)
	}
	// unknown codes pass through
	if got := CountryAlpha3("ZZ"); got != "ZZ" {
		t.Errorf("CountryAlpha3(ZZ) = %q, want ZZ", got)
	}
}

func TestStates(t *testing.T) {
	if got := StateCode("New York"); got != "NY" {
		t.Errorf("StateCode(New York) = %q, want NY", got)
	}
	if got := StateCode("ontario"); got != "ON" {
		t.Errorf("StateCode(ontario) = %q, want ON", got)
	}
	if got := StateName("ny"); got != "New York" {
		t.Errorf("StateName(ny) = %q, want New York", got)
	}
	// pass-through for non-US/CA regions
	if got := StateCode("Bavaria"); got != "Bavaria" {
		t.Errorf("StateCode(Bavaria) = %q, want pass-through", got)
	}
	if got := StateCode(""); got != "" {
		t.Errorf("StateCode(empty) = %q, want empty", got)
	}
}

func TestPayPalSupportsCurrency(t *testing.T) {
	if !PayPalSupportsCurrency("usd") {
		t.Error("expected USD to be supported")
	}
	if PayPalSupportsCurrency("TRY") {
		t.Error("TRY is not a PayPal Express Checkout currency")
	}
}
