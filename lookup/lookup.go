// Package lookup holds the static reference tables the provider
// adapters need: ISO-4217 numeric currency codes, ISO-3166 numeric
// country codes, US/Canadian state codes and provider language tags.
// Tables are immutable and built once on first use; lookups are
// case-insensitive.
package lookup

import (
	"strings"
	"sync"
)

// ISO-4217 numeric codes for the currencies DIBS accepts.
var currencyNumeric = map[string]string{
	"DKK": "208", "EUR": "978", "USD": "840", "GBP": "826", "SEK": "752",
	"AUD": "036", "CAD": "124", "ISK": "352", "JPY": "392", "NZD": "554",
	"NOK": "578", "CHF": "756", "TRY": "949",
}

// CurrencyNumericCode converts an ISO-4217 alphabetic currency code to
// its numeric form. Returns "" when the currency is not supported.
func CurrencyNumericCode(currency string) string {
	return currencyNumeric[strings.ToUpper(currency)]
}

// Language tags supported by the DIBS hosted payment window.
var dibsLanguages = map[string]string{
	"danish": "da", "english": "en", "german": "de", "spanish": "es",
	"finnish": "fi", "faroese": "fo", "french": "fr", "italian": "it",
	"dutch": "nl", "norwegian": "no", "polish": "pl", "swedish": "sv",
	"greenlandic": "kl",
}

// DIBSLanguage converts a display language name to the tag the DIBS
// payment window understands, defaulting to English.
func DIBSLanguage(languageName string) string {
	if lang, ok := dibsLanguages[strings.ToLower(languageName)]; ok {
		return lang
	}
	return "en"
}

// Currencies accepted by PayPal Express Checkout.
var paypalCurrencies = map[string]bool{
	"AUD": true, "BRL": true, "CAD": true, "CZK": true, "DKK": true,
	"EUR": true, "HKD": true, "HUF": true, "ILS": true, "JPY": true,
	"MYR": true, "MXN": true, "NOK": true, "NZD": true, "PHP": true,
	"PLN": true, "GBP": true, "SGD": true, "SEK": true, "CHF": true,
	"TWD": true, "THB": true, "USD": true,
}

// PayPalSupportsCurrency reports whether PayPal Express Checkout
// accepts the currency.
func PayPalSupportsCurrency(currency string) bool {
	return paypalCurrencies[strings.ToUpper(currency)]
}

type countryCode struct {
	alpha2  string
	alpha3  string
	numeric string
}

var (
	countriesOnce    sync.Once
	countryByAlpha2  map[string]countryCode
	countryByAlpha3  map[string]countryCode
	countryCodeTable = []countryCode{
		{"AU", "AUS", "036"}, {"AT", "AUT", "040"}, {"BE", "BEL", "056"},
		{"BR", "BRA", "076"}, {"CA", "CAN", "124"}, {"CL", "CHL", "152"},
		{"CN", "CHN", "156"}, {"CZ", "CZE", "203"}, {"DK", "DNK", "208"},
		{"EE", "EST", "233"}, {"FI", "FIN", "246"}, {"FO", "FRO", "234"},
		{"FR", "FRA", "250"}, {"DE", "DEU", "276"}, {"GL", "GRL", "304"},
		{"GR", "GRC", "300"}, {"HK", "HKG", "344"}, {"HU", "HUN", "348"},
		{"IS", "ISL", "352"}, {"IN", "IND", "356"}, {"IE", "IRL", "372"},
		{"IL", "ISR", "376"}, {"IT", "ITA", "380"}, {"JP", "JPN", "392"},
		{"KR", "KOR", "410"}, {"LV", "LVA", "428"}, {"LT", "LTU", "440"},
		{"LU", "LUX", "442"}, {"MY", "MYS", "458"}, {"MX", "MEX", "484"},
		{"NL", "NLD", "528"}, {"NZ", "NZL", "554"}, {"NO", "NOR", "578"},
		{"PH", "PHL", "608"}, {"PL", "POL", "616"}, {"PT", "PRT", "620"},
		{"RO", "ROU", "642"}, {"SG", "SGP", "702"}, {"SK", "SVK", "703"},
		{"SI", "SVN", "705"}, {"ZA", "ZAF", "710"}, {"ES", "ESP", "724"},
		{"SE", "SWE", "752"}, {"CH", "CHE", "756"}, {"TW", "TWN", "158"},
		{"TH", "THA", "764"}, {"TR", "TUR", "792"}, {"GB", "GBR", "826"},
		{"US", "USA", "840"}, {"VN", "VNM", "704"},
	}
)

func initCountries() {
	countryByAlpha2 = make(map[string]countryCode, len(countryCodeTable))
	countryByAlpha3 = make(map[string]countryCode, len(countryCodeTable))
	for _, c := range countryCodeTable {
		countryByAlpha2[c.alpha2] = c
		countryByAlpha3[c.alpha3] = c
	}
}

// CountryNumericCode converts an ISO-3166 alpha-2 or alpha-3 country
// code to its UN M49 numeric form, as required by the DataCash The3rdMan
// fields. Returns "" for unknown codes.
func CountryNumericCode(code string) string {
	countriesOnce.Do(initCountries)
	code = strings.ToUpper(code)
	if c, ok := countryByAlpha2[code]; ok {
		return c.numeric
	}
	if c, ok := countryByAlpha3[code]; ok {
		return c.numeric
	}
	return ""
}

// CountryAlpha3 converts an alpha-2 country code to alpha-3, which
// PayPal address fields require. Unknown codes pass through unchanged.
func CountryAlpha3(alpha2 string) string {
	countriesOnce.Do(initCountries)
	if c, ok := countryByAlpha2[strings.ToUpper(alpha2)]; ok {
		return c.alpha3
	}
	return alpha2
}

var (
	statesOnce  sync.Once
	stateByName map[string]string
	stateByCode map[string]string

	// US states plus Canadian provinces, name to code.
	stateTable = map[string]string{
		"Alabama": "AL", "Alaska": "AK", "Arizona": "AZ", "Arkansas": "AR",
		"California": "CA", "Colorado": "CO", "Connecticut": "CT",
		"Delaware": "DE", "District of Columbia": "DC", "Florida": "FL",
		"Georgia": "GA", "Hawaii": "HI", "Idaho": "ID", "Illinois": "IL",
		"Indiana": "IN", "Iowa": "IA", "Kansas": "KS", "Kentucky": "KY",
		"Louisiana": "LA", "Maine": "ME", "Maryland": "MD",
		"Massachusetts": "MA", "Michigan": "MI", "Minnesota": "MN",
		"Mississippi": "MS", "Missouri": "MO", "Montana": "MT",
		"Nebraska": "NE", "Nevada": "NV", "New Hampshire": "NH",
		"New Jersey": "NJ", "New Mexico": "NM", "New York": "NY",
		"North Carolina": "NC", "North Dakota": "ND", "Ohio": "OH",
		"Oklahoma": "OK", "Oregon": "OR", "Pennsylvania": "PA",
		"Rhode Island": "RI", "South Carolina": "SC", "South Dakota": "SD",
		"Tennessee": "TN", "Texas": "TX", "Utah": "UT", "Vermont": "VT",
		"Virginia": "VA", "Washington": "WA", "West Virginia": "WV",
		"Wisconsin": "WI", "Wyoming": "WY",
		"Alberta": "AB", "British Columbia": "BC", "Manitoba": "MB",
		"New Brunswick": "NB", "Newfoundland and Labrador": "NL",
		"Northwest Territories": "NT", "Nova Scotia": "NS", "Nunavut": "NU",
		"Ontario": "ON", "Prince Edward Island": "PE", "Quebec": "QC",
		"Saskatchewan": "SK", "Yukon": "YT",
	}
)

func initStates() {
	stateByName = make(map[string]string, len(stateTable))
	stateByCode = make(map[string]string, len(stateTable))
	for name, code := range stateTable {
		stateByName[strings.ToLower(name)] = code
		stateByCode[code] = name
	}
}

// StateCode returns the two-letter code for a US state or Canadian
// province name. Unrecognized names pass through unchanged, matching
// what PayPal expects for non-US/CA regions.
func StateCode(stateName string) string {
	if stateName == "" {
		return ""
	}
	statesOnce.Do(initStates)
	if code, ok := stateByName[strings.ToLower(stateName)]; ok {
		return code
	}
	return stateName
}

// StateName returns the full name for a US state or Canadian province
// code. Unrecognized codes pass through unchanged.
func StateName(stateCode string) string {
	if stateCode == "" {
		return ""
	}
	statesOnce.Do(initStates)
	if name, ok := stateByCode[strings.ToUpper(stateCode)]; ok {
		return name
	}
	return stateCode
}
