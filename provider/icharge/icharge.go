package icharge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/money"
	"github.com/commercekit/paygate/provider"
)

const (
	// Transaction types
	txnAuth    = "auth"
	txnSale    = "sale"
	txnCapture = "capture"
	txnRefund  = "refund"
	txnVoid    = "void"

	// Payment actions
	actionAuthorization = "Authorization"
	actionSale          = "Sale"

	defaultTimeout = 30 * time.Second
)

// amountFormat selects how a gateway family expects monetary amounts.
type amountFormat int

const (
	amountDecimal amountFormat = iota // "125.77"
	amountCents                       // "12577", decimal point stripped
)

// gatewayProfile describes one downstream processor behind the bridge.
// specialFields and configFields name configuration keys whose values
// are passed through to the gateway verbatim; the distinction mirrors
// the two passthrough channels the processors grew over time (per
// transaction fields vs connection configuration).
type gatewayProfile struct {
	defaultURL    string
	amount        amountFormat
	specialFields []string
	configFields  []string
}

// gatewayProfiles is the supported gateway table. Gateways without a
// defaultURL require the gatewayUrl configuration key.
var gatewayProfiles = map[string]gatewayProfile{
	"authorizenet":    {defaultURL: "https://secure2.authorize.net/gateway/transact.dll", specialFields: []string{"x_Trans_Key"}},
	"authorizenetxml": {},
	"planetpayment":   {specialFields: []string{"x_Trans_Key"}, configFields: []string{"AIMHashSecret"}},
	"mpcs":            {specialFields: []string{"x_Trans_Key"}, configFields: []string{"AIMHashSecret"}},
	"rtware":          {specialFields: []string{"x_Trans_Key"}, configFields: []string{"AIMHashSecret"}},
	"ecx":             {specialFields: []string{"x_Trans_Key"}, configFields: []string{"AIMHashSecret"}},
	"bankofamerica":   {configFields: []string{"referer"}},
	"innovative":      {specialFields: []string{"test_override_errors"}},
	"trustcommerce":   {amount: amountCents},
	"3dsi":            {amount: amountCents},
	"achpayments":     {amount: amountCents},
	"adyen":           {amount: amountCents},
	"barclay":         {amount: amountCents},
	"cyberbit":        {amount: amountCents},
	"firstatlantic":   {amount: amountCents},
	"globaliris":      {amount: amountCents},
	"hsbc":            {amount: amountCents},
	"5thdimension":    {},
	"achfederal":      {},
	"cybercash":       {specialFields: []string{"CustomerID", "ZoneID", "Username"}},
	"payfuse":         {amount: amountCents, configFields: []string{"MerchantAlias"}},
	"yourpay":         {},
	"firstdata":       {},
	"linkpoint":       {},
	"prigate":         {},
	"sagepay":         {specialFields: []string{"RelatedSecurityKey", "RelatedVendorTXCode", "RelatedTXAuthNo"}},
	"payflowpro":      {defaultURL: "https://payflowpro.paypal.com"},
	"moneris":         {defaultURL: "https://www3.moneris.com/HPPDP/index.php"},
	"jetpay":          {},
	"netbanx":         {configFields: []string{"NetbanxAccountNumber"}},
	"paydirect":       {configFields: []string{"PayDirectSettleMerchantCode"}},
	"payeezy":         {configFields: []string{"HashSecret"}},
	"beanstream":      {},
}

// IChargeProvider implements the provider.PaymentProvider interface as
// a generic bridge to the processors the ICharge component family
// supports. One form-encoded wire format fans out to the gateway named
// in the configuration; gateway-specific credentials and quirks ride
// in the profile table instead of per-processor adapters.
type IChargeProvider struct {
	merchantLogin    string
	merchantPassword string
	gateway          string
	gatewayURL       string
	paymentAction    string
	profile          gatewayProfile
	passthrough      map[string]string
	isProduction     bool
	client           *provider.ProviderHTTPClient
}

// NewProvider creates a new ICharge payment provider
func NewProvider() provider.PaymentProvider {
	return &IChargeProvider{}
}

// Initialize sets up the ICharge bridge for the configured gateway
func (p *IChargeProvider) Initialize(conf map[string]string) error {
	p.merchantLogin = conf["merchantLogin"]
	p.merchantPassword = conf["merchantPassword"]
	if p.merchantLogin == "" || p.merchantPassword == "" {
		return errors.New("icharge: merchantLogin and merchantPassword are required")
	}

	p.gateway = strings.ToLower(conf["gateway"])
	profile, ok := gatewayProfiles[p.gateway]
	if !ok {
		return fmt.Errorf("icharge: unsupported gateway %q", conf["gateway"])
	}
	p.profile = profile

	p.gatewayURL = conf["gatewayUrl"]
	if p.gatewayURL == "" {
		p.gatewayURL = profile.defaultURL
	}
	if p.gatewayURL == "" {
		return fmt.Errorf("icharge: gateway %q has no default endpoint, gatewayUrl is required", p.gateway)
	}

	p.paymentAction = conf["paymentAction"]
	if p.paymentAction == "" {
		p.paymentAction = actionAuthorization
	}
	if p.paymentAction != actionAuthorization && p.paymentAction != actionSale {
		return fmt.Errorf("icharge: paymentAction must be %s or %s", actionAuthorization, actionSale)
	}

	p.passthrough = map[string]string{}
	for _, key := range append(append([]string{}, profile.specialFields...), profile.configFields...) {
		if value := conf[key]; value != "" {
			p.passthrough[key] = value
		}
	}

	p.isProduction = conf["environment"] == "production"
	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(p.gatewayURL, p.isProduction, defaultTimeout))

	return nil
}

// GetRequiredConfig returns the configuration fields required for the bridge
func (p *IChargeProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "merchantLogin",
			Required:    true,
			Type:        "string",
			Description: "Merchant login for the downstream gateway",
		},
		{
			Key:         "merchantPassword",
			Required:    true,
			Type:        "string",
			Description: "Merchant password or transaction key",
		},
		{
			Key:         "gateway",
			Required:    true,
			Type:        "string",
			Description: "Downstream gateway identifier, e.g. authorizenet, sagepay, moneris",
			Example:     "authorizenet",
		},
		{
			Key:         "gatewayUrl",
			Required:    false,
			Type:        "url",
			Description: "Gateway endpoint override; required for gateways without a default",
		},
		{
			Key:         "paymentAction",
			Required:    false,
			Type:        "string",
			Description: "Authorization (capture later) or Sale (immediate settlement)",
			Example:     actionAuthorization,
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

// ValidateConfig validates the provided configuration against bridge requirements
func (p *IChargeProvider) ValidateConfig(conf map[string]string) error {
	if err := provider.ValidateConfigFields("icharge", conf, p.GetRequiredConfig(conf["environment"])); err != nil {
		return err
	}
	if _, ok := gatewayProfiles[strings.ToLower(conf["gateway"])]; !ok {
		return fmt.Errorf("icharge: unsupported gateway %q", conf["gateway"])
	}
	return nil
}

// SupportedGateways lists the gateway identifiers the bridge accepts
func SupportedGateways() []string {
	names := make([]string, 0, len(gatewayProfiles))
	for name := range gatewayProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreatePayment charges (or authorizes) the card through the configured gateway
func (p *IChargeProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request); err != nil {
		return nil, fmt.Errorf("icharge: invalid payment request: %w", err)
	}

	invoiceNumber := request.OrderNumber
	if invoiceNumber == "" {
		invoiceNumber = uuid.New().String()
	}

	transactionType := txnAuth
	successStatus := provider.StatusAuthorized
	if p.paymentAction == actionSale {
		transactionType = txnSale
		successStatus = provider.StatusCaptured
	}

	form := p.baseForm(transactionType)
	form["InvoiceNumber"] = invoiceNumber
	form["TransactionAmount"] = p.formatAmount(request.Amount, request.Currency)
	form["TransactionDesc"] = fmt.Sprintf("Order Number %s", invoiceNumber)
	form["CardNumber"] = request.CardInfo.CardNumber
	form["CardExpMonth"] = request.CardInfo.ExpireMonth
	form["CardExpYear"] = request.CardInfo.ExpireYear
	form["CardCVV"] = request.CardInfo.CVV
	p.addCustomer(form, request.Customer)
	if p.gateway == "bankofamerica" {
		form["ecom_payment_card_name"] = strings.TrimSpace(request.Customer.FirstName + " " + request.Customer.LastName)
	}

	resp, err := p.post(ctx, form)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, invoiceNumber, request.Amount, request.Currency, successStatus), nil
}

// Create3DPayment is not available; the supported gateways are direct
// card processors without a hosted redirect step.
func (p *IChargeProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return nil, errors.New("icharge: does not support a redirect flow")
}

// Complete3DPayment is not available, see Create3DPayment
func (p *IChargeProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	return nil, errors.New("icharge: does not support a redirect flow")
}

// GetPaymentStatus is not available; the bridged gateways expose no
// unified status query.
func (p *IChargeProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	return nil, errors.New("icharge: does not support status lookup")
}

// CapturePayment settles a prior authorization
func (p *IChargeProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("icharge: transactionId is required for capture")
	}
	if request.Currency == "" {
		return nil, errors.New("icharge: currency is required for capture")
	}

	form := p.baseForm(txnCapture)
	form["TransactionId"] = transactionID
	form["TransactionAmount"] = p.formatAmount(request.Amount, request.Currency)

	resp, err := p.post(ctx, form)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, request.PaymentID, request.Amount, request.Currency, provider.StatusCaptured), nil
}

// CancelPayment voids an unsettled transaction
func (p *IChargeProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("icharge: transactionId is required for cancel")
	}

	form := p.baseForm(txnVoid)
	form["TransactionId"] = transactionID

	resp, err := p.post(ctx, form)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, request.PaymentID, decimal.Zero, "", provider.StatusCancelled), nil
}

// RefundPayment credits a settled transaction
func (p *IChargeProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("icharge: transactionId is required for refund")
	}
	if request.Currency == "" {
		return nil, errors.New("icharge: currency is required for refund")
	}

	form := p.baseForm(txnRefund)
	form["TransactionId"] = transactionID
	form["TransactionAmount"] = p.formatAmount(request.RefundAmount, request.Currency)

	resp, err := p.post(ctx, form)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		PaymentID:    request.PaymentID,
		RefundID:     resp.transactionID(),
		RefundAmount: request.RefundAmount,
		SystemTime:   &now,
		RawResponse:  resp,
	}
	if resp.approved() {
		refundResp.Success = true
		refundResp.Status = "refunded"
		refundResp.Message = "refund accepted"
	} else {
		refundResp.ErrorCode = resp.code()
		refundResp.Message = resp.text()
	}
	return refundResp, nil
}

// ValidateWebhook is not available; the bridged gateways notify the
// merchant out of band.
func (p *IChargeProvider) ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error) {
	return false, nil, errors.New("icharge: does not support webhooks")
}

func (p *IChargeProvider) validatePaymentRequest(request provider.PaymentRequest) error {
	if !request.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if request.Currency == "" {
		return errors.New("currency is required")
	}
	card := request.CardInfo
	if card.CardNumber == "" || card.ExpireMonth == "" || card.ExpireYear == "" {
		return errors.New("card number and expiry are required")
	}
	return nil
}

// baseForm carries the credentials, transaction type and every
// configured passthrough field.
func (p *IChargeProvider) baseForm(transactionType string) map[string]string {
	form := map[string]string{
		"MerchantLogin":    p.merchantLogin,
		"MerchantPassword": p.merchantPassword,
		"TransactionType":  transactionType,
	}
	for key, value := range p.passthrough {
		form[key] = value
	}
	switch p.gateway {
	case "payflowpro":
		form["user"] = p.merchantLogin
	case "jetpay":
		form["TerminalId"] = p.merchantLogin
	}
	if !p.isProduction {
		form["TestMode"] = "1"
	}
	return form
}

func (p *IChargeProvider) addCustomer(form map[string]string, customer provider.Customer) {
	form["CustomerFirstName"] = customer.FirstName
	form["CustomerLastName"] = customer.LastName
	if customer.Email != "" {
		form["CustomerEmail"] = customer.Email
	}
	if customer.PhoneNumber != "" {
		form["CustomerPhone"] = customer.PhoneNumber
	}
	if addr := customer.Address; addr != nil {
		form["CustomerAddress"] = addr.Line1
		form["CustomerCity"] = addr.City
		form["CustomerState"] = addr.State
		form["CustomerZip"] = addr.PostalCode
		form["CustomerCountry"] = addr.Country
	}
}

// formatAmount renders the amount the way the gateway family expects:
// either a decimal string or minor units with the point stripped.
func (p *IChargeProvider) formatAmount(amount decimal.Decimal, currency string) string {
	formatted := money.New(amount, currency).Format()
	if p.profile.amount == amountCents {
		return strings.Replace(formatted, ".", "", 1)
	}
	return formatted
}

func (p *IChargeProvider) post(ctx context.Context, form map[string]string) (gatewayResponse, error) {
	httpResp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		FormData: form,
	})
	if err != nil {
		return nil, fmt.Errorf("icharge: gateway request failed: %w", err)
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(httpResp.Body)))
	if err != nil {
		return nil, fmt.Errorf("icharge: failed to parse gateway response: %w", err)
	}

	// Gateways disagree on key casing; normalize once.
	resp := gatewayResponse{}
	for key := range values {
		resp[strings.ToLower(key)] = values.Get(key)
	}
	return resp, nil
}

func (p *IChargeProvider) mapResponse(resp gatewayResponse, paymentID string, amount decimal.Decimal, currency string, successStatus provider.PaymentStatus) *provider.PaymentResponse {
	now := time.Now()
	response := &provider.PaymentResponse{
		TransactionID:    resp.transactionID(),
		PaymentID:        paymentID,
		Amount:           amount,
		Currency:         currency,
		SystemTime:       &now,
		ProviderResponse: resp,
	}
	if resp.approved() {
		response.Success = true
		response.Status = successStatus
		response.Message = "approved, approval code " + resp.approvalCode()
	} else {
		response.Status = provider.StatusFailed
		response.ErrorCode = resp.code()
		response.Message = "transaction declined: " + resp.text()
	}
	return response
}

// gatewayResponse is the normalized, lowercase-keyed gateway reply.
type gatewayResponse map[string]string

func (r gatewayResponse) approved() bool {
	switch strings.ToLower(r["approved"]) {
	case "1", "true", "y", "yes":
		return true
	}
	return false
}

func (r gatewayResponse) approvalCode() string { return r["approvalcode"] }
func (r gatewayResponse) transactionID() string {
	return r["transactionid"]
}

func (r gatewayResponse) code() string { return r["code"] }

func (r gatewayResponse) text() string {
	if text := r["text"]; text != "" {
		return text
	}
	return "gateway returned no error text"
}
