package dibs

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/lookup"
	"github.com/commercekit/paygate/money"
	"github.com/commercekit/paygate/provider"
	"github.com/commercekit/paygate/reconcile"
)

const (
	// API URLs
	transactionURL   = "https://api.dibspayment.com/merchant/v1/JSON/Transaction/"
	paymentWindowURL = "https://payment.architrade.com/paymentweb/start.action"

	// Transaction API payment functions
	functionAuthorizeCard      = "AuthorizeCard"
	functionCaptureTransaction = "CaptureTransaction"
	functionRefundTransaction  = "RefundTransaction"
	functionCancelTransaction  = "CancelTransaction"
	functionPing               = "Ping"

	// Transaction API status values. PENDING means the operation was
	// queued for batch processing and will settle later.
	statusAccept  = "ACCEPT"
	statusPending = "PENDING"
	statusDecline = "DECLINE"
	statusError   = "ERROR"

	// Payment window callback status for an approved payment.
	callbackStatusAccepted = "ACCEPTED"

	// Callback parameter names
	paramMAC         = "MAC"
	paramOrderID     = "orderId"
	paramTransaction = "transaction"
	paramCurrency    = "currency"
	paramAmount      = "amount"
	paramStatus      = "status"
	paramAuthKey     = "authkey"

	// Order row fields shown in the payment window
	orderInfoTypes = "QUANTITY;UNITCODE;DESCRIPTION;AMOUNT;ITEMID"
	orderInfoNames = "Units;UnitCode;Description;Amount;ItemId"

	defaultTimeout = 15 * time.Second
)

// DIBSProvider implements the provider.PaymentProvider interface for the
// DIBS D2 payment platform.
type DIBSProvider struct {
	merchantID     string
	password       string
	hmacKey        []byte
	md5Key1        string
	md5Key2        string
	gatewayBaseURL string
	isProduction   bool
	client         *provider.ProviderHTTPClient
	encryptor      *provider.CallbackEncryptor
}

// NewProvider creates a new DIBS payment provider
func NewProvider() provider.PaymentProvider {
	return &DIBSProvider{}
}

// Initialize sets up the DIBS payment provider with merchant credentials
func (p *DIBSProvider) Initialize(conf map[string]string) error {
	p.merchantID = conf["merchantId"]
	p.password = conf["password"]
	p.md5Key1 = conf["md5Key1"]
	p.md5Key2 = conf["md5Key2"]

	if p.merchantID == "" {
		return errors.New("dibs: merchantId is required")
	}

	// The HMAC key is issued hex-encoded in the DIBS admin. Keys pasted
	// in raw form are used as-is.
	if hmacKey := conf["hmacKey"]; hmacKey != "" {
		if decoded, err := hex.DecodeString(hmacKey); err == nil {
			p.hmacKey = decoded
		} else {
			p.hmacKey = []byte(hmacKey)
		}
	}
	if len(p.hmacKey) == 0 && (p.md5Key1 == "" || p.md5Key2 == "") {
		return errors.New("dibs: hmacKey or both md5Key1 and md5Key2 are required")
	}

	if gatewayBaseURL, ok := conf["gatewayBaseURL"]; ok && gatewayBaseURL != "" {
		p.gatewayBaseURL = gatewayBaseURL
	} else {
		p.gatewayBaseURL = config.GetEnv("APP_URL", "http://localhost:9999")
	}
	p.encryptor = provider.NewCallbackEncryptor(config.App().SecretKey)

	p.isProduction = conf["environment"] == "production"

	baseURL := transactionURL
	if processingURL := conf["processingUrl"]; processingURL != "" {
		baseURL = processingURL
	}
	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(baseURL, p.isProduction, defaultTimeout))

	return nil
}

// GetRequiredConfig returns the configuration fields required for DIBS
func (p *DIBSProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "merchantId",
			Required:    true,
			Type:        "string",
			Description: "DIBS merchant number",
			Example:     "90012345",
			MinLength:   4,
			MaxLength:   16,
		},
		{
			Key:         "hmacKey",
			Required:    false,
			Type:        "string",
			Description: "Hex-encoded HMAC key for MAC calculation (DIBS admin > Integration)",
			Example:     "23caa57a68am3101b9a2b41...",
		},
		{
			Key:         "md5Key1",
			Required:    false,
			Type:        "string",
			Description: "First MD5 key for legacy request and response verification",
		},
		{
			Key:         "md5Key2",
			Required:    false,
			Type:        "string",
			Description: "Second MD5 key for legacy request and response verification",
		},
		{
			Key:         "environment",
			Required:    true,
			Type:        "string",
			Description: "Environment (sandbox, test or production)",
			Example:     "production",
			Pattern:     "^(sandbox|test|production)$",
		},
	}
}

// ValidateConfig validates the provided configuration against DIBS requirements
func (p *DIBSProvider) ValidateConfig(conf map[string]string) error {
	if err := provider.ValidateConfigFields("dibs", conf, p.GetRequiredConfig(conf["environment"])); err != nil {
		return err
	}
	if conf["hmacKey"] == "" && (conf["md5Key1"] == "" || conf["md5Key2"] == "") {
		return errors.New("dibs: hmacKey or both md5Key1 and md5Key2 are required")
	}
	return nil
}

// CreatePayment authorizes a card through the Transaction API
func (p *DIBSProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request, false); err != nil {
		return nil, fmt.Errorf("dibs: invalid payment request: %w", err)
	}
	if _, err := p.reconcileOrder(request); err != nil {
		return nil, fmt.Errorf("dibs: %w", err)
	}

	orderID := request.OrderNumber
	if orderID == "" {
		orderID = uuid.New().String()
	}

	amount := minorUnits(request.Amount, request.Currency)
	message := map[string]string{
		"amount":     amount,
		"currency":   request.Currency,
		"merchantId": p.merchantID,
		"orderId":    orderID,
		"cardNumber": request.CardInfo.CardNumber,
		"expMonth":   request.CardInfo.ExpireMonth,
		"expYear":    request.CardInfo.ExpireYear,
		"cvc":        request.CardInfo.CVV,
	}
	if request.ClientIP != "" {
		message["clientIp"] = request.ClientIP
	}
	if !p.isProduction {
		message["test"] = "1"
	}
	message[paramMAC] = p.computeMAC(message)

	resp, err := p.postTransaction(ctx, functionAuthorizeCard, message)
	if err != nil {
		return nil, err
	}

	return p.mapTransactionResponse(resp, orderID, request.Amount, request.Currency, provider.StatusAuthorized), nil
}

// Create3DPayment builds the hosted payment window request. The shopper
// is redirected to DIBS and returns through the callback endpoint.
func (p *DIBSProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request, true); err != nil {
		return nil, fmt.Errorf("dibs: invalid 3D payment request: %w", err)
	}
	result, err := p.reconcileOrder(request)
	if err != nil {
		return nil, fmt.Errorf("dibs: %w", err)
	}

	orderID := request.OrderNumber
	if orderID == "" {
		orderID = uuid.New().String()
	}

	state := provider.CallbackState{
		TenantID:         request.TenantID,
		PaymentID:        orderID,
		OrderNumber:      orderID,
		OriginalCallback: request.CallbackURL,
		Amount:           request.Amount,
		Currency:         request.Currency,
		Provider:         "dibs",
		Environment:      request.Environment,
		Timestamp:        time.Now(),
		ClientIP:         request.ClientIP,
	}
	returnURL, err := p.encryptor.CallbackURL(p.gatewayBaseURL, "dibs", state)
	if err != nil {
		return nil, fmt.Errorf("dibs: failed to build callback URL: %w", err)
	}

	amount := minorUnits(request.Amount, request.Currency)
	fields := map[string]string{
		"acceptReturnUrl":    returnURL,
		"amount":             amount,
		"billingAddress":     request.Customer.Address.Line1,
		"billingAddress2":    request.Customer.Address.Line2,
		"billingEmail":       request.Customer.Email,
		"billingFirstName":   request.Customer.FirstName,
		"billingLastName":    request.Customer.LastName,
		"billingMobile":      request.Customer.PhoneNumber,
		"billingPostalCode":  request.Customer.Address.PostalCode,
		"billingPostalPlace": request.Customer.Address.City,
		"cancelReturnUrl":    returnURL,
		"currency":           request.Currency,
		"language":           lookup.DIBSLanguage(request.Locale),
		"merchant":           p.merchantID,
		"orderId":            orderID,
	}
	if !p.isProduction {
		fields["test"] = "1"
	}

	addOrderRows(fields, result)

	if result.Shipping.IsPositive() {
		fields["shippingAmount"] = minorUnits(result.Shipping.Amount, request.Currency)
	}
	if result.Handling.IsPositive() {
		fields["handlingAmount"] = minorUnits(result.Handling.Amount, request.Currency)
	}
	if result.Tax.IsPositive() {
		fields["taxAmount"] = minorUnits(result.Tax.Amount, request.Currency)
	}
	if result.ShippingDiscount.IsNegative() {
		fields["shippingDiscountAmount"] = minorUnits(result.ShippingDiscount.Amount, request.Currency)
	}

	if p.md5Key1 != "" && p.md5Key2 != "" {
		fields["md5key"] = p.md5RequestKey(p.merchantID, orderID, request.Currency, amount)
	}
	if len(p.hmacKey) > 0 {
		fields[paramMAC] = p.computeMAC(fields)
	}

	now := time.Now()
	return &provider.PaymentResponse{
		Success:          true,
		Status:           provider.StatusPending,
		Message:          "redirect shopper to the DIBS payment window",
		PaymentID:        orderID,
		OrderNumber:      orderID,
		Amount:           request.Amount,
		Currency:         request.Currency,
		RedirectURL:      paymentWindowURL,
		HTML:             buildRedirectForm(paymentWindowURL, fields),
		SystemTime:       &now,
		ProviderResponse: fields,
	}, nil
}

// Complete3DPayment verifies the payment window callback after the
// shopper returns from DIBS.
func (p *DIBSProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	if state == nil {
		return nil, errors.New("dibs: callback state is required")
	}
	if data[paramOrderID] == "" || data[paramCurrency] == "" || data[paramAmount] == "" {
		return nil, errors.New("dibs: callback is missing orderId, currency or amount")
	}

	now := time.Now()
	response := &provider.PaymentResponse{
		TransactionID: data[paramTransaction],
		PaymentID:     state.PaymentID,
		OrderNumber:   data[paramOrderID],
		Amount:        state.Amount,
		Currency:      state.Currency,
		SystemTime:    &now,
	}

	if !p.verifyCallback(data) {
		response.Status = provider.StatusFailed
		response.ErrorCode = "INVALID_SIGNATURE"
		response.Message = "callback signature verification failed"
		return response, nil
	}

	expected := minorUnits(state.Amount, state.Currency)
	if data[paramAmount] != expected {
		response.Status = provider.StatusFailed
		response.ErrorCode = "AMOUNT_MISMATCH"
		response.Message = fmt.Sprintf("callback amount %s does not match expected %s", data[paramAmount], expected)
		return response, nil
	}

	if data[paramStatus] != callbackStatusAccepted {
		response.Status = provider.StatusFailed
		response.ErrorCode = data[paramStatus]
		response.Message = "payment was not accepted"
		return response, nil
	}

	response.Success = true
	response.Status = provider.StatusAuthorized
	response.Message = "payment authorized"
	return response, nil
}

// GetPaymentStatus is not available on the D2 Transaction API. The
// transaction state lives in the DIBS administration.
func (p *DIBSProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	return nil, errors.New("dibs: payment status lookup is not supported, check the DIBS administration")
}

// CapturePayment settles a previously authorized payment
func (p *DIBSProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("dibs: transactionId is required for capture")
	}
	if request.Currency == "" {
		return nil, errors.New("dibs: currency is required for capture")
	}

	message := map[string]string{
		"amount":        minorUnits(request.Amount, request.Currency),
		"merchantId":    p.merchantID,
		"transactionId": transactionID,
	}
	message[paramMAC] = p.computeMAC(message)

	resp, err := p.postTransaction(ctx, functionCaptureTransaction, message)
	if err != nil {
		return nil, err
	}

	return p.mapTransactionResponse(resp, transactionID, request.Amount, request.Currency, provider.StatusCaptured), nil
}

// CancelPayment voids an authorization
func (p *DIBSProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("dibs: transactionId is required for cancel")
	}

	message := map[string]string{
		"merchantId":    p.merchantID,
		"transactionId": transactionID,
	}
	message[paramMAC] = p.computeMAC(message)

	resp, err := p.postTransaction(ctx, functionCancelTransaction, message)
	if err != nil {
		return nil, err
	}

	return p.mapTransactionResponse(resp, transactionID, decimal.Zero, "", provider.StatusCancelled), nil
}

// RefundPayment issues a refund for a settled payment
func (p *DIBSProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("dibs: transactionId is required for refund")
	}
	if request.Currency == "" {
		return nil, errors.New("dibs: currency is required for refund")
	}

	amount := minorUnits(request.RefundAmount, request.Currency)
	message := map[string]string{
		"amount":        amount,
		"merchantId":    p.merchantID,
		"transactionId": transactionID,
	}
	if p.md5Key1 != "" && p.md5Key2 != "" {
		message["md5key"] = p.md5RefundKey(p.merchantID, request.PaymentID, transactionID, amount)
	}
	message[paramMAC] = p.computeMAC(message)

	resp, err := p.postTransaction(ctx, functionRefundTransaction, message)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		PaymentID:    request.PaymentID,
		RefundID:     transactionID,
		RefundAmount: request.RefundAmount,
		Status:       resp[paramStatus],
		SystemTime:   &now,
		RawResponse:  resp,
	}
	switch resp[paramStatus] {
	case statusAccept, statusPending:
		refundResp.Success = true
		refundResp.Message = "refund accepted"
	default:
		refundResp.ErrorCode = resp[paramStatus]
		refundResp.Message = declineMessage(resp)
	}
	return refundResp, nil
}

// ValidateWebhook verifies a server-to-server notification from the
// payment window. The payload carries the same fields as the shopper
// callback.
func (p *DIBSProvider) ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error) {
	if !p.verifyCallback(data) {
		return false, nil, errors.New("dibs: webhook signature verification failed")
	}

	return true, map[string]string{
		"orderId":       data[paramOrderID],
		"transactionId": data[paramTransaction],
		"status":        data[paramStatus],
		"amount":        data[paramAmount],
		"currency":      data[paramCurrency],
	}, nil
}

// validatePaymentRequest checks required request fields before anything
// is sent to DIBS.
func (p *DIBSProvider) validatePaymentRequest(request provider.PaymentRequest, is3D bool) error {
	if !request.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if request.Currency == "" {
		return errors.New("currency is required")
	}
	if lookup.CurrencyNumericCode(request.Currency) == "" {
		return fmt.Errorf("currency %s is not supported", request.Currency)
	}
	if is3D {
		if request.Customer.Address == nil {
			return errors.New("billing address is required")
		}
		return nil
	}
	if request.CardInfo.CardNumber == "" {
		return errors.New("card number is required")
	}
	if request.CardInfo.ExpireMonth == "" || request.CardInfo.ExpireYear == "" {
		return errors.New("card expiry is required")
	}
	return nil
}

// reconcileOrder makes the order amounts agree before they are put on
// the wire. Orders without line items only carry the total.
func (p *DIBSProvider) reconcileOrder(request provider.PaymentRequest) (*reconcile.Result, error) {
	totals, items := request.OrderSnapshot()
	if len(items) == 0 {
		return &reconcile.Result{
			Shipping:         totals.Shipping.Round(),
			Handling:         totals.Handling.Round(),
			Tax:              totals.Tax.Round(),
			ShippingDiscount: money.Zero(totals.Order.Currency),
			ItemTotal:        money.Zero(totals.Order.Currency),
		}, nil
	}
	return reconcile.Reconcile(totals, items, reconcile.PolicyAdjustmentLine)
}

// addOrderRows renders reconciled lines as payment window order rows.
func addOrderRows(fields map[string]string, result *reconcile.Result) {
	if len(result.Lines) == 0 {
		return
	}
	fields["oiTypes"] = orderInfoTypes
	fields["oiNames"] = orderInfoNames
	for i, line := range result.Lines {
		unit := line.UnitPrice.ToMinorUnits()
		fields[fmt.Sprintf("oiRow%d", i+1)] = fmt.Sprintf("%d;pcs;%s;%d;%s",
			line.Quantity, sanitizeRowText(line.Name), unit, sanitizeRowText(line.Code))
	}
}

// sanitizeRowText strips the field separator from order row values.
func sanitizeRowText(s string) string {
	return strings.ReplaceAll(s, ";", ",")
}

// postTransaction posts a payment function message to the Transaction
// API. The body is a single form field holding the JSON message.
func (p *DIBSProvider) postTransaction(ctx context.Context, paymentFunction string, message map[string]string) (map[string]string, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("dibs: failed to marshal %s message: %w", paymentFunction, err)
	}

	httpResp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: paymentFunction,
		FormData: map[string]string{"request": string(body)},
	})
	if err != nil {
		return nil, fmt.Errorf("dibs: %s request failed: %w", paymentFunction, err)
	}

	var resp map[string]string
	if err := p.client.ParseJSONResponse(httpResp, &resp); err != nil {
		return nil, fmt.Errorf("dibs: failed to parse %s response: %w", paymentFunction, err)
	}
	return resp, nil
}

// mapTransactionResponse converts a Transaction API response into the
// common payment response shape.
func (p *DIBSProvider) mapTransactionResponse(resp map[string]string, paymentID string, amount decimal.Decimal, currency string, successStatus provider.PaymentStatus) *provider.PaymentResponse {
	now := time.Now()
	response := &provider.PaymentResponse{
		PaymentID:        paymentID,
		Amount:           amount,
		Currency:         currency,
		SystemTime:       &now,
		ProviderResponse: resp,
	}
	if transactionID := resp["transactionId"]; transactionID != "" {
		response.TransactionID = transactionID
	} else {
		response.TransactionID = paymentID
	}

	switch resp[paramStatus] {
	case statusAccept:
		response.Success = true
		response.Status = successStatus
		response.Message = "accepted"
	case statusPending:
		response.Success = true
		response.Status = provider.StatusProcessing
		response.Message = "queued for batch processing"
	default:
		response.Status = provider.StatusFailed
		response.ErrorCode = resp[paramStatus]
		response.Message = declineMessage(resp)
	}
	return response
}

// verifyCallback checks the payment window callback signature. The MAC
// is computed over every parameter except the MAC itself. Merchants
// still on the MD5 key pair are verified through the authkey parameter.
func (p *DIBSProvider) verifyCallback(data map[string]string) bool {
	if len(p.hmacKey) > 0 {
		mac, ok := data[paramMAC]
		if !ok {
			return false
		}
		pairs := make(map[string]string, len(data))
		for k, v := range data {
			if k == paramMAC {
				continue
			}
			pairs[k] = v
		}
		expected := p.computeMAC(pairs)
		return subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) == 1
	}

	authKey, ok := data[paramAuthKey]
	if !ok {
		return false
	}
	expected := p.md5ResponseKey(data[paramTransaction], data[paramAmount], data[paramCurrency])
	return subtle.ConstantTimeCompare([]byte(authKey), []byte(expected)) == 1
}

// computeMAC calculates the D2 message authentication code: HMAC-SHA256
// over the parameters sorted by name and joined as key=value pairs.
func (p *DIBSProvider) computeMAC(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha256.New, p.hmacKey)
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// md5RequestKey authenticates an outgoing payment window request.
func (p *DIBSProvider) md5RequestKey(merchant, orderID, currency, amount string) string {
	return p.md5Key(fmt.Sprintf("merchant=%s&orderid=%s&currency=%s&amount=%s", merchant, orderID, currency, amount))
}

// md5ResponseKey verifies the approval callback. The currency travels
// in its ISO numeric form on the response side.
func (p *DIBSProvider) md5ResponseKey(transact, amount, currency string) string {
	numeric := lookup.CurrencyNumericCode(currency)
	if numeric == "" {
		numeric = currency
	}
	return p.md5Key(fmt.Sprintf("transact=%s&amount=%s&currency=%s", transact, amount, numeric))
}

// md5RefundKey authenticates a refund message.
func (p *DIBSProvider) md5RefundKey(merchant, orderID, transact, amount string) string {
	return p.md5Key(fmt.Sprintf("merchant=%s&orderid=%s&transact=%s&amount=%s", merchant, orderID, transact, amount))
}

// md5Key is the double MD5 scheme used by the D2 platform: the first
// key prefixes the parameter string, the second key prefixes the hex
// digest of the first round.
func (p *DIBSProvider) md5Key(hashString string) string {
	first := md5.Sum([]byte(p.md5Key1 + hashString))
	second := md5.Sum([]byte(p.md5Key2 + hex.EncodeToString(first[:])))
	return hex.EncodeToString(second[:])
}

// buildRedirectForm renders an auto-submitting form that posts the
// payment window fields through the shopper's browser.
func buildRedirectForm(action string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<form id="dibs-payment" method="post" action="` + html.EscapeString(action) + `">`)
	for _, k := range keys {
		b.WriteString(`<input type="hidden" name="` + html.EscapeString(k) + `" value="` + html.EscapeString(fields[k]) + `"/>`)
	}
	b.WriteString(`</form><script>document.getElementById("dibs-payment").submit();</script>`)
	return b.String()
}

func declineMessage(resp map[string]string) string {
	if reason := resp["declineReason"]; reason != "" {
		return reason
	}
	return "transaction was not accepted"
}

func minorUnits(amount decimal.Decimal, currency string) string {
	return strconv.FormatInt(money.New(amount, currency).ToMinorUnits(), 10)
}
