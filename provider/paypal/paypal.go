package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
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
	apiSandboxURL    = "https://api-3t.sandbox.paypal.com/nvp"
	apiProductionURL = "https://api-3t.paypal.com/nvp"

	checkoutSandboxURL    = "https://www.sandbox.paypal.com/cgi-bin/webscr"
	checkoutProductionURL = "https://www.paypal.com/cgi-bin/webscr"

	// NVP API methods
	methodSetExpressCheckout        = "SetExpressCheckout"
	methodGetExpressCheckoutDetails = "GetExpressCheckoutDetails"
	methodDoExpressCheckoutPayment  = "DoExpressCheckoutPayment"
	methodDoCapture                 = "DoCapture"
	methodDoVoid                    = "DoVoid"
	methodRefundTransaction         = "RefundTransaction"

	// ACK values
	ackSuccess            = "Success"
	ackSuccessWithWarning = "SuccessWithWarning"

	// Payment actions
	actionAuthorization = "Authorization"
	actionSale          = "Sale"

	apiVersion     = "124.0"
	buttonSource   = "PayGate_Cart_EC"
	defaultTimeout = 30 * time.Second
)

// PayPalProvider implements the provider.PaymentProvider interface for
// PayPal Express Checkout over the classic NVP API.
type PayPalProvider struct {
	apiUsername     string
	apiPassword     string
	apiSignature    string
	paymentAction   string
	addressOverride bool
	allowGuest      bool
	gatewayBaseURL  string
	checkoutURL     string
	isProduction    bool
	client          *provider.ProviderHTTPClient
	encryptor       *provider.CallbackEncryptor
}

// NewProvider creates a new PayPal payment provider
func NewProvider() provider.PaymentProvider {
	return &PayPalProvider{}
}

// Initialize sets up the PayPal payment provider with API credentials
func (p *PayPalProvider) Initialize(conf map[string]string) error {
	p.apiUsername = conf["apiUsername"]
	p.apiPassword = conf["apiPassword"]
	p.apiSignature = conf["apiSignature"]

	if p.apiUsername == "" || p.apiPassword == "" || p.apiSignature == "" {
		return errors.New("paypal: apiUsername, apiPassword and apiSignature are required")
	}

	p.paymentAction = conf["paymentAction"]
	if p.paymentAction == "" {
		p.paymentAction = actionAuthorization
	}
	if p.paymentAction != actionAuthorization && p.paymentAction != actionSale {
		return fmt.Errorf("paypal: paymentAction must be %s or %s", actionAuthorization, actionSale)
	}

	p.addressOverride = conf["allowChangeAddress"] != "true"
	p.allowGuest = conf["allowGuest"] == "true"

	if gatewayBaseURL, ok := conf["gatewayBaseURL"]; ok && gatewayBaseURL != "" {
		p.gatewayBaseURL = gatewayBaseURL
	} else {
		p.gatewayBaseURL = config.GetEnv("APP_URL", "http://localhost:9999")
	}
	p.encryptor = provider.NewCallbackEncryptor(config.App().SecretKey)

	p.isProduction = conf["environment"] == "production"
	apiURL := apiSandboxURL
	p.checkoutURL = checkoutSandboxURL
	if p.isProduction {
		apiURL = apiProductionURL
		p.checkoutURL = checkoutProductionURL
	}
	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(apiURL, p.isProduction, defaultTimeout))

	return nil
}

// GetRequiredConfig returns the configuration fields required for PayPal
func (p *PayPalProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiUsername",
			Required:    true,
			Type:        "string",
			Description: "PayPal API username",
			Example:     "seller_api1.example.com",
		},
		{
			Key:         "apiPassword",
			Required:    true,
			Type:        "string",
			Description: "PayPal API password",
		},
		{
			Key:         "apiSignature",
			Required:    true,
			Type:        "string",
			Description: "PayPal API signature",
		},
		{
			Key:         "paymentAction",
			Required:    false,
			Type:        "string",
			Description: "Authorization (capture later) or Sale (immediate settlement)",
			Example:     actionAuthorization,
		},
		{
			Key:         "allowGuest",
			Required:    false,
			Type:        "boolean",
			Description: "Allow checkout without a PayPal account",
		},
		{
			Key:         "allowChangeAddress",
			Required:    false,
			Type:        "boolean",
			Description: "Let the shopper change the shipping address on PayPal",
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

// ValidateConfig validates the provided configuration against PayPal requirements
func (p *PayPalProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("paypal", conf, p.GetRequiredConfig(conf["environment"]))
}

// CreatePayment starts an Express Checkout session. Express Checkout is
// always a redirect flow, so this is the same as Create3DPayment.
func (p *PayPalProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return p.Create3DPayment(ctx, request)
}

// Create3DPayment calls SetExpressCheckout and returns the redirect URL
// for the shopper's PayPal approval.
func (p *PayPalProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request); err != nil {
		return nil, fmt.Errorf("paypal: invalid payment request: %w", err)
	}
	result, err := reconcileOrder(request)
	if err != nil {
		return nil, fmt.Errorf("paypal: %w", err)
	}

	invoiceID := request.OrderNumber
	if invoiceID == "" {
		invoiceID = uuid.New().String()
	}

	state := provider.CallbackState{
		TenantID:         request.TenantID,
		PaymentID:        invoiceID,
		OrderNumber:      invoiceID,
		OriginalCallback: request.CallbackURL,
		Amount:           request.Amount,
		Currency:         request.Currency,
		Provider:         "paypal",
		Environment:      request.Environment,
		Timestamp:        time.Now(),
		ClientIP:         request.ClientIP,
	}
	returnURL, err := p.encryptor.CallbackURL(p.gatewayBaseURL, "paypal", state)
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to build callback URL: %w", err)
	}

	params := map[string]string{
		"RETURNURL": returnURL,
		"CANCELURL": returnURL,
	}
	if request.Customer.Email != "" {
		params["EMAIL"] = request.Customer.Email
	}
	if p.addressOverride {
		params["ADDROVERRIDE"] = "1"
	}
	if p.allowGuest {
		params["SOLUTIONTYPE"] = "Sole"
		params["LANDINGPAGE"] = "Billing"
	}
	p.addPaymentDetails(params, request, result, invoiceID)

	resp, err := p.call(ctx, methodSetExpressCheckout, params)
	if err != nil {
		return nil, err
	}
	if !isAck(resp) {
		return p.failureResponse(resp, invoiceID, request.Amount, request.Currency), nil
	}

	token := resp.Get("TOKEN")
	now := time.Now()
	return &provider.PaymentResponse{
		Success:     true,
		Status:      provider.StatusPending,
		Message:     "redirect shopper to PayPal for approval",
		PaymentID:   token,
		OrderNumber: invoiceID,
		Amount:      request.Amount,
		Currency:    request.Currency,
		RedirectURL: fmt.Sprintf("%s?cmd=_express-checkout&token=%s&useraction=commit",
			p.checkoutURL, url.QueryEscape(token)),
		SystemTime:       &now,
		ProviderResponse: flatten(resp),
	}, nil
}

// Complete3DPayment finalizes the checkout after the shopper approved
// the payment on PayPal.
func (p *PayPalProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	if state == nil {
		return nil, errors.New("paypal: callback state is required")
	}
	token := firstValue(data, "token", "TOKEN")
	if token == "" {
		return nil, errors.New("paypal: callback is missing the checkout token")
	}

	payerID := firstValue(data, "PayerID", "PAYERID")
	if payerID == "" {
		// The shopper may have cancelled; GetExpressCheckoutDetails
		// reveals whether the checkout was approved.
		details, err := p.call(ctx, methodGetExpressCheckoutDetails, map[string]string{"TOKEN": token})
		if err != nil {
			return nil, err
		}
		payerID = details.Get("PAYERID")
		if payerID == "" {
			now := time.Now()
			return &provider.PaymentResponse{
				Status:     provider.StatusCancelled,
				Message:    "shopper did not approve the payment",
				PaymentID:  token,
				Amount:     state.Amount,
				Currency:   state.Currency,
				SystemTime: &now,
			}, nil
		}
	}

	params := map[string]string{
		"TOKEN":                          token,
		"PAYERID":                        payerID,
		"PAYMENTREQUEST_0_AMT":           formatAmount(state.Amount, state.Currency),
		"PAYMENTREQUEST_0_CURRENCYCODE":  state.Currency,
		"PAYMENTREQUEST_0_PAYMENTACTION": p.paymentAction,
		"PAYMENTREQUEST_0_INVNUM":        state.OrderNumber,
	}

	resp, err := p.call(ctx, methodDoExpressCheckoutPayment, params)
	if err != nil {
		return nil, err
	}
	if !isAck(resp) {
		return p.failureResponse(resp, state.PaymentID, state.Amount, state.Currency), nil
	}

	status := provider.StatusAuthorized
	if p.paymentAction == actionSale {
		status = provider.StatusCaptured
	}
	now := time.Now()
	return &provider.PaymentResponse{
		Success:          true,
		Status:           status,
		Message:          "payment " + resp.Get("PAYMENTINFO_0_PAYMENTSTATUS"),
		TransactionID:    resp.Get("PAYMENTINFO_0_TRANSACTIONID"),
		PaymentID:        state.PaymentID,
		OrderNumber:      state.OrderNumber,
		Amount:           state.Amount,
		Currency:         state.Currency,
		SystemTime:       &now,
		ProviderResponse: flatten(resp),
	}, nil
}

// GetPaymentStatus reads the checkout state for a pending token
func (p *PayPalProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	if request.PaymentID == "" {
		return nil, errors.New("paypal: paymentId is required")
	}

	resp, err := p.call(ctx, methodGetExpressCheckoutDetails, map[string]string{"TOKEN": request.PaymentID})
	if err != nil {
		return nil, err
	}
	if !isAck(resp) {
		return p.failureResponse(resp, request.PaymentID, decimal.Zero, ""), nil
	}

	now := time.Now()
	response := &provider.PaymentResponse{
		Success:          true,
		PaymentID:        request.PaymentID,
		OrderNumber:      resp.Get("PAYMENTREQUEST_0_INVNUM"),
		Currency:         resp.Get("PAYMENTREQUEST_0_CURRENCYCODE"),
		Message:          resp.Get("CHECKOUTSTATUS"),
		SystemTime:       &now,
		ProviderResponse: flatten(resp),
	}
	if amt, err := decimal.NewFromString(resp.Get("PAYMENTREQUEST_0_AMT")); err == nil {
		response.Amount = amt
	}
	switch resp.Get("CHECKOUTSTATUS") {
	case "PaymentActionCompleted":
		response.Status = provider.StatusSuccessful
	case "PaymentActionInProgress":
		response.Status = provider.StatusProcessing
	case "PaymentActionFailed":
		response.Success = false
		response.Status = provider.StatusFailed
	default:
		response.Status = provider.StatusPending
	}
	return response, nil
}

// CapturePayment settles an authorization through DoCapture
func (p *PayPalProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("paypal: transactionId is required for capture")
	}
	if request.Currency == "" {
		return nil, errors.New("paypal: currency is required for capture")
	}

	params := map[string]string{
		"AUTHORIZATIONID": transactionID,
		"AMT":             formatAmount(request.Amount, request.Currency),
		"CURRENCYCODE":    request.Currency,
		"COMPLETETYPE":    "Complete",
	}

	resp, err := p.call(ctx, methodDoCapture, params)
	if err != nil {
		return nil, err
	}
	if !isAck(resp) {
		return p.failureResponse(resp, request.PaymentID, request.Amount, request.Currency), nil
	}

	now := time.Now()
	return &provider.PaymentResponse{
		Success:          true,
		Status:           provider.StatusCaptured,
		Message:          "captured",
		TransactionID:    resp.Get("TRANSACTIONID"),
		PaymentID:        request.PaymentID,
		Amount:           request.Amount,
		Currency:         request.Currency,
		SystemTime:       &now,
		ProviderResponse: flatten(resp),
	}, nil
}

// CancelPayment voids an authorization through DoVoid
func (p *PayPalProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("paypal: transactionId is required for cancel")
	}

	params := map[string]string{"AUTHORIZATIONID": transactionID}
	if request.Reason != "" {
		params["NOTE"] = request.Reason
	}

	resp, err := p.call(ctx, methodDoVoid, params)
	if err != nil {
		return nil, err
	}
	if !isAck(resp) {
		return p.failureResponse(resp, request.PaymentID, decimal.Zero, ""), nil
	}

	now := time.Now()
	return &provider.PaymentResponse{
		Success:          true,
		Status:           provider.StatusCancelled,
		Message:          "authorization voided",
		TransactionID:    resp.Get("AUTHORIZATIONID"),
		PaymentID:        request.PaymentID,
		SystemTime:       &now,
		ProviderResponse: flatten(resp),
	}, nil
}

// RefundPayment refunds a settled transaction through RefundTransaction
func (p *PayPalProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("paypal: transactionId is required for refund")
	}

	params := map[string]string{"TRANSACTIONID": transactionID}
	if request.RefundAmount.IsPositive() {
		if request.Currency == "" {
			return nil, errors.New("paypal: currency is required for a partial refund")
		}
		params["REFUNDTYPE"] = "Partial"
		params["AMT"] = formatAmount(request.RefundAmount, request.Currency)
		params["CURRENCYCODE"] = request.Currency
	} else {
		params["REFUNDTYPE"] = "Full"
	}
	if request.Reason != "" {
		params["NOTE"] = request.Reason
	}

	resp, err := p.call(ctx, methodRefundTransaction, params)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		PaymentID:    request.PaymentID,
		RefundID:     resp.Get("REFUNDTRANSACTIONID"),
		RefundAmount: request.RefundAmount,
		Status:       resp.Get("REFUNDSTATUS"),
		SystemTime:   &now,
		RawResponse:  flatten(resp),
	}
	if isAck(resp) {
		refundResp.Success = true
		refundResp.Message = "refund " + resp.Get("REFUNDSTATUS")
		if amt, err := decimal.NewFromString(resp.Get("GROSSREFUNDAMT")); err == nil {
			refundResp.RefundAmount = amt
		}
	} else {
		refundResp.ErrorCode = resp.Get("L_ERRORCODE0")
		refundResp.Message = errorMessage(resp)
	}
	return refundResp, nil
}

// ValidateWebhook verifies an Instant Payment Notification by posting
// it back to PayPal and checking for VERIFIED.
func (p *PayPalProvider) ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error) {
	form := map[string]string{"cmd": "_notify-validate"}
	for k, v := range data {
		form[k] = v
	}

	httpResp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: p.checkoutURL,
		FormData: form,
	})
	if err != nil {
		return false, nil, fmt.Errorf("paypal: IPN verification failed: %w", err)
	}

	if string(httpResp.Body) != "VERIFIED" {
		return false, nil, errors.New("paypal: IPN message was not verified")
	}
	return true, map[string]string{
		"transactionId": data["txn_id"],
		"status":        data["payment_status"],
		"amount":        data["mc_gross"],
		"currency":      data["mc_currency"],
		"invoice":       data["invoice"],
	}, nil
}

func (p *PayPalProvider) validatePaymentRequest(request provider.PaymentRequest) error {
	if !request.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if request.Currency == "" {
		return errors.New("currency is required")
	}
	if !lookup.PayPalSupportsCurrency(request.Currency) {
		return fmt.Errorf("currency %s is not supported", request.Currency)
	}
	return nil
}

// addPaymentDetails writes the reconciled order breakdown into the NVP
// parameter set. PayPal rejects requests whose item, shipping, handling
// and tax totals do not sum to the order total, and refuses a zero or
// negative item total.
func (p *PayPalProvider) addPaymentDetails(params map[string]string, request provider.PaymentRequest, result *reconcile.Result, invoiceID string) {
	cur := request.Currency
	params["PAYMENTREQUEST_0_PAYMENTACTION"] = p.paymentAction
	params["PAYMENTREQUEST_0_CURRENCYCODE"] = cur
	params["PAYMENTREQUEST_0_AMT"] = formatAmount(request.Amount, cur)
	params["PAYMENTREQUEST_0_SHIPPINGAMT"] = formatAmount(result.Shipping.Amount, cur)
	params["PAYMENTREQUEST_0_HANDLINGAMT"] = formatAmount(result.Handling.Amount, cur)
	params["PAYMENTREQUEST_0_TAXAMT"] = formatAmount(result.Tax.Amount, cur)
	params["PAYMENTREQUEST_0_ITEMAMT"] = formatAmount(result.ItemTotal.Amount, cur)
	params["PAYMENTREQUEST_0_INVNUM"] = invoiceID
	params["BUTTONSOURCE"] = buttonSource

	if result.ShippingDiscount.IsNegative() {
		params["PAYMENTREQUEST_0_SHIPDISCAMT"] = formatAmount(result.ShippingDiscount.Amount, cur)
	}

	for i, line := range result.Lines {
		params[fmt.Sprintf("L_PAYMENTREQUEST_0_NAME%d", i)] = line.Name
		params[fmt.Sprintf("L_PAYMENTREQUEST_0_NUMBER%d", i)] = line.Code
		params[fmt.Sprintf("L_PAYMENTREQUEST_0_QTY%d", i)] = strconv.FormatInt(line.Quantity, 10)
		params[fmt.Sprintf("L_PAYMENTREQUEST_0_AMT%d", i)] = formatAmount(line.UnitPrice.Amount, cur)
		if line.IsAdjustment() {
			params[fmt.Sprintf("L_PAYMENTREQUEST_0_DESC%d", i)] = "Gift card, order level discount or rounding difference"
		}
	}

	if addr := request.Customer.Address; addr != nil {
		params["PAYMENTREQUEST_0_SHIPTONAME"] = request.Customer.FirstName + " " + request.Customer.LastName
		params["PAYMENTREQUEST_0_SHIPTOSTREET"] = addr.Line1
		if addr.Line2 != "" {
			params["PAYMENTREQUEST_0_SHIPTOSTREET2"] = addr.Line2
		}
		params["PAYMENTREQUEST_0_SHIPTOCITY"] = addr.City
		if addr.State != "" {
			params["PAYMENTREQUEST_0_SHIPTOSTATE"] = lookup.StateCode(addr.State)
		}
		params["PAYMENTREQUEST_0_SHIPTOZIP"] = addr.PostalCode
		params["PAYMENTREQUEST_0_SHIPTOCOUNTRYCODE"] = addr.Country
	}
}

// reconcileOrder inserts a synthetic adjustment line so the PayPal
// breakdown sums to the charged total.
func reconcileOrder(request provider.PaymentRequest) (*reconcile.Result, error) {
	totals, items := request.OrderSnapshot()
	return reconcile.Reconcile(totals, items, reconcile.PolicyAdjustmentLine)
}

// call sends an NVP API request and parses the response values.
func (p *PayPalProvider) call(ctx context.Context, method string, params map[string]string) (url.Values, error) {
	form := map[string]string{
		"METHOD":    method,
		"VERSION":   apiVersion,
		"USER":      p.apiUsername,
		"PWD":       p.apiPassword,
		"SIGNATURE": p.apiSignature,
	}
	for k, v := range params {
		form[k] = v
	}

	httpResp, err := p.client.SendForm(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: "",
		FormData: form,
	})
	if err != nil {
		return nil, fmt.Errorf("paypal: %s request failed: %w", method, err)
	}

	values, err := url.ParseQuery(string(httpResp.Body))
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to parse %s response: %w", method, err)
	}
	return values, nil
}

func (p *PayPalProvider) failureResponse(resp url.Values, paymentID string, amount decimal.Decimal, currency string) *provider.PaymentResponse {
	now := time.Now()
	return &provider.PaymentResponse{
		Status:           provider.StatusFailed,
		ErrorCode:        resp.Get("L_ERRORCODE0"),
		Message:          errorMessage(resp),
		PaymentID:        paymentID,
		Amount:           amount,
		Currency:         currency,
		SystemTime:       &now,
		ProviderResponse: flatten(resp),
	}
}

func isAck(resp url.Values) bool {
	ack := resp.Get("ACK")
	return ack == ackSuccess || ack == ackSuccessWithWarning
}

// errorMessage extracts the API error text; the correlation id is what
// PayPal support asks for when troubleshooting.
func errorMessage(resp url.Values) string {
	msg := resp.Get("L_LONGMESSAGE0")
	if msg == "" {
		msg = resp.Get("L_SHORTMESSAGE0")
	}
	if msg == "" {
		msg = "PayPal API call failed"
	}
	if correlationID := resp.Get("CORRELATIONID"); correlationID != "" {
		msg = fmt.Sprintf("%s (correlation id %s)", msg, correlationID)
	}
	return msg
}

func firstValue(data map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := data[k]; v != "" {
			return v
		}
	}
	return ""
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

// formatAmount renders an amount with two decimal places, or none for
// zero-decimal currencies.
func formatAmount(amount decimal.Decimal, currency string) string {
	return money.New(amount, currency).Format()
}
