package authorizenet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/money"
	"github.com/commercekit/paygate/provider"
	"github.com/commercekit/paygate/reconcile"
)

const (
	// API URLs
	apiSandboxURL    = "https://apitest.authorize.net/xml/v1/request.api"
	apiProductionURL = "https://api.authorize.net/xml/v1/request.api"

	detokenizeSandboxURL    = "https://test-api.tokenex.com/TransparentGatewayAPI/Detokenize"
	detokenizeProductionURL = "https://api.tokenex.com/TransparentGatewayAPI/Detokenize"

	// TokenEx transparent gateway headers
	headerTransactionURL = "TX_URL"
	headerTokenExID      = "TX_TokenExID"
	headerAPIKey         = "TX_APIKey"

	// Transaction types
	txnAuthOnly         = "authOnlyTransaction"
	txnAuthCapture      = "authCaptureTransaction"
	txnPriorAuthCapture = "priorAuthCaptureTransaction"
	txnVoid             = "voidTransaction"
	txnRefund           = "refundTransaction"

	// Transaction statuses
	statusAuthorizedPendingCapture = "authorizedPendingCapture"
	statusCapturedPendingSettle    = "capturedPendingSettlement"
	statusSettledSuccessfully      = "settledSuccessfully"
	statusVoided                   = "voided"
	statusRefundPendingSettle      = "refundPendingSettlement"
	statusRefundSettled            = "refundSettledSuccessfully"
	statusDeclined                 = "declined"

	resultOK             = "Ok"
	responseCodeApproved = "1"

	// Payment actions
	actionAuthorization = "Authorization"
	actionSale          = "Sale"

	// Field length limits enforced by the processor
	maxItemTextLen    = 31
	maxDescriptionLen = 255
	maxLineItems      = 30

	defaultTimeout = 30 * time.Second
)

// utf8BOM prefixes every Authorize.Net JSON response body.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// AuthorizeNetProvider implements the provider.PaymentProvider interface
// for Authorize.Net, with card numbers held by TokenEx. Requests that
// carry a card token are routed through the TokenEx transparent gateway,
// which replaces the {{{token}}} placeholder with the stored PAN before
// forwarding to Authorize.Net.
type AuthorizeNetProvider struct {
	apiLoginID     string
	transactionKey string
	tokenExID      string
	tokenExAPIKey  string
	signatureKey   string
	paymentAction  string
	apiURL         string
	detokenizeURL  string
	isProduction   bool
	client         *provider.ProviderHTTPClient
}

// NewProvider creates a new Authorize.Net payment provider
func NewProvider() provider.PaymentProvider {
	return &AuthorizeNetProvider{}
}

// Initialize sets up the Authorize.Net payment provider with API credentials
func (p *AuthorizeNetProvider) Initialize(conf map[string]string) error {
	p.apiLoginID = conf["apiLoginId"]
	p.transactionKey = conf["transactionKey"]
	if p.apiLoginID == "" || p.transactionKey == "" {
		return errors.New("authorizenet: apiLoginId and transactionKey are required")
	}

	p.tokenExID = conf["tokenExId"]
	p.tokenExAPIKey = conf["tokenExApiKey"]
	if p.tokenExID == "" || p.tokenExAPIKey == "" {
		return errors.New("authorizenet: tokenExId and tokenExApiKey are required")
	}

	p.signatureKey = conf["signatureKey"]

	p.paymentAction = conf["paymentAction"]
	if p.paymentAction == "" {
		p.paymentAction = actionAuthorization
	}
	if p.paymentAction != actionAuthorization && p.paymentAction != actionSale {
		return fmt.Errorf("authorizenet: paymentAction must be %s or %s", actionAuthorization, actionSale)
	}

	p.isProduction = conf["environment"] == "production"
	p.apiURL = apiSandboxURL
	p.detokenizeURL = detokenizeSandboxURL
	if p.isProduction {
		p.apiURL = apiProductionURL
		p.detokenizeURL = detokenizeProductionURL
	}
	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(p.apiURL, p.isProduction, defaultTimeout))

	return nil
}

// GetRequiredConfig returns the configuration fields required for Authorize.Net
func (p *AuthorizeNetProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiLoginId",
			Required:    true,
			Type:        "string",
			Description: "Authorize.Net API login ID",
		},
		{
			Key:         "transactionKey",
			Required:    true,
			Type:        "string",
			Description: "Authorize.Net transaction key",
		},
		{
			Key:         "tokenExId",
			Required:    true,
			Type:        "string",
			Description: "TokenEx tokenization ID",
		},
		{
			Key:         "tokenExApiKey",
			Required:    true,
			Type:        "string",
			Description: "TokenEx API key",
		},
		{
			Key:         "signatureKey",
			Required:    false,
			Type:        "string",
			Description: "Signature key for webhook verification",
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

// ValidateConfig validates the provided configuration against Authorize.Net requirements
func (p *AuthorizeNetProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("authorizenet", conf, p.GetRequiredConfig(conf["environment"]))
}

// CreatePayment authorizes (or authorizes and captures, depending on the
// configured payment action) a tokenized card payment.
func (p *AuthorizeNetProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request); err != nil {
		return nil, fmt.Errorf("authorizenet: invalid payment request: %w", err)
	}
	result, err := reconcileOrder(request)
	if err != nil {
		return nil, fmt.Errorf("authorizenet: %w", err)
	}

	invoiceNumber := request.OrderNumber
	if invoiceNumber == "" {
		invoiceNumber = uuid.New().String()
	}

	transactionType := txnAuthOnly
	successStatus := provider.StatusAuthorized
	if p.paymentAction == actionSale {
		transactionType = txnAuthCapture
		successStatus = provider.StatusCaptured
	}

	txn := &transactionRequestType{
		TransactionType: transactionType,
		Amount:          formatAmount(request.Amount, request.Currency),
		Payment:         p.buildPayment(request.CardInfo),
		Order:           &orderType{InvoiceNumber: truncate(invoiceNumber, 20), Description: truncate(request.Description, maxDescriptionLen)},
		LineItems:       buildLineItems(result),
		Tax:             &extendedAmount{Amount: result.Tax.Format(), Name: "Tax"},
		Shipping:        &extendedAmount{Amount: result.Shipping.Format(), Name: "Shipping"},
		CustomerIP:      request.ClientIP,
	}
	if request.Customer.Email != "" {
		txn.Customer = &customerData{Email: request.Customer.Email}
	}
	if addr := request.Customer.Address; addr != nil {
		txn.BillTo = &customerAddress{
			FirstName: truncate(request.Customer.FirstName, 50),
			LastName:  truncate(request.Customer.LastName, 50),
			Address:   addr.Line1,
			City:      addr.City,
			State:     addr.State,
			Zip:       addr.PostalCode,
			Country:   addr.Country,
		}
	}

	var resp createTransactionResponse
	tokenized := request.CardInfo.Token != ""
	if err := p.send(ctx, createTransactionEnvelope{createTransactionRequest{
		MerchantAuthentication: p.merchantAuthentication(),
		RefID:                  truncate(invoiceNumber, 20),
		TransactionRequest:     txn,
	}}, &resp, tokenized); err != nil {
		return nil, err
	}

	return p.mapTransactionResponse(&resp, invoiceNumber, request.Amount, request.Currency, successStatus), nil
}

// Create3DPayment is the same as CreatePayment: the card never touches
// this service, TokenEx holds it, so there is no redirect step.
func (p *AuthorizeNetProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	return p.CreatePayment(ctx, request)
}

// Complete3DPayment is not used; the payment completes synchronously.
func (p *AuthorizeNetProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	return nil, errors.New("authorizenet: does not use a redirect flow")
}

// GetPaymentStatus looks up the transaction state by transaction id
func (p *AuthorizeNetProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	if request.PaymentID == "" {
		return nil, errors.New("authorizenet: paymentId is required")
	}

	details, err := p.transactionDetails(ctx, request.PaymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	response := &provider.PaymentResponse{
		Success:          true,
		Status:           mapTransactionStatus(details.TransactionStatus),
		Message:          details.TransactionStatus,
		TransactionID:    details.TransID,
		PaymentID:        request.PaymentID,
		SystemTime:       &now,
		ProviderResponse: details,
	}
	if amt, err := decimal.NewFromString(details.AuthAmount.String()); err == nil {
		response.Amount = amt
	}
	if response.Status == provider.StatusFailed {
		response.Success = false
	}
	return response, nil
}

// CapturePayment settles a prior authorization. A transaction that is
// already captured or settled is reported as captured without sending
// another settlement request, so repeating a capture is harmless.
func (p *AuthorizeNetProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("authorizenet: transactionId is required for capture")
	}
	if request.Currency == "" {
		return nil, errors.New("authorizenet: currency is required for capture")
	}

	details, err := p.transactionDetails(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if isCapturedOrSettled(details) {
		now := time.Now()
		return &provider.PaymentResponse{
			Success:       true,
			Status:        provider.StatusCaptured,
			Message:       "transaction is already captured or settled",
			TransactionID: transactionID,
			PaymentID:     request.PaymentID,
			Amount:        request.Amount,
			Currency:      request.Currency,
			SystemTime:    &now,
		}, nil
	}

	var resp createTransactionResponse
	if err := p.send(ctx, createTransactionEnvelope{createTransactionRequest{
		MerchantAuthentication: p.merchantAuthentication(),
		TransactionRequest: &transactionRequestType{
			TransactionType: txnPriorAuthCapture,
			Amount:          formatAmount(request.Amount, request.Currency),
			RefTransID:      transactionID,
		},
	}}, &resp, false); err != nil {
		return nil, err
	}

	return p.mapTransactionResponse(&resp, request.PaymentID, request.Amount, request.Currency, provider.StatusCaptured), nil
}

// CancelPayment voids an unsettled transaction
func (p *AuthorizeNetProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("authorizenet: transactionId is required for cancel")
	}

	var resp createTransactionResponse
	if err := p.send(ctx, createTransactionEnvelope{createTransactionRequest{
		MerchantAuthentication: p.merchantAuthentication(),
		TransactionRequest: &transactionRequestType{
			TransactionType: txnVoid,
			RefTransID:      transactionID,
		},
	}}, &resp, false); err != nil {
		return nil, err
	}

	return p.mapTransactionResponse(&resp, request.PaymentID, decimal.Zero, "", provider.StatusCancelled), nil
}

// RefundPayment credits a settled transaction. Authorize.Net only
// refunds settled transactions and requires the masked card number the
// transaction was paid with; both come from the transaction details.
func (p *AuthorizeNetProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("authorizenet: transactionId is required for refund")
	}
	if request.Currency == "" {
		return nil, errors.New("authorizenet: currency is required for refund")
	}

	details, err := p.transactionDetails(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if details.TransactionStatus != statusSettledSuccessfully {
		return nil, fmt.Errorf("authorizenet: refund requires a settled transaction, status is %s", details.TransactionStatus)
	}

	amount := request.RefundAmount
	if !amount.IsPositive() {
		if amount, err = decimal.NewFromString(details.SettleAmount.String()); err != nil {
			return nil, fmt.Errorf("authorizenet: transaction has no settle amount to refund: %w", err)
		}
	}

	var resp createTransactionResponse
	if err := p.send(ctx, createTransactionEnvelope{createTransactionRequest{
		MerchantAuthentication: p.merchantAuthentication(),
		TransactionRequest: &transactionRequestType{
			TransactionType: txnRefund,
			Amount:          formatAmount(amount, request.Currency),
			Payment: &paymentType{CreditCard: &creditCardType{
				CardNumber:     maskedCardNumber(details),
				ExpirationDate: "XXXX",
			}},
			RefTransID: transactionID,
		},
	}}, &resp, false); err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		PaymentID:    request.PaymentID,
		RefundID:     resp.TransactionResponse.TransID,
		RefundAmount: amount,
		SystemTime:   &now,
		RawResponse:  resp,
	}
	if resp.approved() {
		refundResp.Success = true
		refundResp.Status = "refunded"
		refundResp.Message = "refund accepted"
	} else {
		refundResp.ErrorCode = resp.errorCode()
		refundResp.Message = resp.errorText()
	}
	return refundResp, nil
}

// ValidateWebhook verifies the HMAC-SHA512 notification signature. The
// webhook handler passes the unmodified request body under the "_raw"
// key because the signature covers the exact bytes received.
func (p *AuthorizeNetProvider) ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error) {
	if p.signatureKey == "" {
		return false, nil, errors.New("authorizenet: signatureKey is not configured")
	}
	signature := headers["X-Anet-Signature"]
	if signature == "" {
		signature = headers["X-ANET-Signature"]
	}
	if signature == "" {
		return false, nil, errors.New("authorizenet: notification signature header is missing")
	}

	body := data["_raw"]
	mac := hmac.New(sha512.New, []byte(p.signatureKey))
	mac.Write([]byte(body))
	expected := "sha512=" + strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	if !hmac.Equal([]byte(strings.ToUpper(signature)), []byte(expected)) {
		return false, nil, errors.New("authorizenet: notification signature does not match")
	}

	var event struct {
		NotificationID string `json:"notificationId"`
		EventType      string `json:"eventType"`
		Payload        struct {
			ID           string `json:"id"`
			ResponseCode int    `json:"responseCode"`
			AuthAmount   any    `json:"authAmount"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return false, nil, fmt.Errorf("authorizenet: failed to parse notification: %w", err)
	}
	return true, map[string]string{
		"notificationId": event.NotificationID,
		"eventType":      event.EventType,
		"transactionId":  event.Payload.ID,
	}, nil
}

func (p *AuthorizeNetProvider) validatePaymentRequest(request provider.PaymentRequest) error {
	if !request.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if request.Currency == "" {
		return errors.New("currency is required")
	}
	card := request.CardInfo
	if card.Token == "" && card.CardNumber == "" {
		return errors.New("a card token or card number is required")
	}
	if card.ExpireMonth == "" || card.ExpireYear == "" {
		return errors.New("card expiry is required")
	}
	return nil
}

func (p *AuthorizeNetProvider) merchantAuthentication() merchantAuthentication {
	return merchantAuthentication{Name: p.apiLoginID, TransactionKey: p.transactionKey}
}

// buildPayment renders the card block. A TokenEx token becomes a
// {{{token}}} placeholder that the transparent gateway detokenizes in
// flight; the PAN never transits this service.
func (p *AuthorizeNetProvider) buildPayment(card provider.CardInfo) *paymentType {
	cc := &creditCardType{ExpirationDate: expirationDate(card)}
	if card.Token != "" {
		cc.CardNumber = "{{{" + card.Token + "}}}"
		cc.CardCode = "{{{CVV}}}"
	} else {
		cc.CardNumber = card.CardNumber
		cc.CardCode = card.CVV
	}
	return &paymentType{CreditCard: cc}
}

func (p *AuthorizeNetProvider) transactionDetails(ctx context.Context, transactionID string) (*transactionDetails, error) {
	var resp getTransactionDetailsResponse
	if err := p.send(ctx, getTransactionDetailsEnvelope{getTransactionDetailsRequest{
		MerchantAuthentication: p.merchantAuthentication(),
		TransID:                transactionID,
	}}, &resp, false); err != nil {
		return nil, err
	}
	if resp.Messages.ResultCode != resultOK {
		return nil, fmt.Errorf("authorizenet: transaction lookup failed: %s", resp.Messages.text())
	}
	return &resp.Transaction, nil
}

// send posts a request envelope to Authorize.Net, optionally routed
// through the TokenEx transparent gateway.
func (p *AuthorizeNetProvider) send(ctx context.Context, payload any, out any, tokenized bool) error {
	req := &provider.HTTPRequest{
		Method: http.MethodPost,
		Body:   payload,
	}
	if tokenized {
		req.Endpoint = p.detokenizeURL
		req.Headers = map[string]string{
			headerTransactionURL: p.apiURL,
			headerTokenExID:      p.tokenExID,
			headerAPIKey:         p.tokenExAPIKey,
		}
	}

	httpResp, err := p.client.SendJSON(ctx, req)
	if err != nil {
		return fmt.Errorf("authorizenet: request failed: %w", err)
	}

	body := bytes.TrimPrefix(httpResp.Body, utf8BOM)
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("authorizenet: failed to parse response: %w", err)
	}
	return nil
}

func (p *AuthorizeNetProvider) mapTransactionResponse(resp *createTransactionResponse, paymentID string, amount decimal.Decimal, currency string, successStatus provider.PaymentStatus) *provider.PaymentResponse {
	now := time.Now()
	response := &provider.PaymentResponse{
		TransactionID:    resp.TransactionResponse.TransID,
		PaymentID:        paymentID,
		Amount:           amount,
		Currency:         currency,
		SystemTime:       &now,
		ProviderResponse: resp,
	}
	if resp.approved() {
		response.Success = true
		response.Status = successStatus
		response.Message = "approved, auth code " + resp.TransactionResponse.AuthCode
	} else {
		response.Status = provider.StatusFailed
		response.ErrorCode = resp.errorCode()
		response.Message = resp.errorText()
	}
	return response
}

// reconcileOrder re-prices the largest-quantity line so that the summed
// line items never undershoot the charged amount.
func reconcileOrder(request provider.PaymentRequest) (*reconcile.Result, error) {
	totals, items := request.OrderSnapshot()
	return reconcile.Reconcile(totals, items, reconcile.PolicyLargestQuantity)
}

// buildLineItems converts reconciled lines into the processor's item
// list. The API accepts at most 30 items; overflow is dropped, the
// amount fields already carry the full totals.
func buildLineItems(result *reconcile.Result) *lineItemList {
	if len(result.Lines) == 0 {
		return nil
	}
	lines := result.Lines
	if len(lines) > maxLineItems {
		lines = lines[:maxLineItems]
	}
	list := &lineItemList{LineItem: make([]lineItemType, 0, len(lines))}
	for _, line := range lines {
		name := line.Name
		if name == "" {
			name = line.Code
		}
		list.LineItem = append(list.LineItem, lineItemType{
			ItemID:    truncate(line.Code, maxItemTextLen),
			Name:      truncate(name, maxItemTextLen),
			Quantity:  strconv.FormatInt(line.Quantity, 10),
			UnitPrice: line.UnitPrice.Amount.String(),
		})
	}
	return list
}

func isCapturedOrSettled(details *transactionDetails) bool {
	if details.TransactionStatus == statusSettledSuccessfully {
		return true
	}
	// A capture on the Authorize.Net side sets the settle amount equal
	// to the authorized amount. A partial capture from a multi-shipment
	// order leaves them different and further captures must go through.
	return details.TransactionStatus == statusCapturedPendingSettle &&
		details.SettleAmount.String() == details.AuthAmount.String()
}

func mapTransactionStatus(status string) provider.PaymentStatus {
	switch status {
	case statusAuthorizedPendingCapture:
		return provider.StatusAuthorized
	case statusCapturedPendingSettle:
		return provider.StatusCaptured
	case statusSettledSuccessfully:
		return provider.StatusSuccessful
	case statusVoided:
		return provider.StatusCancelled
	case statusRefundPendingSettle, statusRefundSettled:
		return provider.StatusRefunded
	case statusDeclined:
		return provider.StatusFailed
	default:
		return provider.StatusProcessing
	}
}

func maskedCardNumber(details *transactionDetails) string {
	number := details.Payment.CreditCard.CardNumber
	if len(number) > 4 {
		number = number[len(number)-4:]
	}
	return number
}

func expirationDate(card provider.CardInfo) string {
	year := card.ExpireYear
	if len(year) == 4 {
		year = year[2:]
	}
	month := card.ExpireMonth
	if len(month) == 1 {
		month = "0" + month
	}
	return year + month
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatAmount(amount decimal.Decimal, currency string) string {
	return money.New(amount, currency).Format()
}
