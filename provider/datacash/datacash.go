package datacash

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
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
	apiSandboxURL    = "https://testserver.datacash.com/Transaction"
	apiProductionURL = "https://mars.transaction.datacash.com/Transaction"

	// Transaction methods
	methodSetup     = "setup"
	methodPre       = "pre"
	methodFulfill   = "fulfill"
	methodTxnRefund = "txn_refund"
	methodCancel    = "cancel"

	// Response.status value for an accepted transaction
	statusAccepted = 1

	// Query parameter appended to the hosted page URL
	hpsSessionParam = "HPS_SessionID"

	defaultPageSetID = "1"
	defaultTimeout   = 30 * time.Second
)

// DataCashProvider implements the provider.PaymentProvider interface for
// the DataCash XML API with the hosted payment pages (HPS) and The3rdMan
// fraud screening service.
type DataCashProvider struct {
	userID         string
	password       string
	paymentPageID  string
	gatewayBaseURL string
	isProduction   bool
	client         *provider.ProviderHTTPClient
	encryptor      *provider.CallbackEncryptor
}

// NewProvider creates a new DataCash payment provider
func NewProvider() provider.PaymentProvider {
	return &DataCashProvider{}
}

// Initialize sets up the DataCash payment provider with API credentials
func (p *DataCashProvider) Initialize(conf map[string]string) error {
	p.userID = conf["userId"]
	p.password = conf["password"]

	if p.userID == "" || p.password == "" {
		return errors.New("datacash: userId and password are required")
	}

	p.paymentPageID = conf["paymentPageId"]
	if p.paymentPageID == "" {
		p.paymentPageID = defaultPageSetID
	}

	if gatewayBaseURL, ok := conf["gatewayBaseURL"]; ok && gatewayBaseURL != "" {
		p.gatewayBaseURL = gatewayBaseURL
	} else {
		p.gatewayBaseURL = config.GetEnv("APP_URL", "http://localhost:9999")
	}
	p.encryptor = provider.NewCallbackEncryptor(config.App().SecretKey)

	p.isProduction = conf["environment"] == "production"
	baseURL := apiSandboxURL
	if p.isProduction {
		baseURL = apiProductionURL
	}
	if hostAddress := conf["hostAddress"]; hostAddress != "" {
		baseURL = hostAddress
	}
	p.client = provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(baseURL, p.isProduction, defaultTimeout))

	return nil
}

// GetRequiredConfig returns the configuration fields required for DataCash
func (p *DataCashProvider) GetRequiredConfig(environment string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "userId",
			Required:    true,
			Type:        "string",
			Description: "DataCash API client (vTID)",
			Example:     "99002900",
		},
		{
			Key:         "password",
			Required:    true,
			Type:        "string",
			Description: "DataCash API password",
			MinLength:   6,
		},
		{
			Key:         "paymentPageId",
			Required:    false,
			Type:        "number",
			Description: "Hosted payment page set id",
			Example:     "1",
		},
		{
			Key:         "hostAddress",
			Required:    false,
			Type:        "url",
			Description: "Transaction endpoint override",
			Example:     apiSandboxURL,
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

// ValidateConfig validates the provided configuration against DataCash requirements
func (p *DataCashProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("datacash", conf, p.GetRequiredConfig(conf["environment"]))
}

// CreatePayment pre-authorizes a card through the XML API with realtime
// The3rdMan fraud screening.
func (p *DataCashProvider) CreatePayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request, false); err != nil {
		return nil, fmt.Errorf("datacash: invalid payment request: %w", err)
	}
	result, err := reconcileOrder(request)
	if err != nil {
		return nil, fmt.Errorf("datacash: %w", err)
	}

	merchantRef := merchantReference(request.OrderNumber)
	doc := p.newRequest()
	doc.Transaction.TxnDetails = &txnDetails{
		MerchantReference: merchantRef,
		Amount:            &amountField{Currency: request.Currency, Value: formatAmount(request.Amount, request.Currency)},
		The3rdMan:         p.buildFraudScreen(request, result),
	}
	doc.Transaction.CardTxn = &cardTxn{
		Method: methodPre,
		Card: &card{
			PAN:        request.CardInfo.CardNumber,
			ExpiryDate: fmt.Sprintf("%s/%s", request.CardInfo.ExpireMonth, request.CardInfo.ExpireYear),
			CV2:        request.CardInfo.CVV,
		},
	}

	resp, err := p.send(ctx, doc)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, merchantRef, request.Amount, request.Currency, provider.StatusAuthorized), nil
}

// Create3DPayment sets up a hosted payment page session and returns the
// redirect URL for the shopper.
func (p *DataCashProvider) Create3DPayment(ctx context.Context, request provider.PaymentRequest) (*provider.PaymentResponse, error) {
	if err := p.validatePaymentRequest(request, true); err != nil {
		return nil, fmt.Errorf("datacash: invalid 3D payment request: %w", err)
	}
	if _, err := reconcileOrder(request); err != nil {
		return nil, fmt.Errorf("datacash: %w", err)
	}

	merchantRef := merchantReference(request.OrderNumber)
	state := provider.CallbackState{
		TenantID:         request.TenantID,
		PaymentID:        merchantRef,
		OrderNumber:      merchantRef,
		OriginalCallback: request.CallbackURL,
		Amount:           request.Amount,
		Currency:         request.Currency,
		Provider:         "datacash",
		Environment:      request.Environment,
		Timestamp:        time.Now(),
		ClientIP:         request.ClientIP,
	}
	returnURL, err := p.encryptor.CallbackURL(p.gatewayBaseURL, "datacash", state)
	if err != nil {
		return nil, fmt.Errorf("datacash: failed to build callback URL: %w", err)
	}

	doc := p.newRequest()
	doc.Transaction.TxnDetails = &txnDetails{
		MerchantReference: merchantRef,
		Amount:            &amountField{Currency: request.Currency, Value: formatAmount(request.Amount, request.Currency)},
	}
	doc.Transaction.HpsTxn = &hpsTxn{
		Method:    methodSetup,
		PageSetID: p.paymentPageID,
		ReturnURL: returnURL,
	}

	resp, err := p.send(ctx, doc)
	if err != nil {
		return nil, err
	}
	if resp.Status != statusAccepted {
		return p.mapResponse(resp, merchantRef, request.Amount, request.Currency, provider.StatusPending), nil
	}
	if resp.HpsTxn == nil || resp.HpsTxn.HpsURL == "" {
		return nil, errors.New("datacash: setup response is missing the hosted page URL")
	}

	now := time.Now()
	return &provider.PaymentResponse{
		Success:          true,
		Status:           provider.StatusPending,
		Message:          "redirect shopper to the hosted payment page",
		TransactionID:    resp.DataCashReference,
		PaymentID:        merchantRef,
		OrderNumber:      merchantRef,
		Amount:           request.Amount,
		Currency:         request.Currency,
		RedirectURL:      fmt.Sprintf("%s?%s=%s", resp.HpsTxn.HpsURL, hpsSessionParam, resp.HpsTxn.SessionID),
		SystemTime:       &now,
		ProviderResponse: resp,
	}, nil
}

// Complete3DPayment pre-authorizes the card captured by the hosted page
// after the shopper returns. The card details reference the HPS session;
// the host passes back the reference returned by Create3DPayment.
func (p *DataCashProvider) Complete3DPayment(ctx context.Context, state *provider.CallbackState, data map[string]string) (*provider.PaymentResponse, error) {
	if state == nil {
		return nil, errors.New("datacash: callback state is required")
	}
	reference := data["datacash_reference"]
	if reference == "" {
		reference = data["reference"]
	}
	if reference == "" {
		return nil, errors.New("datacash: callback is missing the session reference")
	}

	doc := p.newRequest()
	doc.Transaction.TxnDetails = &txnDetails{
		MerchantReference: state.PaymentID,
		Amount:            &amountField{Value: formatAmount(state.Amount, state.Currency)},
	}
	doc.Transaction.CardTxn = &cardTxn{
		Method:      methodPre,
		CardDetails: &cardDetails{Type: "from_hps", Value: reference},
	}

	resp, err := p.send(ctx, doc)
	if err != nil {
		return nil, err
	}

	response := p.mapResponse(resp, state.PaymentID, state.Amount, state.Currency, provider.StatusAuthorized)
	if response.Success && resp.CardTxn != nil {
		// The authcode is needed for fulfillment and must come back
		// with the capture request.
		response.Message = fmt.Sprintf("authorized, authcode %s", resp.CardTxn.AuthCode)
	}
	return response, nil
}

// GetPaymentStatus is not part of the transaction API; the transaction
// history lives in the DataCash reporting interface.
func (p *DataCashProvider) GetPaymentStatus(ctx context.Context, request provider.GetPaymentStatusRequest) (*provider.PaymentResponse, error) {
	return nil, errors.New("datacash: payment status lookup is not supported, use the reporting interface")
}

// CapturePayment fulfills a pre-authorized transaction
func (p *DataCashProvider) CapturePayment(ctx context.Context, request provider.CaptureRequest) (*provider.PaymentResponse, error) {
	if request.TransactionID == "" {
		return nil, errors.New("datacash: transactionId is required for capture")
	}
	if request.Currency == "" {
		return nil, errors.New("datacash: currency is required for capture")
	}

	doc := p.newRequest()
	doc.Transaction.TxnDetails = &txnDetails{
		MerchantReference: merchantReference(request.PaymentID),
		Amount:            &amountField{Value: formatAmount(request.Amount, request.Currency)},
	}
	doc.Transaction.HistoricTxn = &historicTxn{
		Method:    methodFulfill,
		AuthCode:  request.AuthCode,
		Reference: request.TransactionID,
	}

	resp, err := p.send(ctx, doc)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, request.PaymentID, request.Amount, request.Currency, provider.StatusCaptured), nil
}

// CancelPayment cancels a pre-authorized transaction
func (p *DataCashProvider) CancelPayment(ctx context.Context, request provider.CancelRequest) (*provider.PaymentResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("datacash: transactionId is required for cancel")
	}

	doc := p.newRequest()
	doc.Transaction.HistoricTxn = &historicTxn{
		Method:    methodCancel,
		Reference: transactionID,
	}

	resp, err := p.send(ctx, doc)
	if err != nil {
		return nil, err
	}
	return p.mapResponse(resp, request.PaymentID, decimal.Zero, "", provider.StatusCancelled), nil
}

// RefundPayment refunds a settled transaction
func (p *DataCashProvider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResponse, error) {
	transactionID := request.TransactionID
	if transactionID == "" {
		transactionID = request.PaymentID
	}
	if transactionID == "" {
		return nil, errors.New("datacash: transactionId is required for refund")
	}
	if request.Currency == "" {
		return nil, errors.New("datacash: currency is required for refund")
	}

	doc := p.newRequest()
	doc.Transaction.TxnDetails = &txnDetails{
		Amount: &amountField{Value: formatAmount(request.RefundAmount, request.Currency)},
	}
	doc.Transaction.HistoricTxn = &historicTxn{
		Method:    methodTxnRefund,
		Reference: transactionID,
	}

	resp, err := p.send(ctx, doc)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refundResp := &provider.RefundResponse{
		PaymentID:    request.PaymentID,
		RefundID:     resp.DataCashReference,
		RefundAmount: request.RefundAmount,
		Status:       strconv.Itoa(resp.Status),
		SystemTime:   &now,
		RawResponse:  resp,
	}
	if resp.Status == statusAccepted {
		refundResp.Success = true
		refundResp.Message = "refund accepted"
	} else {
		refundResp.ErrorCode = strconv.Itoa(resp.Status)
		refundResp.Message = resp.errorMessage()
	}
	return refundResp, nil
}

// ValidateWebhook passes the notification through. The hosted pages
// return the shopper through the callback endpoint instead of posting
// server-to-server notifications.
func (p *DataCashProvider) ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error) {
	return true, data, nil
}

func (p *DataCashProvider) validatePaymentRequest(request provider.PaymentRequest, is3D bool) error {
	if !request.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if request.Currency == "" {
		return errors.New("currency is required")
	}
	if is3D {
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

// buildFraudScreen assembles the realtime The3rdMan block from the
// customer data and the reconciled product lines.
func (p *DataCashProvider) buildFraudScreen(request provider.PaymentRequest, result *reconcile.Result) *the3rdMan {
	screen := &the3rdMan{
		Type: "realtime",
		CustomerInformation: &customerInformation{
			CustomerReference: strconv.FormatInt(time.Now().UnixNano(), 10),
			Forename:          request.Customer.FirstName,
			Surname:           request.Customer.LastName,
			Telephone:         request.Customer.PhoneNumber,
			Email:             request.Customer.Email,
			MobileTelephone:   request.Customer.PhoneNumber,
			IPAddress:         request.ClientIP,
		},
		RegisterConsumerWatch: "true",
	}

	if addr := request.Customer.Address; addr != nil {
		screenAddr := &screeningAddress{
			StreetAddress1: addr.Line1,
			StreetAddress2: addr.Line2,
			City:           addr.City,
			Country:        lookup.CountryNumericCode(addr.Country),
			Postcode:       addr.PostalCode,
		}
		screen.BillingAddress = screenAddr
		screen.DeliveryAddress = screenAddr
	}

	if len(result.Lines) > 0 {
		products := &productList{Count: strconv.Itoa(len(result.Lines))}
		for _, line := range result.Lines {
			products.Products = append(products.Products, product{
				Code:     line.Code,
				Quantity: strconv.FormatInt(line.Quantity, 10),
				Price:    formatAmount(line.UnitPrice.Amount, line.UnitPrice.Currency),
			})
		}
		screen.OrderInformation = &orderInformation{Products: products}
	}

	return screen
}

// reconcileOrder absorbs rounding residuals into the largest-quantity
// line; the fixed Product schema has no room for a synthetic line.
func reconcileOrder(request provider.PaymentRequest) (*reconcile.Result, error) {
	totals, items := request.OrderSnapshot()
	if len(items) == 0 {
		return &reconcile.Result{}, nil
	}
	return reconcile.Reconcile(totals, items, reconcile.PolicyLargestQuantity)
}

func (p *DataCashProvider) newRequest() *requestDocument {
	return &requestDocument{
		Authentication: authentication{Client: p.userID, Password: p.password},
	}
}

func (p *DataCashProvider) send(ctx context.Context, doc *requestDocument) (*responseDocument, error) {
	httpResp, err := p.client.SendXML(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: "",
		Body:     doc,
	})
	if err != nil {
		return nil, fmt.Errorf("datacash: request failed: %w", err)
	}

	var resp responseDocument
	if err := p.client.ParseXMLResponse(httpResp, &resp); err != nil {
		return nil, fmt.Errorf("datacash: failed to parse response: %w", err)
	}
	return &resp, nil
}

func (p *DataCashProvider) mapResponse(resp *responseDocument, paymentID string, amount decimal.Decimal, currency string, successStatus provider.PaymentStatus) *provider.PaymentResponse {
	now := time.Now()
	response := &provider.PaymentResponse{
		TransactionID:    resp.DataCashReference,
		PaymentID:        paymentID,
		OrderNumber:      resp.MerchantReference,
		Amount:           amount,
		Currency:         currency,
		SystemTime:       &now,
		ProviderResponse: resp,
	}
	if response.OrderNumber == "" {
		response.OrderNumber = paymentID
	}

	if resp.Status == statusAccepted {
		response.Success = true
		response.Status = successStatus
		response.Message = "accepted"
	} else {
		response.Status = provider.StatusFailed
		response.ErrorCode = strconv.Itoa(resp.Status)
		response.Message = resp.errorMessage()
	}
	return response
}

// merchantReference returns the order number or a generated reference.
// DataCash requires references to be unique per transaction attempt.
func merchantReference(orderNumber string) string {
	if orderNumber != "" {
		return orderNumber
	}
	return uuid.New().String()
}

// formatAmount renders an amount the way the XML API expects: rounded
// to currency precision with trailing zeros trimmed.
func formatAmount(amount decimal.Decimal, currency string) string {
	return money.Round(amount, currency).String()
}

// Request document ("Request" element). Optional sections are pointers
// so only the populated transaction type is serialized.
type requestDocument struct {
	XMLName        xml.Name       `xml:"Request"`
	Authentication authentication `xml:"Authentication"`
	Transaction    transaction    `xml:"Transaction"`
}

type authentication struct {
	Client   string `xml:"client"`
	Password string `xml:"password"`
}

type transaction struct {
	TxnDetails  *txnDetails  `xml:"TxnDetails,omitempty"`
	CardTxn     *cardTxn     `xml:"CardTxn,omitempty"`
	HpsTxn      *hpsTxn      `xml:"HpsTxn,omitempty"`
	HistoricTxn *historicTxn `xml:"HistoricTxn,omitempty"`
}

type txnDetails struct {
	MerchantReference string       `xml:"merchantreference,omitempty"`
	Amount            *amountField `xml:"amount,omitempty"`
	The3rdMan         *the3rdMan   `xml:"The3rdMan,omitempty"`
}

type amountField struct {
	Currency string `xml:"currency,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type cardTxn struct {
	Method      string       `xml:"method"`
	Card        *card        `xml:"Card,omitempty"`
	CardDetails *cardDetails `xml:"card_details,omitempty"`
}

type card struct {
	PAN        string `xml:"pan"`
	ExpiryDate string `xml:"expirydate"`
	CV2        string `xml:"cv2,omitempty"`
}

type cardDetails struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type hpsTxn struct {
	Method    string `xml:"method"`
	PageSetID string `xml:"page_set_id"`
	ReturnURL string `xml:"return_url"`
}

type historicTxn struct {
	Method    string `xml:"method"`
	AuthCode  string `xml:"authcode,omitempty"`
	Reference string `xml:"reference"`
}

type the3rdMan struct {
	Type                  string               `xml:"type,attr"`
	CustomerInformation   *customerInformation `xml:"CustomerInformation,omitempty"`
	DeliveryAddress       *screeningAddress    `xml:"DeliveryAddress,omitempty"`
	BillingAddress        *screeningAddress    `xml:"BillingAddress,omitempty"`
	OrderInformation      *orderInformation    `xml:"OrderInformation,omitempty"`
	HTTPHeaderFields      string               `xml:"http_header_fields,omitempty"`
	RegisterConsumerWatch string               `xml:"register_consumer_watch,omitempty"`
}

type customerInformation struct {
	CustomerReference string `xml:"customer_reference"`
	Forename          string `xml:"forename"`
	Surname           string `xml:"surname"`
	Telephone         string `xml:"telephone,omitempty"`
	Email             string `xml:"email"`
	MobileTelephone   string `xml:"mobile_telephone_number,omitempty"`
	IPAddress         string `xml:"ip_address,omitempty"`
}

type screeningAddress struct {
	StreetAddress1 string `xml:"street_address_1"`
	StreetAddress2 string `xml:"street_address_2,omitempty"`
	City           string `xml:"city"`
	Country        string `xml:"country"`
	Postcode       string `xml:"postcode"`
}

type orderInformation struct {
	Products *productList `xml:"Products"`
}

type productList struct {
	Count    string    `xml:"count,attr"`
	Products []product `xml:"Product"`
}

type product struct {
	Code     string `xml:"code"`
	Quantity string `xml:"quantity"`
	Price    string `xml:"price"`
}

// Response document ("Response" element).
type responseDocument struct {
	XMLName           xml.Name         `xml:"Response"`
	Status            int              `xml:"status"`
	Reason            string           `xml:"reason"`
	Information       string           `xml:"information"`
	Time              string           `xml:"time"`
	DataCashReference string           `xml:"datacash_reference"`
	MerchantReference string           `xml:"merchantreference"`
	CardTxn           *cardTxnResponse `xml:"CardTxn"`
	HpsTxn            *hpsTxnResponse  `xml:"HpsTxn"`
}

type cardTxnResponse struct {
	AuthCode string `xml:"authcode"`
}

type hpsTxnResponse struct {
	HpsURL    string `xml:"hps_url"`
	SessionID string `xml:"session_id"`
}

func (r *responseDocument) errorMessage() string {
	if r.Information != "" {
		return r.Information
	}
	if r.Reason != "" {
		return r.Reason
	}
	return "transaction was not accepted"
}
