package authorizenet

import "encoding/json"

// Request and response shapes for the Authorize.Net JSON API. Field
// order inside each struct follows the API schema; the endpoint rejects
// out-of-order properties.

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type creditCardType struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode,omitempty"`
}

type paymentType struct {
	CreditCard *creditCardType `json:"creditCard,omitempty"`
}

type orderType struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

type lineItemType struct {
	ItemID      string `json:"itemId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
}

type lineItemList struct {
	LineItem []lineItemType `json:"lineItem"`
}

type extendedAmount struct {
	Amount      string `json:"amount"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type customerData struct {
	Email string `json:"email,omitempty"`
}

type customerAddress struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
}

type transactionRequestType struct {
	TransactionType string           `json:"transactionType"`
	Amount          string           `json:"amount,omitempty"`
	Payment         *paymentType     `json:"payment,omitempty"`
	RefTransID      string           `json:"refTransId,omitempty"`
	Order           *orderType       `json:"order,omitempty"`
	LineItems       *lineItemList    `json:"lineItems,omitempty"`
	Tax             *extendedAmount  `json:"tax,omitempty"`
	Shipping        *extendedAmount  `json:"shipping,omitempty"`
	Customer        *customerData    `json:"customer,omitempty"`
	BillTo          *customerAddress `json:"billTo,omitempty"`
	CustomerIP      string           `json:"customerIP,omitempty"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication  `json:"merchantAuthentication"`
	RefID                  string                  `json:"refId,omitempty"`
	TransactionRequest     *transactionRequestType `json:"transactionRequest"`
}

type createTransactionEnvelope struct {
	CreateTransactionRequest createTransactionRequest `json:"createTransactionRequest"`
}

type getTransactionDetailsRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransID                string                 `json:"transId"`
}

type getTransactionDetailsEnvelope struct {
	GetTransactionDetailsRequest getTransactionDetailsRequest `json:"getTransactionDetailsRequest"`
}

type apiMessage struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type apiMessages struct {
	ResultCode string       `json:"resultCode"`
	Message    []apiMessage `json:"message"`
}

func (m apiMessages) text() string {
	if len(m.Message) > 0 {
		return m.Message[0].Text
	}
	return "no message returned"
}

type transactionError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

type transactionResponse struct {
	ResponseCode  string             `json:"responseCode"`
	AuthCode      string             `json:"authCode"`
	AVSResultCode string             `json:"avsResultCode"`
	CVVResultCode string             `json:"cvvResultCode"`
	TransID       string             `json:"transId"`
	RefTransID    string             `json:"refTransID"`
	AccountNumber string             `json:"accountNumber"`
	AccountType   string             `json:"accountType"`
	Messages      []apiMessage       `json:"messages"`
	Errors        []transactionError `json:"errors"`
}

type createTransactionResponse struct {
	TransactionResponse transactionResponse `json:"transactionResponse"`
	RefID               string              `json:"refId"`
	Messages            apiMessages         `json:"messages"`
}

func (r createTransactionResponse) approved() bool {
	return r.Messages.ResultCode == resultOK &&
		r.TransactionResponse.ResponseCode == responseCodeApproved
}

func (r createTransactionResponse) errorCode() string {
	if len(r.TransactionResponse.Errors) > 0 {
		return r.TransactionResponse.Errors[0].ErrorCode
	}
	if len(r.Messages.Message) > 0 {
		return r.Messages.Message[0].Code
	}
	return ""
}

func (r createTransactionResponse) errorText() string {
	if len(r.TransactionResponse.Errors) > 0 {
		return r.TransactionResponse.Errors[0].ErrorText
	}
	return r.Messages.text()
}

type detailsCreditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardType       string `json:"cardType"`
}

type detailsPayment struct {
	CreditCard detailsCreditCard `json:"creditCard"`
}

type transactionDetails struct {
	TransID           string         `json:"transId"`
	TransactionType   string         `json:"transactionType"`
	TransactionStatus string         `json:"transactionStatus"`
	ResponseCode      int            `json:"responseCode"`
	AuthCode          string         `json:"authCode"`
	AuthAmount        json.Number    `json:"authAmount"`
	SettleAmount      json.Number    `json:"settleAmount"`
	Payment           detailsPayment `json:"payment"`
}

type getTransactionDetailsResponse struct {
	Transaction transactionDetails `json:"transaction"`
	Messages    apiMessages        `json:"messages"`
}
