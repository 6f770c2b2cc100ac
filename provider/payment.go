package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/money"
	"github.com/commercekit/paygate/reconcile"
)

// PaymentStatus represents the current status of a payment
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusAuthorized PaymentStatus = "authorized"
	StatusCaptured   PaymentStatus = "captured"
	StatusSuccessful PaymentStatus = "successful"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

// Address represents a physical address
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"` // ISO-3166 alpha-2
	PostalCode string `json:"postalCode"`
}

// Customer represents the buyer information
type Customer struct {
	ID          string   `json:"id,omitempty"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

// CardInfo represents credit card information. Providers working
// through a tokenization front carry the token instead of the PAN.
type CardInfo struct {
	CardHolderName string `json:"cardHolderName,omitempty"`
	CardNumber     string `json:"cardNumber,omitempty"`
	ExpireMonth    string `json:"expireMonth,omitempty"`
	ExpireYear     string `json:"expireYear,omitempty"`
	CVV            string `json:"cvv,omitempty"`
	Token          string `json:"token,omitempty"`
}

// OrderItem is a product line in the order, priced with the discounted
// extended amount for the whole line. Quantity may arrive fractional
// from the host system; adapters truncate it before sending.
type OrderItem struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExtendedPrice decimal.Decimal `json:"extendedPrice"`
}

// OrderTotals are the independently-rounded subtotals of the order.
// They may not sum to the payment amount; the reconciler makes them
// agree before anything is sent to a provider.
type OrderTotals struct {
	Shipping decimal.Decimal `json:"shipping"`
	Handling decimal.Decimal `json:"handling"`
	Tax      decimal.Decimal `json:"tax"`
}

// ConfigField represents a required configuration field for a payment provider
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "number", "url", "email", "boolean"
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
}

// PaymentRequest contains all information required to create a payment
type PaymentRequest struct {
	ID              string          `json:"id,omitempty"`
	LogID           int64           `json:"logId,omitempty"`
	OrderNumber     string          `json:"orderNumber,omitempty"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	Amount          decimal.Decimal `json:"amount"`
	Totals          OrderTotals     `json:"totals"`
	Items           []OrderItem     `json:"items,omitempty"`
	Customer        Customer        `json:"customer"`
	CardInfo        CardInfo        `json:"cardInfo"`
	Description     string          `json:"description,omitempty"`
	CallbackURL     string          `json:"callbackUrl,omitempty"`
	Use3D           bool            `json:"use3D"`
	Locale          string          `json:"locale,omitempty"`
	ClientIP        string          `json:"clientIp,omitempty"`
	ClientUserAgent string          `json:"clientUserAgent,omitempty"`
	Environment     string          `json:"environment,omitempty"`
	TenantID        int             `json:"tenantId,omitempty"`
}

// OrderSnapshot converts the request's order data into reconciler
// inputs. Every adapter calls this before building its wire request so
// the amounts it reports always sum to the charged total.
func (r PaymentRequest) OrderSnapshot() (reconcile.Totals, []reconcile.LineItem) {
	totals := reconcile.Totals{
		Order:    money.New(r.Amount, r.Currency),
		Shipping: money.New(r.Totals.Shipping, r.Currency),
		Handling: money.New(r.Totals.Handling, r.Currency),
		Tax:      money.New(r.Totals.Tax, r.Currency),
	}
	items := make([]reconcile.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, reconcile.LineItem{
			Code:          it.Code,
			Name:          it.Name,
			Quantity:      it.Quantity,
			ExtendedPrice: money.New(it.ExtendedPrice, r.Currency),
		})
	}
	return totals, items
}

// PaymentResponse contains the result of a payment request
type PaymentResponse struct {
	Success          bool            `json:"success"`
	Status           PaymentStatus   `json:"status"`
	Message          string          `json:"message,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	TransactionID    string          `json:"transactionId,omitempty"`
	PaymentID        string          `json:"paymentId,omitempty"`
	OrderNumber      string          `json:"orderNumber,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	RedirectURL      string          `json:"redirectUrl,omitempty"`
	HTML             string          `json:"html,omitempty"`
	SystemTime       *time.Time      `json:"systemTime,omitempty"`
	ProviderResponse any             `json:"providerResponse,omitempty"`
}

// CaptureRequest asks the provider to settle a previously authorized
// payment. Captures reference the provider transaction ID so repeated
// capture calls for the same transaction stay idempotent on their side.
type CaptureRequest struct {
	PaymentID     string          `json:"paymentId" validate:"required"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	// AuthCode is the authorization code returned when the payment was
	// authorized. Some processors require it to settle.
	AuthCode string `json:"authCode,omitempty"`
	LogID    int64  `json:"logId,omitempty"`
}

// RefundRequest contains information to request a refund
type RefundRequest struct {
	PaymentID     string          `json:"paymentId" validate:"required"`
	TransactionID string          `json:"transactionId,omitempty"`
	RefundAmount  decimal.Decimal `json:"refundAmount"`
	Currency      string          `json:"currency,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	LogID         int64           `json:"logId,omitempty"`
}

// CancelRequest contains information to void an authorization
type CancelRequest struct {
	PaymentID     string `json:"paymentId" validate:"required"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	LogID         int64  `json:"logId,omitempty"`
}

// GetPaymentStatusRequest contains information to request a payment status
type GetPaymentStatusRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
	LogID     int64  `json:"logId,omitempty"`
}

// RefundResponse contains the result of a refund request
type RefundResponse struct {
	Success      bool            `json:"success"`
	RefundID     string          `json:"refundId,omitempty"`
	PaymentID    string          `json:"paymentId,omitempty"`
	Status       string          `json:"status,omitempty"`
	RefundAmount decimal.Decimal `json:"refundAmount,omitempty"`
	Message      string          `json:"message,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	SystemTime   *time.Time      `json:"systemTime,omitempty"`
	RawResponse  any             `json:"rawResponse,omitempty"`
}

// PaymentProvider defines the interface that all payment gateways must implement
type PaymentProvider interface {
	// Initialize sets up the payment provider with authentication and configuration
	Initialize(config map[string]string) error

	// GetRequiredConfig returns the configuration fields required for this provider
	GetRequiredConfig(environment string) []ConfigField

	// ValidateConfig validates the provided configuration against provider requirements
	ValidateConfig(config map[string]string) error

	// CreatePayment makes a non-3D payment request
	CreatePayment(ctx context.Context, request PaymentRequest) (*PaymentResponse, error)

	// Create3DPayment starts a 3D secure / hosted-window payment process
	Create3DPayment(ctx context.Context, request PaymentRequest) (*PaymentResponse, error)

	// Complete3DPayment completes a redirect payment after user authentication
	Complete3DPayment(ctx context.Context, state *CallbackState, data map[string]string) (*PaymentResponse, error)

	// GetPaymentStatus retrieves the current status of a payment
	GetPaymentStatus(ctx context.Context, request GetPaymentStatusRequest) (*PaymentResponse, error)

	// CapturePayment settles a previously authorized payment
	CapturePayment(ctx context.Context, request CaptureRequest) (*PaymentResponse, error)

	// CancelPayment voids an authorization
	CancelPayment(ctx context.Context, request CancelRequest) (*PaymentResponse, error)

	// RefundPayment issues a refund for a settled payment
	RefundPayment(ctx context.Context, request RefundRequest) (*RefundResponse, error)

	// ValidateWebhook validates an incoming webhook notification
	ValidateWebhook(ctx context.Context, data map[string]string, headers map[string]string) (bool, map[string]string, error)
}

// ProviderFactory is a function type that creates a new PaymentProvider
type ProviderFactory func() PaymentProvider
