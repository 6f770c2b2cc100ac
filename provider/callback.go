package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// callbackStateTTL bounds how long a redirect round-trip may take.
const callbackStateTTL = 30 * time.Minute

// CallbackState carries everything needed to complete a redirect
// payment when the shopper returns from the provider's hosted page.
// It travels through the shopper's browser, so it is always encrypted.
type CallbackState struct {
	TenantID         int             `json:"tenantId"`
	PaymentID        string          `json:"paymentId"`
	OrderNumber      string          `json:"orderNumber,omitempty"`
	OriginalCallback string          `json:"originalCallback"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Provider         string          `json:"provider"`
	Environment      string          `json:"environment"`
	Timestamp        time.Time       `json:"timestamp"`
	ClientIP         string          `json:"clientIp,omitempty"`
}

// CallbackEncryptor provides AES-GCM encryption for callback state.
type CallbackEncryptor struct {
	secretKey string
}

// NewCallbackEncryptor creates a callback encryptor with the given secret key.
func NewCallbackEncryptor(secretKey string) *CallbackEncryptor {
	return &CallbackEncryptor{secretKey: secretKey}
}

// EncryptState encrypts callback state into a URL-safe token.
func (e *CallbackEncryptor) EncryptState(state CallbackState) (string, error) {
	key := e.deriveEncryptionKey()

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// DecryptState decrypts a callback state token and rejects expired state.
func (e *CallbackEncryptor) DecryptState(encryptedState string) (*CallbackState, error) {
	key := e.deriveEncryptionKey()

	combined, err := base64.URLEncoding.DecodeString(encryptedState)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(combined) < gcm.NonceSize() {
		return nil, errors.New("encrypted state too short")
	}

	nonce := combined[:gcm.NonceSize()]
	ciphertext := combined[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	var state CallbackState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	// Reject replayed or stale callbacks.
	if time.Since(state.Timestamp) > callbackStateTTL {
		return nil, errors.New("callback state expired")
	}

	return &state, nil
}

// deriveEncryptionKey derives a 32-byte encryption key from the secret
func (e *CallbackEncryptor) deriveEncryptionKey() []byte {
	hash := sha256.Sum256([]byte(e.secretKey + "-callback-encryption-v1"))
	return hash[:]
}

// CallbackURL builds the gateway-side callback URL carrying encrypted
// state, pointed at by the provider's return/notify parameters.
func (e *CallbackEncryptor) CallbackURL(gatewayBaseURL, providerName string, state CallbackState) (string, error) {
	token, err := e.EncryptState(state)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v1/callback/%s?state=%s", gatewayBaseURL, providerName, url.QueryEscape(token)), nil
}
