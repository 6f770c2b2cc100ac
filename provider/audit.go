package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/commercekit/paygate/infra/logger"
)

// PaymentLogger records every provider round-trip for auditing and
// support. Implementations must never fail the payment because logging
// failed; the service treats logger errors as warnings.
type PaymentLogger interface {
	LogRequest(ctx context.Context, tenantID int, providerName, method, endpoint string, request any, userAgent, clientIP string) (int64, error)
	LogResponse(ctx context.Context, logID int64, response any, processingMs int64) error
	LogError(ctx context.Context, logID int64, errorCode, errorMsg string, processingMs int64) error
}

// DBPaymentLogger implements PaymentLogger on a SQL database.
type DBPaymentLogger struct {
	db *sql.DB
}

// NewDBPaymentLogger creates a new database payment logger and ensures
// the audit table exists.
func NewDBPaymentLogger(db *sql.DB) (*DBPaymentLogger, error) {
	l := &DBPaymentLogger{db: db}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DBPaymentLogger) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS payment_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		method TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		payment_id TEXT,
		request TEXT NOT NULL,
		response TEXT,
		status TEXT,
		error_code TEXT,
		error_message TEXT,
		user_agent TEXT,
		client_ip TEXT,
		processing_ms INTEGER,
		request_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		response_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_payment_logs_payment_id ON payment_logs(payment_id);
	CREATE INDEX IF NOT EXISTS idx_payment_logs_tenant_provider ON payment_logs(tenant_id, provider);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create payment_logs table: %w", err)
	}
	return nil
}

// LogRequest stores an outbound payment request and returns its log ID.
func (l *DBPaymentLogger) LogRequest(ctx context.Context, tenantID int, providerName, method, endpoint string, request any, userAgent, clientIP string) (int64, error) {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	var paymentID string
	switch req := request.(type) {
	case PaymentRequest:
		paymentID = req.ID
	case CaptureRequest:
		paymentID = req.PaymentID
	case RefundRequest:
		paymentID = req.PaymentID
	case CancelRequest:
		paymentID = req.PaymentID
	case GetPaymentStatusRequest:
		paymentID = req.PaymentID
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_logs (tenant_id, provider, method, endpoint, payment_id, request, user_agent, client_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID, providerName, method, endpoint, paymentID, string(requestJSON), userAgent, clientIP)
	if err != nil {
		return 0, fmt.Errorf("failed to log request: %w", err)
	}

	logID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read log id: %w", err)
	}

	logger.Debug("Payment request logged", logger.LogContext{
		Provider: providerName,
		Fields:   map[string]any{"log_id": logID, "endpoint": endpoint},
	})

	return logID, nil
}

// LogResponse updates the audit record with the provider response.
func (l *DBPaymentLogger) LogResponse(ctx context.Context, logID int64, response any, processingMs int64) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	var status string
	switch resp := response.(type) {
	case *PaymentResponse:
		status = string(resp.Status)
	case *RefundResponse:
		status = resp.Status
	}

	_, err = l.db.ExecContext(ctx, `
		UPDATE payment_logs
		SET response = ?, response_at = CURRENT_TIMESTAMP, status = ?, processing_ms = ?
		WHERE id = ?`,
		string(responseJSON), status, processingMs, logID)
	if err != nil {
		return fmt.Errorf("failed to log response: %w", err)
	}
	return nil
}

// LogError updates the audit record with a provider failure.
func (l *DBPaymentLogger) LogError(ctx context.Context, logID int64, errorCode, errorMsg string, processingMs int64) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE payment_logs
		SET response_at = CURRENT_TIMESTAMP, status = 'error', error_code = ?, error_message = ?, processing_ms = ?
		WHERE id = ?`,
		errorCode, errorMsg, processingMs, logID)
	if err != nil {
		return fmt.Errorf("failed to log error: %w", err)
	}
	return nil
}

// NopPaymentLogger discards all audit records. Used in tests and when
// no database is configured.
type NopPaymentLogger struct{}

func (NopPaymentLogger) LogRequest(context.Context, int, string, string, string, any, string, string) (int64, error) {
	return 0, nil
}
func (NopPaymentLogger) LogResponse(context.Context, int64, any, int64) error { return nil }
func (NopPaymentLogger) LogError(context.Context, int64, string, string, int64) error {
	return nil
}
