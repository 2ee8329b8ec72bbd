// Package reconcile turns a sanitized gateway callback into exactly one
// terminal outcome: the invoice is credited, the cancellation is
// acknowledged, or the payment is rejected. The engine never trusts the
// callback's claim of success; only the gateway's own verify endpoint can
// authorize a credit.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hmjp/billing-gateway/internal/audit"
	"github.com/hmjp/billing-gateway/internal/flutterwave"
	"github.com/hmjp/billing-gateway/internal/gateway"
	"github.com/hmjp/billing-gateway/internal/obs"
	"github.com/hmjp/billing-gateway/internal/sanitize"
)

// Verifier fetches the gateway's record of a transaction.
type Verifier interface {
	VerifyTransaction(ctx context.Context, transactionRef string) (flutterwave.VerificationResult, error)
}

// Config carries the engine's static knobs.
type Config struct {
	GatewayName string
	// SettlementCurrencyID, when non-zero, is the currency the gateway
	// settles in. Verified amounts are converted from it into the invoice
	// currency before recording.
	SettlementCurrencyID int64
	InvoiceViewURL       func(invoiceID int64) string
	InvoiceListURL       func() string
}

// Engine drives a callback to its terminal state.
type Engine struct {
	Boundary gateway.Boundary
	Verifier Verifier
	Audit    audit.Service
	Config   Config
	Logger   zerolog.Logger
}

// Reconcile processes one callback. It always returns a terminal Outcome;
// errors are folded into rejected or invalid outcomes so the paying client
// always lands somewhere sensible.
func (e *Engine) Reconcile(ctx context.Context, rawTxRef, rawStatus, rawTransactionID string) Outcome {
	tracer := otel.Tracer("reconcile")
	ctx, span := tracer.Start(ctx, "reconcile.callback")
	defer span.End()

	outcome := e.reconcile(ctx, rawTxRef, rawStatus, rawTransactionID)

	span.SetAttributes(
		attribute.String("reconcile.outcome", string(outcome.Kind)),
		attribute.Int64("reconcile.invoice_id", outcome.InvoiceID),
	)
	if obs.ReconcileOutcomeTotal != nil {
		obs.ReconcileOutcomeTotal.WithLabelValues(string(outcome.Kind)).Inc()
	}
	e.Logger.Info().
		Str("outcome", string(outcome.Kind)).
		Int64("invoice_id", outcome.InvoiceID).
		Str("transaction_ref", outcome.TransactionRef).
		Str("reason", outcome.Reason).
		Msg("callback reconciled")
	return outcome
}

func (e *Engine) reconcile(ctx context.Context, rawTxRef, rawStatus, rawTransactionID string) Outcome {
	cb, err := sanitize.ParseCallback(rawTxRef, rawStatus, rawTransactionID)
	if err != nil {
		e.auditLog(ctx, audit.Entry{
			Category: audit.CategoryCallbackError,
			Message:  err.Error(),
			Payload:  callbackPayload(rawTxRef, rawStatus, rawTransactionID),
		})
		return e.invalid("invalid callback parameters")
	}

	invoice, err := e.Boundary.LookupInvoice(ctx, cb.InvoiceID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownInvoice) {
			e.auditLog(ctx, audit.Entry{
				Category:  audit.CategoryCallbackError,
				Message:   fmt.Sprintf("invoice %d not found", cb.InvoiceID),
				Reference: cb.TransactionRef,
			})
			return e.invalid("unknown invoice")
		}
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategoryCallbackError,
			Message:   "invoice lookup failed: " + err.Error(),
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.rejected(cb, "invoice lookup failed")
	}

	// A cancelled status short-circuits once the invoice is known to
	// exist: no verification call is made.
	if cb.Cancelled() {
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategoryPaymentCancelled,
			Message:   "payment cancelled by customer",
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.cancelled(cb)
	}

	result, err := e.Verifier.VerifyTransaction(ctx, cb.TransactionRef)
	if err != nil {
		if obs.VerificationTotal != nil {
			obs.VerificationTotal.WithLabelValues("transport_error").Inc()
		}
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategoryTransportError,
			Message:   err.Error(),
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.rejected(cb, "verification unavailable")
	}
	if !result.Succeeded {
		if obs.VerificationTotal != nil {
			obs.VerificationTotal.WithLabelValues("remote_failure").Inc()
		}
		e.auditLog(ctx, audit.Entry{
			Category:  audit.FailureCategory(result.APIMessage),
			Message:   result.APIMessage,
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.rejected(cb, result.APIMessage)
	}
	if obs.VerificationTotal != nil {
		obs.VerificationTotal.WithLabelValues("success").Inc()
	}

	amount, err := sanitize.Amount(result.Amount)
	if err != nil {
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategoryCallbackError,
			Message:   fmt.Sprintf("verified amount %q is not a positive number", result.Amount),
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.rejected(cb, "invalid verified amount")
	}

	settled, err := e.settledAmount(ctx, amount, invoice)
	if err != nil {
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategoryCallbackError,
			Message:   "currency conversion failed: " + err.Error(),
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.rejected(cb, "currency conversion failed")
	}

	recordErr := e.Boundary.RecordPayment(ctx, gateway.Payment{
		InvoiceID:      cb.InvoiceID,
		TransactionRef: cb.TransactionRef,
		Amount:         settled,
		Fee:            decimal.Zero,
		Gateway:        e.Config.GatewayName,
	})
	switch {
	case recordErr == nil:
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategorySuccess,
			Message:   "payment applied",
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
			Payload:   json.RawMessage(fmt.Sprintf(`{"amount":%q,"currency":%q}`, FormatAmount(settled), invoice.CurrencyCode)),
		})
		return e.credited(cb, settled)
	case errors.Is(recordErr, gateway.ErrAlreadyRecorded):
		// The credit already happened on an earlier callback; the repeat is
		// acknowledged as a success without touching the invoice again.
		return e.credited(cb, settled)
	default:
		e.auditLog(ctx, audit.Entry{
			Category:  audit.CategoryCallbackError,
			Message:   "record payment failed: " + recordErr.Error(),
			InvoiceID: cb.InvoiceID,
			Reference: cb.TransactionRef,
		})
		return e.rejected(cb, "payment could not be recorded")
	}
}

// settledAmount converts the verified amount from the settlement currency to
// the invoice currency when the two differ. Results carry two decimal places,
// rounded half away from zero.
func (e *Engine) settledAmount(ctx context.Context, amount decimal.Decimal, invoice gateway.Invoice) (decimal.Decimal, error) {
	settlementID := e.Config.SettlementCurrencyID
	if settlementID != 0 && settlementID != invoice.CurrencyID {
		converted, err := e.Boundary.ConvertCurrency(ctx, amount, settlementID, invoice.CurrencyID)
		if err != nil {
			return decimal.Zero, err
		}
		amount = converted
	}
	return amount.Round(2), nil
}

func (e *Engine) auditLog(ctx context.Context, entry audit.Entry) {
	entry.Module = e.Config.GatewayName
	if err := e.Audit.Record(ctx, entry); err != nil {
		e.Logger.Error().Err(err).Str("category", entry.Category).Msg("gateway log write failed")
	}
}

func callbackPayload(txRef, status, transactionID string) json.RawMessage {
	data, err := json.Marshal(map[string]string{
		"tx_ref":         txRef,
		"status":         status,
		"transaction_id": transactionID,
	})
	if err != nil {
		return nil
	}
	return data
}
