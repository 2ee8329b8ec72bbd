// Package gateway defines the boundary between the payment gateway and the
// host billing platform: invoice lookup, idempotent payment recording and
// currency conversion. Reconciliation talks to this interface only; the
// Postgres implementation lives alongside it.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownInvoice reports a payment that references no known invoice.
	ErrUnknownInvoice = errors.New("gateway: unknown invoice")
	// ErrAlreadyRecorded reports a duplicate transaction reference. Callers
	// treat it as success: the credit already happened.
	ErrAlreadyRecorded = errors.New("gateway: payment already recorded")
	// ErrUnknownCurrency reports a conversion against an unconfigured currency.
	ErrUnknownCurrency = errors.New("gateway: unknown currency")
)

// Invoice is the host platform's view of a billable document.
type Invoice struct {
	ID           int64
	CurrencyID   int64
	CurrencyCode string
	Balance      decimal.Decimal
	Status       string
}

// Payment is a settled charge to be applied to an invoice. Fee is zero for
// this gateway; the platform nets fees out elsewhere.
type Payment struct {
	InvoiceID      int64
	TransactionRef string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Gateway        string
}

// Boundary is the host-platform contract the reconciliation engine consumes.
type Boundary interface {
	// LookupInvoice fetches an invoice by id. ErrUnknownInvoice when absent.
	LookupInvoice(ctx context.Context, invoiceID int64) (Invoice, error)
	// RecordPayment applies a payment exactly once per transaction
	// reference. A repeat reference returns ErrAlreadyRecorded and changes
	// nothing.
	RecordPayment(ctx context.Context, payment Payment) error
	// ConvertCurrency converts an amount between two platform currencies.
	ConvertCurrency(ctx context.Context, amount decimal.Decimal, fromCurrencyID, toCurrencyID int64) (decimal.Decimal, error)
}
