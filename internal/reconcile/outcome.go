package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hmjp/billing-gateway/internal/sanitize"
)

// Kind is the terminal state of a reconciliation run.
type Kind string

const (
	// KindCredited means the invoice was credited (or already had been).
	KindCredited Kind = "credited"
	// KindCancelled means the customer abandoned the hosted page.
	KindCancelled Kind = "cancelled"
	// KindRejected means verification or recording refused the payment.
	KindRejected Kind = "rejected"
	// KindInvalid means the callback itself could not be trusted.
	KindInvalid Kind = "invalid"
)

// Outcome is what a callback resolves to. RedirectURL is always set; the
// HTTP layer sends the customer there regardless of kind.
type Outcome struct {
	Kind           Kind
	InvoiceID      int64
	TransactionRef string
	Amount         decimal.Decimal
	Reason         string
	RedirectURL    string
}

// FormatAmount renders a monetary amount the way the platform records it:
// two decimal places, '.' separator, no thousands grouping.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func (e *Engine) credited(cb sanitize.Callback, amount decimal.Decimal) Outcome {
	return Outcome{
		Kind:           KindCredited,
		InvoiceID:      cb.InvoiceID,
		TransactionRef: cb.TransactionRef,
		Amount:         amount,
		RedirectURL:    e.Config.InvoiceViewURL(cb.InvoiceID) + "&paymentmsg=success",
	}
}

func (e *Engine) cancelled(cb sanitize.Callback) Outcome {
	return Outcome{
		Kind:           KindCancelled,
		InvoiceID:      cb.InvoiceID,
		TransactionRef: cb.TransactionRef,
		Reason:         "payment cancelled",
		RedirectURL:    e.Config.InvoiceViewURL(cb.InvoiceID) + "&paymentmsg=cancelled",
	}
}

func (e *Engine) rejected(cb sanitize.Callback, reason string) Outcome {
	if strings.TrimSpace(reason) == "" {
		reason = "Unknown error"
	}
	return Outcome{
		Kind:           KindRejected,
		InvoiceID:      cb.InvoiceID,
		TransactionRef: cb.TransactionRef,
		Reason:         reason,
		RedirectURL:    e.Config.InvoiceViewURL(cb.InvoiceID),
	}
}

func (e *Engine) invalid(reason string) Outcome {
	return Outcome{
		Kind:        KindInvalid,
		Reason:      reason,
		RedirectURL: e.Config.InvoiceListURL(),
	}
}
