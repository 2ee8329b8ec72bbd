// Package sanitize normalizes and validates every externally supplied value
// before it reaches session initiation or reconciliation. Each function
// either returns a cleaned value or an error; no caller ever consumes a raw
// query or form parameter directly.
package sanitize

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmpty reports a required field that was missing or blank.
	ErrEmpty = errors.New("value is empty")
	// ErrInvoiceID reports an invoice reference that is not a positive integer.
	ErrInvoiceID = errors.New("invoice id must be a positive integer")
	// ErrAmount reports a non-numeric or non-positive amount.
	ErrAmount = errors.New("amount must be a positive number")
	// ErrURL reports a malformed URL.
	ErrURL = errors.New("url is not well formed")
)

// InvoiceID parses an invoice identifier. Anything that is not a positive
// base-10 integer is rejected.
func InvoiceID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrEmpty
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvoiceID
	}
	return id, nil
}

// Status strips a gateway status value down to ASCII letters. Casing is
// preserved and significant downstream.
func Status(raw string) string {
	return keep(raw, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	})
}

// TransactionRef strips a gateway transaction reference down to letters,
// digits and hyphens.
func TransactionRef(raw string) string {
	return keep(raw, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
	})
}

// Amount parses a monetary amount. It accepts the gateway's decimal string
// form and rejects anything non-numeric or not strictly positive.
func Amount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, ErrEmpty
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrAmount, trimmed)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrAmount
	}
	return amount, nil
}

// CurrencyCode strips a currency code down to uppercase ASCII letters.
func CurrencyCode(raw string) string {
	return keep(strings.ToUpper(strings.TrimSpace(raw)), func(r rune) bool {
		return r >= 'A' && r <= 'Z'
	})
}

// Text escapes free text for safe embedding. The value is trimmed and
// HTML-entity escaped; it is never interpreted as markup downstream.
func Text(raw string) string {
	return html.EscapeString(strings.TrimSpace(raw))
}

// URL validates that a value is an absolute http(s) URL.
func URL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmpty
	}
	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", ErrURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrURL
	}
	return trimmed, nil
}

// Callback is the cleaned form of the three gateway callback parameters.
type Callback struct {
	InvoiceID      int64
	Status         string
	TransactionRef string
}

// Cancelled reports whether the callback carries the gateway's literal
// cancelled status. The match is exact: any other casing goes through the
// normal verification path.
func (c Callback) Cancelled() bool {
	return c.Status == "cancelled"
}

// ParseCallback validates the raw callback triple. A cancelled status relaxes
// the rules: only the invoice id and status are required, and the transaction
// reference may be absent. Every other status additionally requires a
// non-empty transaction reference.
func ParseCallback(rawTxRef, rawStatus, rawTransactionID string) (Callback, error) {
	invoiceID, err := InvoiceID(rawTxRef)
	if err != nil {
		return Callback{}, fmt.Errorf("tx_ref: %w", err)
	}
	status := Status(rawStatus)
	if status == "" {
		return Callback{}, fmt.Errorf("status: %w", ErrEmpty)
	}
	cb := Callback{
		InvoiceID:      invoiceID,
		Status:         status,
		TransactionRef: TransactionRef(rawTransactionID),
	}
	if cb.Cancelled() {
		return cb, nil
	}
	if cb.TransactionRef == "" {
		return Callback{}, fmt.Errorf("transaction_id: %w", ErrEmpty)
	}
	return cb, nil
}

func keep(raw string, allowed func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if allowed(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
