package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Store is the Postgres implementation of the Boundary.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LookupInvoice fetches an invoice row together with its currency code.
func (s *Store) LookupInvoice(ctx context.Context, invoiceID int64) (Invoice, error) {
	const query = `
		SELECT i.id, i.currency_id, c.code, i.balance, i.status
		FROM invoices i
		JOIN currencies c ON c.id = i.currency_id
		WHERE i.id = $1`
	var inv Invoice
	err := s.pool.QueryRow(ctx, query, invoiceID).
		Scan(&inv.ID, &inv.CurrencyID, &inv.CurrencyCode, &inv.Balance, &inv.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrUnknownInvoice
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("lookup invoice %d: %w", invoiceID, err)
	}
	return inv, nil
}

// RecordPayment inserts the payment and marks the invoice paid in one
// transaction. The unique index on (gateway, transaction_ref) is what makes
// the operation idempotent: a second insert with the same reference fails
// with a unique violation and nothing is applied twice.
func (s *Store) RecordPayment(ctx context.Context, payment Payment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record payment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO payments (invoice_id, transaction_ref, amount, fee, gateway)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert,
		payment.InvoiceID, payment.TransactionRef, payment.Amount, payment.Fee, payment.Gateway); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("insert payment %s: %w", payment.TransactionRef, err)
	}

	const settle = `
		UPDATE invoices
		SET balance = balance - $2,
		    status = CASE WHEN balance - $2 <= 0 THEN 'paid' ELSE status END,
		    paid_at = CASE WHEN balance - $2 <= 0 THEN now() ELSE paid_at END
		WHERE id = $1`
	tag, err := tx.Exec(ctx, settle, payment.InvoiceID, payment.Amount)
	if err != nil {
		return fmt.Errorf("settle invoice %d: %w", payment.InvoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownInvoice
	}
	return tx.Commit(ctx)
}

// ConvertCurrency converts through the per-currency base rates the platform
// maintains: amount / from_rate * to_rate.
func (s *Store) ConvertCurrency(ctx context.Context, amount decimal.Decimal, fromCurrencyID, toCurrencyID int64) (decimal.Decimal, error) {
	if fromCurrencyID == toCurrencyID {
		return amount, nil
	}
	fromRate, err := s.currencyRate(ctx, fromCurrencyID)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := s.currencyRate(ctx, toCurrencyID)
	if err != nil {
		return decimal.Zero, err
	}
	if fromRate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: currency %d has zero rate", ErrUnknownCurrency, fromCurrencyID)
	}
	return amount.Div(fromRate).Mul(toRate), nil
}

func (s *Store) currencyRate(ctx context.Context, currencyID int64) (decimal.Decimal, error) {
	const query = `SELECT rate FROM currencies WHERE id = $1`
	var rate decimal.Decimal
	err := s.pool.QueryRow(ctx, query, currencyID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: id %d", ErrUnknownCurrency, currencyID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency rate %d: %w", currencyID, err)
	}
	return rate, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
