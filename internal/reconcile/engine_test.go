package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hmjp/billing-gateway/internal/audit"
	"github.com/hmjp/billing-gateway/internal/flutterwave"
	"github.com/hmjp/billing-gateway/internal/gateway"
)

type stubBoundary struct {
	invoices       map[int64]gateway.Invoice
	recorded       []gateway.Payment
	recordErr      error
	convertCalls   int
	convertFactor  decimal.Decimal
	convertErr     error
	lookupErr      error
	seenReferences map[string]bool
}

func newStubBoundary() *stubBoundary {
	return &stubBoundary{
		invoices:       map[int64]gateway.Invoice{},
		convertFactor:  decimal.NewFromInt(1),
		seenReferences: map[string]bool{},
	}
}

func (s *stubBoundary) LookupInvoice(_ context.Context, invoiceID int64) (gateway.Invoice, error) {
	if s.lookupErr != nil {
		return gateway.Invoice{}, s.lookupErr
	}
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return gateway.Invoice{}, gateway.ErrUnknownInvoice
	}
	return inv, nil
}

func (s *stubBoundary) RecordPayment(_ context.Context, payment gateway.Payment) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	if s.seenReferences[payment.TransactionRef] {
		return gateway.ErrAlreadyRecorded
	}
	s.seenReferences[payment.TransactionRef] = true
	s.recorded = append(s.recorded, payment)
	return nil
}

func (s *stubBoundary) ConvertCurrency(_ context.Context, amount decimal.Decimal, _, _ int64) (decimal.Decimal, error) {
	s.convertCalls++
	if s.convertErr != nil {
		return decimal.Zero, s.convertErr
	}
	return amount.Mul(s.convertFactor), nil
}

type stubVerifier struct {
	result flutterwave.VerificationResult
	err    error
	calls  int
}

func (s *stubVerifier) VerifyTransaction(context.Context, string) (flutterwave.VerificationResult, error) {
	s.calls++
	return s.result, s.err
}

type recordingAuditStore struct {
	entries []audit.Entry
}

func (r *recordingAuditStore) InsertGatewayLog(_ context.Context, _ uuid.UUID, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAuditStore) categories() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Category)
	}
	return out
}

func newTestEngine(boundary *stubBoundary, verifier *stubVerifier, store *recordingAuditStore) *Engine {
	return &Engine{
		Boundary: boundary,
		Verifier: verifier,
		Audit:    audit.Service{Store: store, Enabled: true},
		Config: Config{
			GatewayName: "flutterwave",
			InvoiceViewURL: func(id int64) string {
				return fmt.Sprintf("https://billing.example.com/viewinvoice.php?id=%d", id)
			},
			InvoiceListURL: func() string {
				return "https://billing.example.com/clientarea.php?action=invoices"
			},
		},
		Logger: zerolog.Nop(),
	}
}

func TestReconcileCreditsVerifiedPayment(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1, CurrencyCode: "NGN", Balance: decimal.NewFromInt(1500)}
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: "1500.00", Currency: "NGN"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindCredited, outcome.Kind)
	require.Equal(t, int64(42), outcome.InvoiceID)
	require.Equal(t, "https://billing.example.com/viewinvoice.php?id=42&paymentmsg=success", outcome.RedirectURL)
	require.Len(t, boundary.recorded, 1)
	require.Equal(t, "FLW-123", boundary.recorded[0].TransactionRef)
	require.Equal(t, "1500.00", FormatAmount(boundary.recorded[0].Amount))
	require.True(t, boundary.recorded[0].Fee.IsZero())
	require.Contains(t, store.categories(), audit.CategorySuccess)
}

func TestReconcileCancelledSkipsVerification(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[7] = gateway.Invoice{ID: 7, CurrencyID: 1, CurrencyCode: "NGN"}
	verifier := &stubVerifier{}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "7", "cancelled", "")

	require.Equal(t, KindCancelled, outcome.Kind)
	require.Equal(t, "https://billing.example.com/viewinvoice.php?id=7&paymentmsg=cancelled", outcome.RedirectURL)
	require.Zero(t, verifier.calls)
	require.Empty(t, boundary.recorded)
	require.Contains(t, store.categories(), audit.CategoryPaymentCancelled)
}

func TestReconcileCancelledUnknownInvoiceIsInvalid(t *testing.T) {
	boundary := newStubBoundary()
	verifier := &stubVerifier{}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "999", "cancelled", "")

	require.Equal(t, KindInvalid, outcome.Kind)
	require.Equal(t, "https://billing.example.com/clientarea.php?action=invoices", outcome.RedirectURL)
	require.Zero(t, verifier.calls)
	require.Contains(t, store.categories(), audit.CategoryCallbackError)
}

func TestReconcileUppercaseCancelledTakesVerifyPath(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: false, APIMessage: "Declined"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "42", "CANCELLED", "FLW-123")

	require.Equal(t, KindRejected, outcome.Kind)
	require.Equal(t, 1, verifier.calls)
}

func TestReconcileRejectsWhenVerificationReportsFailure(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: false, APIMessage: "Declined"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindRejected, outcome.Kind)
	require.Equal(t, "Declined", outcome.Reason)
	require.Equal(t, "https://billing.example.com/viewinvoice.php?id=42", outcome.RedirectURL)
	require.Empty(t, boundary.recorded)
	require.Contains(t, store.categories(), "Failed: Declined")
}

func TestReconcileRejectsTransportFailure(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
	verifier := &stubVerifier{err: flutterwave.ErrTransport}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindRejected, outcome.Kind)
	require.Equal(t, "verification unavailable", outcome.Reason)
	require.Empty(t, boundary.recorded)
	require.Contains(t, store.categories(), audit.CategoryTransportError)
}

func TestReconcileRejectsNonPositiveVerifiedAmount(t *testing.T) {
	for _, amount := range []string{"0", "-5", "", "NaN"} {
		boundary := newStubBoundary()
		boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
		verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: amount}}
		store := &recordingAuditStore{}
		engine := newTestEngine(boundary, verifier, store)

		outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

		require.Equal(t, KindRejected, outcome.Kind, "amount %q", amount)
		require.Empty(t, boundary.recorded, "amount %q", amount)
	}
}

func TestReconcileUnknownInvoiceIsInvalid(t *testing.T) {
	boundary := newStubBoundary()
	verifier := &stubVerifier{}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "999", "successful", "FLW-123")

	require.Equal(t, KindInvalid, outcome.Kind)
	require.Equal(t, "https://billing.example.com/clientarea.php?action=invoices", outcome.RedirectURL)
	require.Zero(t, verifier.calls)
}

func TestReconcileMalformedParamsAreInvalid(t *testing.T) {
	cases := []struct{ txRef, status, transactionID string }{
		{"abc", "successful", "FLW-1"},
		{"-1", "successful", "FLW-1"},
		{"42", "", "FLW-1"},
		{"42", "successful", ""},
		{"42", "123", "FLW-1"},
	}
	for _, tc := range cases {
		boundary := newStubBoundary()
		boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
		store := &recordingAuditStore{}
		engine := newTestEngine(boundary, &stubVerifier{}, store)

		outcome := engine.Reconcile(context.Background(), tc.txRef, tc.status, tc.transactionID)

		require.Equal(t, KindInvalid, outcome.Kind, "%+v", tc)
		require.Contains(t, store.categories(), audit.CategoryCallbackError, "%+v", tc)
	}
}

func TestReconcileRepeatCallbackCreditsOnce(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: "100.00"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	first := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")
	second := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindCredited, first.Kind)
	require.Equal(t, KindCredited, second.Kind)
	require.Len(t, boundary.recorded, 1)
}

func TestReconcileConvertsSettlementCurrency(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 2, CurrencyCode: "USD"}
	boundary.convertFactor = decimal.RequireFromString("0.00125")
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: "1500.666", Currency: "NGN"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)
	engine.Config.SettlementCurrencyID = 1

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindCredited, outcome.Kind)
	require.Equal(t, 1, boundary.convertCalls)
	// 1500.666 * 0.00125 = 1.8758325, half-up to 1.88
	require.Equal(t, "1.88", FormatAmount(boundary.recorded[0].Amount))
}

func TestReconcileSkipsConversionWhenCurrenciesMatch(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1, CurrencyCode: "NGN"}
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: "100.005"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)
	engine.Config.SettlementCurrencyID = 1

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindCredited, outcome.Kind)
	require.Zero(t, boundary.convertCalls)
	require.Equal(t, "100.01", FormatAmount(boundary.recorded[0].Amount))
}

func TestReconcileConversionFailureRejects(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 2}
	boundary.convertErr = gateway.ErrUnknownCurrency
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: "100.00"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)
	engine.Config.SettlementCurrencyID = 1

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindRejected, outcome.Kind)
	require.Empty(t, boundary.recorded)
}

func TestReconcileRecordFailureRejects(t *testing.T) {
	boundary := newStubBoundary()
	boundary.invoices[42] = gateway.Invoice{ID: 42, CurrencyID: 1}
	boundary.recordErr = errors.New("connection reset")
	verifier := &stubVerifier{result: flutterwave.VerificationResult{Succeeded: true, Amount: "100.00"}}
	store := &recordingAuditStore{}
	engine := newTestEngine(boundary, verifier, store)

	outcome := engine.Reconcile(context.Background(), "42", "successful", "FLW-123")

	require.Equal(t, KindRejected, outcome.Kind)
	require.Equal(t, "payment could not be recorded", outcome.Reason)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "1500.00", FormatAmount(decimal.NewFromInt(1500)))
	require.Equal(t, "10.56", FormatAmount(decimal.RequireFromString("10.555")))
	require.Equal(t, "0.10", FormatAmount(decimal.RequireFromString("0.1")))
}
