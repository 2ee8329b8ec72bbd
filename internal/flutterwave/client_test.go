package flutterwave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, "FLWSECK_TEST-secret", 2*time.Second)
	return client, server
}

func TestCreateSessionReturnsCheckoutLink(t *testing.T) {
	var captured map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/payments", r.URL.Path)
		require.Equal(t, "Bearer FLWSECK_TEST-secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/abc123"}}`)
	})

	link, err := client.CreateSession(context.Background(), SessionRequest{
		TxRef:       "42",
		Amount:      "1500.00",
		Currency:    "NGN",
		RedirectURL: "https://billing.example.com/gateway/flutterwave/callback",
		Customer:    Customer{Email: "jo@example.com", Phone: "+2348012345678", Name: "Jo Doe"},
		Title:       "Acme Hosting",
		Description: "Invoice #42",
		ConsumerID:  42,
		ConsumerMAC: "203.0.113.9",
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc123", link)

	require.Equal(t, "42", captured["tx_ref"])
	require.Equal(t, "1500.00", captured["amount"])
	require.Equal(t, "NGN", captured["currency"])
	require.Equal(t, "card", captured["payment_options"])
	customer := captured["customer"].(map[string]any)
	require.Equal(t, "jo@example.com", customer["email"])
	meta := captured["meta"].(map[string]any)
	require.Equal(t, float64(42), meta["consumer_id"])
	require.Equal(t, "203.0.113.9", meta["consumer_mac"])
}

func TestCreateSessionJoinsPaymentOptions(t *testing.T) {
	var captured map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/x"}}`)
	})

	_, err := client.CreateSession(context.Background(), SessionRequest{
		TxRef:          "7",
		Amount:         "10.00",
		Currency:       "USD",
		PaymentOptions: []string{"card", "account", "ussd"},
	})
	require.NoError(t, err)
	require.Equal(t, "card,account,ussd", captured["payment_options"])
}

func TestCreateSessionRejectsForeignLink(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://evil.example.com/pay/abc"}}`)
	})

	_, err := client.CreateSession(context.Background(), SessionRequest{TxRef: "1", Amount: "5", Currency: "USD"})
	require.ErrorIs(t, err, ErrInitiationFailed)
}

func TestCreateSessionRejectsMalformedLink(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"link":"notaurl"}}`)
	})

	_, err := client.CreateSession(context.Background(), SessionRequest{TxRef: "1", Amount: "5", Currency: "USD"})
	require.ErrorIs(t, err, ErrInitiationFailed)
}

func TestCreateSessionSurfacesAPIMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","message":"Invalid currency"}`)
	})

	_, err := client.CreateSession(context.Background(), SessionRequest{TxRef: "1", Amount: "5", Currency: "XXX"})
	require.ErrorIs(t, err, ErrInitiationFailed)
	require.ErrorContains(t, err, "Invalid currency")
}

func TestCreateSessionRequiresSecretKey(t *testing.T) {
	client := NewClient("https://api.flutterwave.com", "", time.Second)
	_, err := client.CreateSession(context.Background(), SessionRequest{TxRef: "1"})
	require.ErrorIs(t, err, ErrMissingSecretKey)
}

func TestCreateSessionTransportError(t *testing.T) {
	client, server := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	server.Close()

	_, err := client.CreateSession(context.Background(), SessionRequest{TxRef: "1", Amount: "5", Currency: "USD"})
	require.ErrorIs(t, err, ErrTransport)
}

func TestVerifyTransactionSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v3/transactions/FLW-123/verify", r.URL.Path)
		require.Equal(t, "Bearer FLWSECK_TEST-secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"status":"success","message":"Transaction fetched","data":{"status":"successful","amount":1500.5,"currency":"NGN","tx_ref":"42"}}`)
	})

	result, err := client.VerifyTransaction(context.Background(), "FLW-123")
	require.NoError(t, err)
	require.True(t, result.Succeeded)
	require.Equal(t, "1500.5", result.Amount)
	require.Equal(t, "NGN", result.Currency)
}

func TestVerifyTransactionQuotedAmount(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"status":"successful","amount":"250.00","currency":"USD"}}`)
	})

	result, err := client.VerifyTransaction(context.Background(), "FLW-9")
	require.NoError(t, err)
	require.True(t, result.Succeeded)
	require.Equal(t, "250.00", result.Amount)
}

func TestVerifyTransactionRemoteFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"error","message":"Transaction not found"}`)
	})

	result, err := client.VerifyTransaction(context.Background(), "FLW-404")
	require.NoError(t, err)
	require.False(t, result.Succeeded)
	require.Equal(t, "Transaction not found", result.APIMessage)
}

func TestVerifyTransactionDefaultsUnknownError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"error"}`)
	})

	result, err := client.VerifyTransaction(context.Background(), "FLW-1")
	require.NoError(t, err)
	require.False(t, result.Succeeded)
	require.Equal(t, "Unknown error", result.APIMessage)
}

func TestVerifyTransactionGarbageBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html>bad gateway</html>`)
	})

	result, err := client.VerifyTransaction(context.Background(), "FLW-1")
	require.NoError(t, err)
	require.False(t, result.Succeeded)
	require.Equal(t, "Unknown error", result.APIMessage)
}

func TestVerifyTransactionTransportError(t *testing.T) {
	client, server := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	server.Close()

	_, err := client.VerifyTransaction(context.Background(), "FLW-1")
	require.ErrorIs(t, err, ErrTransport)
}
