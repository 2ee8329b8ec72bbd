// Package flutterwave talks to the Flutterwave v3 API: it opens hosted
// checkout sessions and verifies completed transactions. Both calls are
// bounded by the client timeout and are never retried; callers decide what a
// failure means.
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hmjp/billing-gateway/internal/obs"
	"github.com/hmjp/billing-gateway/internal/sanitize"
)

const (
	paymentsPath     = "/v3/payments"
	verifyPathFormat = "/v3/transactions/%s/verify"

	// DefaultCheckoutPrefix is the only domain a hosted-payment link may
	// point at. Links outside it are rejected outright.
	DefaultCheckoutPrefix = "https://checkout.flutterwave.com/"
)

var (
	// ErrMissingSecretKey reports an unconfigured gateway.
	ErrMissingSecretKey = errors.New("flutterwave: secret key is not configured")
	// ErrInitiationFailed reports a checkout session that could not be opened.
	ErrInitiationFailed = errors.New("flutterwave: checkout session initiation failed")
	// ErrTransport reports a network-level failure talking to the gateway.
	ErrTransport = errors.New("flutterwave: transport error")
)

// Client is a thin Flutterwave v3 API client.
type Client struct {
	BaseURL        string
	SecretKey      string
	CheckoutPrefix string
	HTTP           *http.Client
}

// NewClient builds a client with an OTel-instrumented transport and a bounded
// per-call timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		SecretKey:      secretKey,
		CheckoutPrefix: DefaultCheckoutPrefix,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Customer identifies the paying party on the hosted page.
type Customer struct {
	Email string `json:"email"`
	Phone string `json:"phonenumber,omitempty"`
	Name  string `json:"name,omitempty"`
}

// SessionRequest carries everything needed to open a hosted checkout session.
type SessionRequest struct {
	TxRef          string
	Amount         string
	Currency       string
	RedirectURL    string
	PaymentOptions []string
	Customer       Customer
	Title          string
	Description    string
	LogoURL        string
	ConsumerID     int64
	ConsumerMAC    string
}

// PaymentOptionsCSV joins the configured payment-method tags. An empty set
// falls back to card-only.
func (r SessionRequest) PaymentOptionsCSV() string {
	if len(r.PaymentOptions) == 0 {
		return "card"
	}
	return strings.Join(r.PaymentOptions, ",")
}

type sessionPayload struct {
	TxRef          string         `json:"tx_ref"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	RedirectURL    string         `json:"redirect_url"`
	PaymentOptions string         `json:"payment_options"`
	Customer       Customer       `json:"customer"`
	Customizations customizations `json:"customizations"`
	Meta           sessionMeta    `json:"meta"`
}

type customizations struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
}

type sessionMeta struct {
	ConsumerID  int64  `json:"consumer_id"`
	ConsumerMAC string `json:"consumer_mac,omitempty"`
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type sessionData struct {
	Link string `json:"link"`
}

// CreateSession opens a hosted checkout session and returns the payment link.
// The link must be a well-formed URL under the checkout domain prefix;
// anything else fails with ErrInitiationFailed.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (string, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return "", ErrMissingSecretKey
	}
	payload := sessionPayload{
		TxRef:          req.TxRef,
		Amount:         req.Amount,
		Currency:       req.Currency,
		RedirectURL:    req.RedirectURL,
		PaymentOptions: req.PaymentOptionsCSV(),
		Customer:       req.Customer,
		Customizations: customizations{
			Title:       req.Title,
			Description: req.Description,
			Logo:        req.LogoURL,
		},
		Meta: sessionMeta{ConsumerID: req.ConsumerID, ConsumerMAC: req.ConsumerMAC},
	}

	envelope, err := c.call(ctx, http.MethodPost, paymentsPath, payload, "flutterwave.create_session")
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(envelope.Status, "success") {
		return "", fmt.Errorf("%w: %s", ErrInitiationFailed, apiMessage(envelope))
	}
	var data sessionData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return "", fmt.Errorf("%w: malformed response", ErrInitiationFailed)
	}
	link, err := sanitize.URL(data.Link)
	if err != nil {
		return "", fmt.Errorf("%w: invalid payment link", ErrInitiationFailed)
	}
	if !strings.HasPrefix(link, c.checkoutPrefix()) {
		return "", fmt.Errorf("%w: payment link outside checkout domain", ErrInitiationFailed)
	}
	return link, nil
}

// VerificationResult is the outcome of a remote transaction verification.
// Amount is kept as the raw value the API reported; reconciliation decides
// whether it is acceptable.
type VerificationResult struct {
	Succeeded  bool
	Amount     string
	Currency   string
	RawStatus  string
	APIMessage string
}

type verifyData struct {
	Status   string          `json:"status"`
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
	TxRef    string          `json:"tx_ref"`
}

// VerifyTransaction fetches the gateway's own record of a transaction. A
// transport failure returns an error; a reachable API that reports anything
// other than success yields Succeeded=false with the remote message.
func (c *Client) VerifyTransaction(ctx context.Context, transactionRef string) (VerificationResult, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return VerificationResult{}, ErrMissingSecretKey
	}
	path := fmt.Sprintf(verifyPathFormat, transactionRef)
	envelope, err := c.call(ctx, http.MethodGet, path, nil, "flutterwave.verify_transaction")
	if err != nil {
		return VerificationResult{}, err
	}

	result := VerificationResult{
		RawStatus:  envelope.Status,
		APIMessage: apiMessage(envelope),
	}
	if !strings.EqualFold(envelope.Status, "success") {
		return result, nil
	}
	var data verifyData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		result.APIMessage = "Unknown error"
		return result, nil
	}
	result.Succeeded = true
	result.Amount = rawString(data.Amount)
	result.Currency = data.Currency
	return result, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, span string) (apiEnvelope, error) {
	tracer := otel.Tracer("flutterwave.client")
	ctx, s := tracer.Start(ctx, span)
	defer s.End()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apiEnvelope{}, fmt.Errorf("flutterwave: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("flutterwave: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	result := "ok"
	if err != nil {
		result = "transport_error"
	}
	if obs.GatewayRequestLatency != nil {
		obs.GatewayRequestLatency.WithLabelValues(span, result).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		s.RecordError(err)
		return apiEnvelope{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()
	s.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.RecordError(err)
		return apiEnvelope{}, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return apiEnvelope{Status: "error", Message: ""}, nil
	}
	return envelope, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) checkoutPrefix() string {
	if strings.TrimSpace(c.CheckoutPrefix) == "" {
		return DefaultCheckoutPrefix
	}
	return c.CheckoutPrefix
}

func apiMessage(envelope apiEnvelope) string {
	if strings.TrimSpace(envelope.Message) != "" {
		return envelope.Message
	}
	return "Unknown error"
}

// rawString strips quotes from a JSON scalar so numeric and string amounts
// come out the same way.
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	trimmed = strings.TrimPrefix(trimmed, "\"")
	trimmed = strings.TrimSuffix(trimmed, "\"")
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
