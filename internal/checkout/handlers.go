// Package checkout exposes the two HTTP surfaces of the gateway: checkout
// initiation and the browser callback that settles it.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hmjp/billing-gateway/internal/audit"
	"github.com/hmjp/billing-gateway/internal/common"
	"github.com/hmjp/billing-gateway/internal/flutterwave"
	"github.com/hmjp/billing-gateway/internal/obs"
	"github.com/hmjp/billing-gateway/internal/reconcile"
	"github.com/hmjp/billing-gateway/internal/sanitize"
)

// SessionCreator opens a hosted checkout session.
type SessionCreator interface {
	CreateSession(ctx context.Context, req flutterwave.SessionRequest) (string, error)
}

// Config carries the handler's static knobs.
type Config struct {
	// CallbackURL is where the gateway sends the customer back after the
	// hosted page.
	CallbackURL string
	// Flow is "redirect" (302 to the hosted page) or "inline" (return the
	// embed parameters as JSON).
	Flow           string
	PublicKey      string
	SecretKeySet   bool
	BusinessName   string
	BusinessDesc   string
	LogoURL        string
	PaymentMethods []string
	GatewayName    string
}

// Handler wires initiation and callback to the engine and the session client.
type Handler struct {
	Engine   *reconcile.Engine
	Sessions SessionCreator
	Validate *validator.Validate
	Audit    audit.Service
	Config   Config
	Logger   zerolog.Logger
}

// Callback settles a returning customer. Whatever happens, the response is a
// redirect back into the billing platform; failure detail goes to the gateway
// log, never to the client.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	outcome := h.Engine.Reconcile(r.Context(),
		query.Get("tx_ref"),
		query.Get("status"),
		query.Get("transaction_id"),
	)
	http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
}

type checkoutForm struct {
	InvoiceID   string `validate:"required"`
	Amount      string `validate:"required"`
	Currency    string `validate:"required"`
	Email       string `validate:"required,email"`
	Phone       string
	FirstName   string
	LastName    string
	Description string
}

// inlineParams is what the host platform feeds its FlutterwaveCheckout
// snippet when the inline flow is configured.
type inlineParams struct {
	PublicKey      string               `json:"public_key"`
	TxRef          string               `json:"tx_ref"`
	Amount         string               `json:"amount"`
	Currency       string               `json:"currency"`
	PaymentOptions string               `json:"payment_options"`
	RedirectURL    string               `json:"redirect_url"`
	Customer       flutterwave.Customer `json:"customer"`
	Customizations map[string]string    `json:"customizations"`
	Meta           map[string]any       `json:"meta"`
}

// Checkout starts a payment for an invoice.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if !h.Config.SecretKeySet {
		h.auditInitError(r, 0, "gateway credentials are not configured")
		common.WriteError(w, common.MisconfigurationError("payment gateway unavailable"))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.auditRejectedField(r, 0, "form", err.Error())
		common.WriteError(w, common.ValidationError("malformed form body", err))
		return
	}
	form := checkoutForm{
		InvoiceID:   r.PostFormValue("invoiceid"),
		Amount:      r.PostFormValue("amount"),
		Currency:    r.PostFormValue("currency"),
		Email:       r.PostFormValue("email"),
		Phone:       r.PostFormValue("phone"),
		FirstName:   r.PostFormValue("firstname"),
		LastName:    r.PostFormValue("lastname"),
		Description: r.PostFormValue("description"),
	}
	if err := h.Validate.Struct(form); err != nil {
		h.auditRejectedForm(r, form)
		common.WriteError(w, common.ValidationError("invalid checkout fields", err))
		return
	}

	invoiceID, err := sanitize.InvoiceID(form.InvoiceID)
	if err != nil {
		h.auditRejectedField(r, 0, "invoiceid", form.InvoiceID)
		common.WriteError(w, common.ValidationError("invalid invoice id", err))
		return
	}
	amount, err := sanitize.Amount(form.Amount)
	if err != nil {
		h.auditRejectedField(r, invoiceID, "amount", form.Amount)
		common.WriteError(w, common.ValidationError("invalid amount", err))
		return
	}
	currency := sanitize.CurrencyCode(form.Currency)
	if currency == "" {
		h.auditRejectedField(r, invoiceID, "currency", form.Currency)
		common.WriteError(w, common.ValidationError("invalid currency", nil))
		return
	}

	req := flutterwave.SessionRequest{
		TxRef:       fmt.Sprintf("%d", invoiceID),
		Amount:      reconcile.FormatAmount(amount),
		Currency:    currency,
		RedirectURL: h.Config.CallbackURL,
		Customer: flutterwave.Customer{
			Email: form.Email,
			Phone: sanitize.Text(form.Phone),
			Name:  customerName(form.FirstName, form.LastName),
		},
		PaymentOptions: h.Config.PaymentMethods,
		Title:          h.Config.BusinessName,
		Description:    description(form.Description, h.Config.BusinessDesc, invoiceID),
		LogoURL:        h.Config.LogoURL,
		ConsumerID:     invoiceID,
		ConsumerMAC:    common.ClientIP(r),
	}

	if h.Config.Flow == "inline" {
		h.countSession("inline", "ok")
		common.JSON(w, http.StatusOK, inlineParams{
			PublicKey:      h.Config.PublicKey,
			TxRef:          req.TxRef,
			Amount:         req.Amount,
			Currency:       req.Currency,
			PaymentOptions: req.PaymentOptionsCSV(),
			RedirectURL:    req.RedirectURL,
			Customer:       req.Customer,
			Customizations: map[string]string{
				"title":       req.Title,
				"description": req.Description,
				"logo":        req.LogoURL,
			},
			Meta: map[string]any{
				"consumer_id":  req.ConsumerID,
				"consumer_mac": req.ConsumerMAC,
			},
		})
		return
	}

	link, err := h.Sessions.CreateSession(r.Context(), req)
	if err != nil {
		h.countSession("redirect", "error")
		h.auditInitError(r, invoiceID, err.Error())
		common.WriteError(w, common.InitiationError("could not start payment, please try again", err))
		return
	}
	h.countSession("redirect", "ok")
	http.Redirect(w, r, link, http.StatusFound)
}

func (h *Handler) countSession(flow, result string) {
	if obs.CheckoutSessionTotal != nil {
		obs.CheckoutSessionTotal.WithLabelValues(flow, result).Inc()
	}
}

func (h *Handler) auditInitError(r *http.Request, invoiceID int64, message string) {
	payload, _ := json.Marshal(map[string]string{
		"publicKey": h.Config.PublicKey,
		"remote":    common.ClientIP(r),
	})
	if err := h.Audit.Record(r.Context(), audit.Entry{
		Module:    h.Config.GatewayName,
		Category:  audit.CategoryPaymentInitError,
		Message:   message,
		InvoiceID: invoiceID,
		Payload:   payload,
	}); err != nil {
		h.Logger.Error().Err(err).Msg("gateway log write failed")
	}
}

// auditRejectedForm logs a form that failed struct validation, carrying the
// submitted key fields so the offending value is on record.
func (h *Handler) auditRejectedForm(r *http.Request, form checkoutForm) {
	payload, _ := json.Marshal(map[string]string{
		"invoiceid": form.InvoiceID,
		"amount":    form.Amount,
		"currency":  form.Currency,
		"email":     form.Email,
		"remote":    common.ClientIP(r),
	})
	if err := h.Audit.Record(r.Context(), audit.Entry{
		Module:   h.Config.GatewayName,
		Category: audit.CategoryPaymentInitError,
		Message:  "rejected checkout form",
		Payload:  payload,
	}); err != nil {
		h.Logger.Error().Err(err).Msg("gateway log write failed")
	}
}

// auditRejectedField logs a refused initiation input with the offending value
// before the request is failed upward.
func (h *Handler) auditRejectedField(r *http.Request, invoiceID int64, field, value string) {
	payload, _ := json.Marshal(map[string]string{
		"field":  field,
		"value":  value,
		"remote": common.ClientIP(r),
	})
	if err := h.Audit.Record(r.Context(), audit.Entry{
		Module:    h.Config.GatewayName,
		Category:  audit.CategoryPaymentInitError,
		Message:   "rejected checkout field: " + field,
		InvoiceID: invoiceID,
		Payload:   payload,
	}); err != nil {
		h.Logger.Error().Err(err).Msg("gateway log write failed")
	}
}

func customerName(first, last string) string {
	return strings.TrimSpace(sanitize.Text(first) + " " + sanitize.Text(last))
}

func description(raw, fallback string, invoiceID int64) string {
	if cleaned := sanitize.Text(raw); cleaned != "" {
		return cleaned
	}
	if trimmed := strings.TrimSpace(fallback); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("Invoice #%d", invoiceID)
}
