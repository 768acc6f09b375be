// Package handler contains the HTTP surface of the bot: the payment gateway
// callback, the pages the gateway redirects buyers to, health and metrics.
//
// Routes:
//   - POST /payment/notification -> HandleNotification (called by the gateway)
//   - GET  /payment/success      -> Success
//   - GET  /payment/fail         -> Fail
//
// The notification route is PUBLIC. Authentication is the notification token,
// verified by the payment service.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/reelstat/internal/service"
)

// maxNotificationBytes bounds a gateway callback body.
const maxNotificationBytes = 64 << 10

// The gateway treats the literal body "OK" as acknowledgement and retries on
// anything else.
const (
	ackBody  = "OK"
	nackBody = "ERROR"
)

// PaymentHandler serves the payment gateway callback and result pages.
type PaymentHandler struct {
	payments service.PaymentService
	botURL   string
	logger   *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler. botURL is the link shown on
// the result pages.
func NewPaymentHandler(payments service.PaymentService, botURL string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		botURL:   botURL,
		logger:   logger.With("component", "payment_handler"),
	}
}

// HandleNotification processes a gateway status notification.
//
// 200 OK is returned for every accepted notification, including duplicates and
// statuses that do not grant anything. Forged, malformed and unknown
// notifications get 400 so the gateway stops retrying them. Anything else is
// a 500 and will be redelivered.
func (h *PaymentHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.logger.Error("failed to read notification body", "error", err)
		writeText(w, http.StatusBadRequest, nackBody)
		return
	}

	err = h.payments.HandleNotification(r.Context(), body)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, ackBody)
	case service.IsPaymentRejection(err):
		h.logger.Warn("payment notification rejected", "error", err)
		writeText(w, http.StatusBadRequest, nackBody)
	default:
		h.logger.Error("payment notification failed", "error", err)
		writeText(w, http.StatusInternalServerError, nackBody)
	}
}

// Success renders the page shown after a completed payment.
func (h *PaymentHandler) Success(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, successPage(h.botURL))
}

// Fail renders the page shown after a failed or canceled payment.
func (h *PaymentHandler) Fail(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, failPage(h.botURL))
}

func (h *PaymentHandler) render(w http.ResponseWriter, r *http.Request, page resultPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := page.Component().Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render payment page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
