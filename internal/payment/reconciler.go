// Package payment verifies gateway notifications and tracks payments from
// checkout to a trustworthy (user, tariff, payment) triple. Granting the
// tariff is left to the caller.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/metrics"
	"github.com/DukeRupert/reelstat/internal/store"
)

var (
	// ErrInvalidSignature means the notification token or terminal did not match.
	ErrInvalidSignature = errors.New("invalid payment signature")

	// ErrUnknownPayment means the payment could not be tied to a user and tariff.
	ErrUnknownPayment = errors.New("unknown payment")

	// ErrMalformedNotification means the body is not a notification.
	ErrMalformedNotification = errors.New("malformed payment notification")
)

// InitError is returned when a checkout cannot be created.
type InitError struct {
	Tariff domain.TariffCode
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init payment for tariff %s: %v", e.Tariff, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Checkout is a created payment the user still has to complete.
type Checkout struct {
	PaymentURL string
	PaymentID  string
}

// Notification is a decoded webhook body. Params keeps every root field for
// token verification.
type Notification struct {
	Params      map[string]any
	TerminalKey string
	PaymentID   string
	OrderID     string
	Status      string
	Token       string
	Amount      int64
	Raw         json.RawMessage
}

// ParseNotification decodes a webhook body. Numbers keep their literal form so
// the token is computed over exactly what the gateway sent.
func ParseNotification(body []byte) (*Notification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	n := &Notification{Params: params, Raw: json.RawMessage(body)}
	n.TerminalKey, _ = canonical(params["TerminalKey"])
	n.PaymentID, _ = canonical(params["PaymentId"])
	n.OrderID, _ = canonical(params["OrderId"])
	n.Status, _ = canonical(params["Status"])
	n.Token, _ = canonical(params[tokenField])
	if amount, ok := canonical(params["Amount"]); ok {
		n.Amount, _ = strconv.ParseInt(amount, 10, 64)
	}

	if n.PaymentID == "" || n.Token == "" {
		return nil, fmt.Errorf("%w: missing PaymentId or Token", ErrMalformedNotification)
	}
	return n, nil
}

// Config holds the terminal credentials and the URLs sent with each checkout.
type Config struct {
	TerminalKey     string
	Password        string
	NotificationURL string
	SuccessURL      string
	FailURL         string
}

// Reconciler owns PaymentRecord mutation.
type Reconciler struct {
	gateway  Gateway
	payments store.PaymentStore
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a Reconciler.
func NewReconciler(gateway Gateway, payments store.PaymentStore, config Config, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		gateway:  gateway,
		payments: payments,
		config:   config,
		logger:   logger.With("component", "payment"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initiate creates a gateway payment for a purchasable tariff and records it
// locally under the gateway's payment ID.
func (r *Reconciler) Initiate(ctx context.Context, userID int64, code domain.TariffCode, username string) (*Checkout, error) {
	const op = "payment.initiate"

	tariff, err := code.Lookup()
	if err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "unknown tariff code")
	}
	if !tariff.Purchasable() {
		return nil, domain.Errorf(domain.EINVALID, op, "tariff %s cannot be purchased", code)
	}

	now := r.now()
	orderID := OrderID{UserID: userID, Tariff: code, IssuedAt: now}.String()

	who := username
	if who == "" {
		who = strconv.FormatInt(userID, 10)
	}

	resp, err := r.gateway.Init(ctx, InitRequest{
		Amount:      tariff.Price,
		OrderID:     orderID,
		Description: fmt.Sprintf("Тариф %s для @%s", tariff.Name, who),
		Data: map[string]string{
			"userId":     strconv.FormatInt(userID, 10),
			"tariffCode": string(code),
			"username":   username,
		},
		NotificationURL: r.config.NotificationURL,
		SuccessURL:      r.config.SuccessURL,
		FailURL:         r.config.FailURL,
	})
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("init_failed").Inc()
		return nil, &InitError{Tariff: code, Err: err}
	}
	if resp.PaymentID == "" || resp.PaymentURL == "" {
		metrics.PaymentsTotal.WithLabelValues("init_failed").Inc()
		return nil, &InitError{Tariff: code, Err: errors.New("gateway returned no payment id or url")}
	}

	rec := &domain.PaymentRecord{
		PaymentID:     resp.PaymentID.String(),
		UserID:        userID,
		Tariff:        code,
		Amount:        tariff.Price,
		Status:        domain.NormalizePaymentStatus(resp.Status),
		GatewayStatus: resp.Status,
		OrderID:       orderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.payments.SavePayment(ctx, rec); err != nil {
		// The notification path can rebuild the record from the order ID.
		r.logger.Error("Failed to save payment record",
			"payment_id", rec.PaymentID,
			"user_id", userID,
			"error", err,
		)
	}

	metrics.PaymentsTotal.WithLabelValues("initiated").Inc()
	r.logger.Info("Payment initiated",
		"payment_id", rec.PaymentID,
		"user_id", userID,
		"tariff", code,
		"amount", tariff.Price,
	)
	return &Checkout{PaymentURL: resp.PaymentURL, PaymentID: rec.PaymentID}, nil
}

// VerifyAndExtract authenticates a notification and applies its status to the
// local record. A payment unknown locally is rebuilt from gateway state and
// its order ID. Nothing is written when verification fails.
func (r *Reconciler) VerifyAndExtract(ctx context.Context, n *Notification) (*domain.PaymentRecord, error) {
	const op = "payment.verify"

	if n.TerminalKey != r.config.TerminalKey || !Verify(n.Params, r.config.Password, n.Token) {
		metrics.PaymentsTotal.WithLabelValues("invalid_signature").Inc()
		return nil, domain.Wrap(ErrInvalidSignature, domain.EPAYMENT, op, "notification signature mismatch")
	}

	rec, err := r.payments.GetPayment(ctx, n.PaymentID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		rec, err = r.recover(ctx, op, n.PaymentID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domain.Internal(err, op, "failed to load payment")
	}

	if n.OrderID != "" && rec.OrderID != "" && n.OrderID != rec.OrderID {
		metrics.PaymentsTotal.WithLabelValues("unknown").Inc()
		return nil, domain.Wrap(ErrUnknownPayment, domain.EPAYMENT, op, "order id does not match payment")
	}

	rec.GatewayStatus = n.Status
	rec.Status = domain.NormalizePaymentStatus(n.Status)
	rec.Notification = n.Raw
	rec.UpdatedAt = r.now()
	if err := r.payments.SavePayment(ctx, rec); err != nil {
		if domain.ErrorCode(err) == domain.ECONFLICT {
			return nil, domain.Wrap(ErrUnknownPayment, domain.EPAYMENT, op, "payment is bound to another order")
		}
		return nil, domain.Internal(err, op, "failed to save payment")
	}

	metrics.PaymentsTotal.WithLabelValues("verified").Inc()
	r.logger.Info("Payment notification verified",
		"payment_id", rec.PaymentID,
		"user_id", rec.UserID,
		"tariff", rec.Tariff,
		"status", rec.GatewayStatus,
	)
	return rec, nil
}

// Refresh re-reads the status of a known payment from the gateway.
func (r *Reconciler) Refresh(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	const op = "payment.refresh"

	rec, err := r.payments.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Wrap(ErrUnknownPayment, domain.ENOTFOUND, op, "payment not found")
		}
		return nil, domain.Internal(err, op, "failed to load payment")
	}

	state, err := r.gateway.GetState(ctx, paymentID)
	if err != nil {
		return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "failed to query payment state")
	}
	if state.Status == rec.GatewayStatus {
		return rec, nil
	}

	rec.GatewayStatus = state.Status
	rec.Status = domain.NormalizePaymentStatus(state.Status)
	rec.UpdatedAt = r.now()
	if err := r.payments.SavePayment(ctx, rec); err != nil {
		return nil, domain.Internal(err, op, "failed to save payment")
	}

	r.logger.Info("Payment status refreshed",
		"payment_id", paymentID,
		"status", state.Status,
	)
	return rec, nil
}

// recover rebuilds a record for a payment missing locally.
func (r *Reconciler) recover(ctx context.Context, op, paymentID string) (*domain.PaymentRecord, error) {
	state, err := r.gateway.GetState(ctx, paymentID)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			metrics.PaymentsTotal.WithLabelValues("unknown").Inc()
			return nil, domain.Wrap(ErrUnknownPayment, domain.EPAYMENT, op, "gateway does not know the payment")
		}
		return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "failed to query payment state")
	}

	order, err := ParseOrderID(state.OrderID)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("unknown").Inc()
		r.logger.Warn("Payment order id not recognized", "payment_id", paymentID, "order_id", state.OrderID)
		return nil, domain.Wrap(ErrUnknownPayment, domain.EPAYMENT, op, "order id not recognized")
	}

	r.logger.Info("Payment recovered from gateway state",
		"payment_id", paymentID,
		"user_id", order.UserID,
		"tariff", order.Tariff,
	)
	now := r.now()
	createdAt := order.IssuedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &domain.PaymentRecord{
		PaymentID:     paymentID,
		UserID:        order.UserID,
		Tariff:        order.Tariff,
		Amount:        state.Amount,
		Status:        domain.NormalizePaymentStatus(state.Status),
		GatewayStatus: state.Status,
		OrderID:       state.OrderID,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}, nil
}
