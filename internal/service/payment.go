package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/ledger"
	"github.com/DukeRupert/reelstat/internal/metrics"
	"github.com/DukeRupert/reelstat/internal/payment"
	"github.com/DukeRupert/reelstat/internal/store"
)

// Pending payments younger than sweepMinAge are left to the webhook; older
// than sweepMaxAge they are abandoned.
const (
	sweepMinAge = 2 * time.Minute
	sweepMaxAge = 24 * time.Hour
)

// PaymentSuccessText is sent to the user once a tariff is granted.
const PaymentSuccessText = "✅ Оплата успешно прошла!\n\nТариф \"%s\" активирован. Теперь вы можете продолжить использование бота."

// =============================================================================
// Interface Definition
// =============================================================================

// Reconciler is the payment verification contract. *payment.Reconciler
// satisfies it.
type Reconciler interface {
	Initiate(ctx context.Context, userID int64, code domain.TariffCode, username string) (*payment.Checkout, error)
	VerifyAndExtract(ctx context.Context, n *payment.Notification) (*domain.PaymentRecord, error)
	Refresh(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)
}

// Notifier delivers a text message to a chat user.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// SweepResult summarizes one pending-payment sweep.
type SweepResult struct {
	Checked   int
	Confirmed int
	Failed    int
}

// PaymentService turns verified payments into tariff grants.
type PaymentService interface {
	// StartCheckout creates a gateway payment for a purchasable tariff.
	StartCheckout(ctx context.Context, userID int64, username string, code domain.TariffCode) (*payment.Checkout, error)

	// HandleNotification processes a webhook body. Errors wrapping
	// payment.ErrMalformedNotification, payment.ErrInvalidSignature or
	// payment.ErrUnknownPayment are the sender's fault; any other error is
	// transient and the gateway should redeliver.
	HandleNotification(ctx context.Context, body []byte) error

	// SweepPending re-reads payments still in the created state and settles
	// those the gateway now reports as confirmed.
	SweepPending(ctx context.Context) (SweepResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type paymentService struct {
	reconciler Reconciler
	payments   store.PaymentStore
	ledger     ledger.Ledger
	notifier   Notifier
	recorder   audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewPaymentService creates a new PaymentService. notifier may be nil.
func NewPaymentService(
	reconciler Reconciler,
	payments store.PaymentStore,
	l ledger.Ledger,
	notifier Notifier,
	recorder audit.Recorder,
	logger *slog.Logger,
) PaymentService {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &paymentService{
		reconciler: reconciler,
		payments:   payments,
		ledger:     l,
		notifier:   notifier,
		recorder:   recorder,
		logger:     logger.With("component", "payment_service"),
		now:        time.Now,
	}
}

func (s *paymentService) StartCheckout(ctx context.Context, userID int64, username string, code domain.TariffCode) (*payment.Checkout, error) {
	const op = "payment.start_checkout"

	checkout, err := s.reconciler.Initiate(ctx, userID, code, username)
	if err != nil {
		var initErr *payment.InitError
		if errors.As(err, &initErr) {
			s.logger.Error("Checkout failed", "user_id", userID, "tariff", code, "error", err)
			return nil, domain.Wrap(err, domain.EPAYMENT, op, "payment could not be created")
		}
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Type:     audit.EventPayment,
		UserID:   userID,
		Username: username,
		Data: map[string]any{
			"event":      "initiated",
			"tariff":     string(code),
			"payment_id": checkout.PaymentID,
		},
	})
	return checkout, nil
}

func (s *paymentService) HandleNotification(ctx context.Context, body []byte) error {
	n, err := payment.ParseNotification(body)
	if err != nil {
		s.logger.Warn("Malformed payment notification", "error", err)
		return err
	}

	rec, err := s.reconciler.VerifyAndExtract(ctx, n)
	if err != nil {
		s.logger.Warn("Payment notification rejected",
			"payment_id", n.PaymentID,
			"op", domain.ErrorOp(err),
			"error", err,
		)
		return err
	}

	s.recorder.Record(ctx, audit.Event{
		Type:   audit.EventPayment,
		UserID: rec.UserID,
		Data: map[string]any{
			"event":      "notification",
			"tariff":     string(rec.Tariff),
			"payment_id": rec.PaymentID,
			"status":     rec.GatewayStatus,
			"amount":     rec.Amount,
		},
	})

	if !rec.IsConfirmed() {
		return nil
	}
	return s.settle(ctx, rec)
}

func (s *paymentService) SweepPending(ctx context.Context) (SweepResult, error) {
	const op = "payment.sweep"

	var res SweepResult
	pending, err := s.payments.ListPayments(ctx, domain.PaymentCreated)
	if err != nil {
		return res, domain.Internal(err, op, "failed to list pending payments")
	}

	now := s.now()
	for _, p := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		age := now.Sub(p.CreatedAt)
		if age < sweepMinAge || age > sweepMaxAge {
			continue
		}
		res.Checked++

		rec, err := s.reconciler.Refresh(ctx, p.PaymentID)
		if err != nil {
			res.Failed++
			s.logger.Warn("Failed to refresh payment", "payment_id", p.PaymentID, "error", err)
			continue
		}
		if !rec.IsConfirmed() {
			continue
		}
		if err := s.settle(ctx, rec); err != nil {
			res.Failed++
			continue
		}
		res.Confirmed++
	}

	if res.Checked > 0 {
		s.logger.Info("Pending payments swept",
			"checked", res.Checked,
			"confirmed", res.Confirmed,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// settle grants the tariff of a confirmed payment exactly once. The claim in
// the processed set comes first; a failed grant releases it so redelivery
// can retry.
func (s *paymentService) settle(ctx context.Context, rec *domain.PaymentRecord) error {
	const op = "payment.settle"

	claimed, err := s.payments.ClaimPayment(ctx, rec.PaymentID)
	if err != nil {
		return domain.Internal(err, op, "failed to claim payment")
	}
	if !claimed {
		metrics.PaymentsTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Payment already processed", "payment_id", rec.PaymentID)
		return nil
	}

	if _, err := s.ledger.Grant(ctx, rec.UserID, rec.Tariff, rec.PaymentID); err != nil {
		if relErr := s.payments.ReleasePayment(context.WithoutCancel(ctx), rec.PaymentID); relErr != nil {
			s.logger.Error("Failed to release payment claim",
				"payment_id", rec.PaymentID,
				"error", relErr,
			)
		}
		metrics.PaymentsTotal.WithLabelValues("grant_failed").Inc()
		s.logger.Error("Failed to grant tariff",
			"payment_id", rec.PaymentID,
			"user_id", rec.UserID,
			"tariff", rec.Tariff,
			"error", err,
		)
		return domain.Internal(err, op, "failed to grant tariff")
	}
	metrics.PaymentsTotal.WithLabelValues("granted").Inc()

	if s.notifier != nil {
		text := fmt.Sprintf(PaymentSuccessText, rec.Tariff)
		if err := s.notifier.SendText(ctx, rec.UserID, text); err != nil {
			s.logger.Warn("Failed to notify user about payment",
				"user_id", rec.UserID,
				"payment_id", rec.PaymentID,
				"error", err,
			)
		}
	}
	return nil
}

// IsPaymentRejection reports whether err is the sender's fault rather than a
// transient failure.
func IsPaymentRejection(err error) bool {
	return errors.Is(err, payment.ErrMalformedNotification) ||
		errors.Is(err, payment.ErrInvalidSignature) ||
		errors.Is(err, payment.ErrUnknownPayment)
}
