// Package bot is the chat front end: it long-polls the transport, routes
// commands, profile links and button presses to services, and renders
// replies.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/ledger"
	"github.com/DukeRupert/reelstat/internal/middleware"
	"github.com/DukeRupert/reelstat/internal/provider"
	"github.com/DukeRupert/reelstat/internal/service"
	"github.com/DukeRupert/reelstat/internal/telegram"
)

const (
	StartCmd  = "/start"
	HelpCmd   = "/help"
	TariffCmd = "/tariff"
	BuyCmd    = "/buy"

	buyPrefix = "buy:"
)

// Commands is the menu registered with the transport.
var Commands = []telegram.BotCommand{
	{Command: "start", Description: "Начать работу"},
	{Command: "tariff", Description: "Мой тариф"},
	{Command: "buy", Description: "Подключить тариф"},
	{Command: "help", Description: "Помощь"},
}

// Transport is the chat API the dispatcher needs. *telegram.Client satisfies it.
type Transport interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, msg telegram.OutgoingMessage) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	SetCommands(ctx context.Context, commands []telegram.BotCommand) error
}

// Config holds dispatcher settings.
type Config struct {
	PollTimeout time.Duration
	SupportURL  string
}

// Dispatcher routes updates to services.
type Dispatcher struct {
	transport Transport
	analysis  service.AnalysisService
	payments  service.PaymentService
	ledger    ledger.Ledger
	limiter   *middleware.RateLimiter
	recorder  audit.Recorder
	config    Config
	logger    *slog.Logger
	fmt       *formatter

	inflightMu sync.Mutex
	inflight   map[int64]struct{}
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. limiter bounds analysis requests per
// user and may be nil.
func NewDispatcher(
	transport Transport,
	analysis service.AnalysisService,
	payments service.PaymentService,
	l ledger.Ledger,
	limiter *middleware.RateLimiter,
	recorder audit.Recorder,
	config Config,
	logger *slog.Logger,
) *Dispatcher {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 30 * time.Second
	}
	return &Dispatcher{
		transport: transport,
		analysis:  analysis,
		payments:  payments,
		ledger:    l,
		limiter:   limiter,
		recorder:  recorder,
		config:    config,
		logger:    logger.With("component", "bot"),
		fmt:       newFormatter(),
		inflight:  make(map[int64]struct{}),
	}
}

// Run long-polls until ctx is canceled, then waits for in-progress updates.
// Each update is handled on its own goroutine so one slow analysis does not
// hold up other users.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.transport.SetCommands(ctx, Commands); err != nil {
		d.logger.Warn("Failed to register bot commands", "error", err)
	}

	d.logger.Info("Bot polling started")
	defer d.wg.Wait()

	offset := 0
	for {
		if ctx.Err() != nil {
			d.logger.Info("Bot polling stopped")
			return nil
		}

		updates, err := d.transport.GetUpdates(ctx, offset, d.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			delay := time.Second
			var apiErr *telegram.APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}
			d.logger.Warn("Failed to get updates", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			d.wg.Add(1)
			go func(u telegram.Update) {
				defer d.wg.Done()
				d.HandleUpdate(context.WithoutCancel(ctx), u)
			}(u)
		}
	}
}

// HandleUpdate processes a single update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u telegram.Update) {
	logger := d.logger.With("request_id", uuid.NewString(), "update_id", u.UpdateID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling update", "panic", r)
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, logger, u.CallbackQuery)
	case u.Message != nil:
		d.handleMessage(ctx, logger, u.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, logger *slog.Logger, m *telegram.Message) {
	userID, username := m.Chat.ID, ""
	if m.From != nil {
		userID, username = m.From.ID, m.From.Username
	}
	chatID := m.Chat.ID
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	d.recorder.Record(ctx, audit.Event{
		Type:     audit.EventMessage,
		UserID:   userID,
		Username: username,
		Data:     map[string]any{"text": text},
	})

	command := strings.SplitN(text, " ", 2)[0]
	command = strings.SplitN(command, "@", 2)[0]

	switch command {
	case StartCmd:
		if _, err := d.ledger.Get(ctx, userID, username); err != nil {
			logger.Error("Failed to load quota record", "user_id", userID, "error", err)
		}
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: startText})
	case HelpCmd:
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: helpText})
	case TariffCmd:
		d.handleTariff(ctx, logger, chatID, userID, username)
	case BuyCmd:
		d.send(ctx, logger, telegram.OutgoingMessage{
			ChatID:      chatID,
			Text:        buyText,
			ReplyMarkup: d.fmt.purchaseKeyboard(d.config.SupportURL),
		})
	default:
		if strings.HasPrefix(text, "/") {
			d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: helpText})
			return
		}
		d.handleProfileText(ctx, logger, chatID, userID, username, text)
	}
}

func (d *Dispatcher) handleTariff(ctx context.Context, logger *slog.Logger, chatID, userID int64, username string) {
	rec, err := d.ledger.Get(ctx, userID, username)
	if err != nil {
		logger.Error("Failed to load quota record", "user_id", userID, "error", err)
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: internalText})
		return
	}
	d.send(ctx, logger, telegram.OutgoingMessage{
		ChatID:      chatID,
		Text:        d.fmt.tariffStatus(rec),
		ReplyMarkup: d.fmt.purchaseKeyboard(d.config.SupportURL),
	})
}

func (d *Dispatcher) handleProfileText(ctx context.Context, logger *slog.Logger, chatID, userID int64, username, text string) {
	profileURL, err := provider.ParseProfileReference(text)
	if err != nil {
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: hintText})
		return
	}

	if d.limiter != nil && !d.limiter.Allow(strconv.FormatInt(userID, 10)) {
		logger.Warn("User rate limited", "user_id", userID)
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: rateLimitedText})
		return
	}

	release, ok := d.acquire(userID)
	if !ok {
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: busyText})
		return
	}
	defer release()

	// Make sure the record exists and carries the current username.
	if _, err := d.ledger.Get(ctx, userID, username); err != nil {
		logger.Error("Failed to load quota record", "user_id", userID, "error", err)
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: internalText})
		return
	}

	d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: analyzingText})

	res, err := d.analysis.Analyze(ctx, service.AnalysisRequest{
		UserID:     userID,
		Username:   username,
		ProfileURL: profileURL,
	})
	if err != nil {
		logger.Warn("Analysis failed", "user_id", userID, "profile_url", profileURL, "error", err)
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: d.fmt.fetchError(err)})
		return
	}

	if !res.Admitted {
		d.send(ctx, logger, telegram.OutgoingMessage{
			ChatID:      chatID,
			Text:        d.fmt.limitReached(res.Record),
			ReplyMarkup: d.fmt.purchaseKeyboard(d.config.SupportURL),
		})
		return
	}

	d.send(ctx, logger, telegram.OutgoingMessage{
		ChatID:                chatID,
		Text:                  d.fmt.analysis(res.Profile, res.Prediction, res.Record),
		DisableWebPagePreview: true,
	})
}

func (d *Dispatcher) handleCallback(ctx context.Context, logger *slog.Logger, q *telegram.CallbackQuery) {
	if err := d.transport.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		logger.Warn("Failed to answer callback", "error", err)
	}

	chatID := q.From.ID
	if q.Message != nil {
		chatID = q.Message.Chat.ID
	}

	if !strings.HasPrefix(q.Data, buyPrefix) {
		logger.Debug("Unknown callback", "data", q.Data)
		return
	}

	code, err := domain.ParseTariffCode(strings.TrimPrefix(q.Data, buyPrefix))
	if err != nil {
		logger.Warn("Callback with unknown tariff", "data", q.Data)
		return
	}

	checkout, err := d.payments.StartCheckout(ctx, q.From.ID, q.From.Username, code)
	if err != nil {
		logger.Error("Checkout failed", "user_id", q.From.ID, "tariff", code, "error", err)
		d.send(ctx, logger, telegram.OutgoingMessage{ChatID: chatID, Text: checkoutFailed})
		return
	}

	tariff, _ := code.Lookup()
	d.send(ctx, logger, telegram.OutgoingMessage{
		ChatID: chatID,
		Text:   checkoutText,
		ReplyMarkup: telegram.Rows(telegram.InlineButton{
			Text: payButtonText + " " + d.fmt.priceLabel(tariff),
			URL:  checkout.PaymentURL,
		}),
	})
}

// acquire marks userID as having an analysis in progress. ok is false when
// one is already running.
func (d *Dispatcher) acquire(userID int64) (release func(), ok bool) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	if _, busy := d.inflight[userID]; busy {
		return nil, false
	}
	d.inflight[userID] = struct{}{}
	return func() {
		d.inflightMu.Lock()
		delete(d.inflight, userID)
		d.inflightMu.Unlock()
	}, true
}

func (d *Dispatcher) send(ctx context.Context, logger *slog.Logger, msg telegram.OutgoingMessage) {
	if err := d.transport.SendMessage(ctx, msg); err != nil {
		logger.Warn("Failed to send message", "chat_id", msg.ChatID, "error", err)
	}
}
