package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/ledger"
	"github.com/DukeRupert/reelstat/internal/middleware"
	"github.com/DukeRupert/reelstat/internal/payment"
	"github.com/DukeRupert/reelstat/internal/provider"
	"github.com/DukeRupert/reelstat/internal/service"
	"github.com/DukeRupert/reelstat/internal/store"
	"github.com/DukeRupert/reelstat/internal/telegram"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Fakes
// =============================================================================

type fakeTransport struct {
	mu       sync.Mutex
	sent     []telegram.OutgoingMessage
	answered []string
	commands []telegram.BotCommand
	updates  chan []telegram.Update
}

func (f *fakeTransport) GetUpdates(ctx context.Context, _ int, _ time.Duration) ([]telegram.Update, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case u := <-f.updates:
		return u, nil
	}
}

func (f *fakeTransport) SendMessage(_ context.Context, msg telegram.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) AnswerCallbackQuery(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeTransport) SetCommands(_ context.Context, commands []telegram.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = commands
	return nil
}

func (f *fakeTransport) messages() []telegram.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telegram.OutgoingMessage(nil), f.sent...)
}

func (f *fakeTransport) last(t *testing.T) telegram.OutgoingMessage {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type fakeAnalysis struct {
	result *service.AnalysisResult
	err    error
	block  chan struct{}
	calls  []service.AnalysisRequest
}

func (f *fakeAnalysis) Analyze(_ context.Context, req service.AnalysisRequest) (*service.AnalysisResult, error) {
	f.calls = append(f.calls, req)
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

type fakePayments struct {
	checkout *payment.Checkout
	err      error
	codes    []domain.TariffCode
}

func (f *fakePayments) StartCheckout(_ context.Context, _ int64, _ string, code domain.TariffCode) (*payment.Checkout, error) {
	f.codes = append(f.codes, code)
	return f.checkout, f.err
}

func (f *fakePayments) HandleNotification(context.Context, []byte) error { return nil }

func (f *fakePayments) SweepPending(context.Context) (service.SweepResult, error) {
	return service.SweepResult{}, nil
}

type harness struct {
	d         *Dispatcher
	transport *fakeTransport
	analysis  *fakeAnalysis
	payments  *fakePayments
	ledger    ledger.Ledger
}

func newHarness(t *testing.T, limiter *middleware.RateLimiter) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{updates: make(chan []telegram.Update, 1)},
		analysis:  &fakeAnalysis{},
		payments:  &fakePayments{},
		ledger:    ledger.New(store.NewMemory(), nil, testLogger()),
	}
	h.d = NewDispatcher(h.transport, h.analysis, h.payments, h.ledger, limiter, nil,
		Config{SupportURL: "https://t.me/support"}, testLogger())
	return h
}

func textUpdate(userID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			From: &telegram.User{ID: userID, Username: "user"},
			Chat: telegram.Chat{ID: userID},
			Text: text,
		},
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestDispatcher_Start(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.d.HandleUpdate(ctx, textUpdate(7, "/start"))

	assert.Equal(t, startText, h.transport.last(t).Text)

	rec, err := h.ledger.Get(ctx, 7, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TariffTest, rec.Tariff)
	assert.Equal(t, "user", rec.Username)
}

type stalledRecorder struct {
	release chan struct{}
	events  chan audit.Event
}

func (r *stalledRecorder) Record(_ context.Context, e audit.Event) {
	<-r.release
	r.events <- e
}

func TestDispatcher_SlowAuditDoesNotDelayReply(t *testing.T) {
	transport := &fakeTransport{updates: make(chan []telegram.Update, 1)}
	slow := &stalledRecorder{release: make(chan struct{}), events: make(chan audit.Event, 1)}
	recorder := audit.NewAsyncRecorder(slow, 8, testLogger())
	d := NewDispatcher(transport, &fakeAnalysis{}, &fakePayments{}, ledger.New(store.NewMemory(), nil, testLogger()),
		nil, recorder, Config{}, testLogger())

	handled := make(chan struct{})
	go func() {
		d.HandleUpdate(context.Background(), textUpdate(7, "/help"))
		close(handled)
	}()

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("reply waited on the audit write")
	}
	assert.Equal(t, helpText, transport.last(t).Text)

	close(slow.release)
	require.NoError(t, recorder.Close(context.Background()))
	e := <-slow.events
	assert.Equal(t, audit.EventMessage, e.Type)
	assert.Equal(t, int64(7), e.UserID)
}

func TestDispatcher_CommandWithBotSuffix(t *testing.T) {
	h := newHarness(t, nil)

	h.d.HandleUpdate(context.Background(), textUpdate(7, "/help@reelstat_bot"))

	assert.Equal(t, helpText, h.transport.last(t).Text)
}

func TestDispatcher_Tariff(t *testing.T) {
	h := newHarness(t, nil)

	h.d.HandleUpdate(context.Background(), textUpdate(7, "/tariff"))

	msg := h.transport.last(t)
	assert.Contains(t, msg.Text, "Осталось проверок: 5")
	require.NotNil(t, msg.ReplyMarkup)
}

func TestDispatcher_Buy(t *testing.T) {
	h := newHarness(t, nil)

	h.d.HandleUpdate(context.Background(), textUpdate(7, "/buy"))

	msg := h.transport.last(t)
	assert.Equal(t, buyText, msg.Text)
	require.NotNil(t, msg.ReplyMarkup)
	assert.Equal(t, buyPrefix+"S", msg.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
}

// =============================================================================
// Profile analysis
// =============================================================================

func TestDispatcher_TextWithoutProfile(t *testing.T) {
	h := newHarness(t, nil)

	h.d.HandleUpdate(context.Background(), textUpdate(7, "hello there"))

	assert.Equal(t, hintText, h.transport.last(t).Text)
	assert.Empty(t, h.analysis.calls)
}

func TestDispatcher_AnalysisDelivered(t *testing.T) {
	h := newHarness(t, nil)
	h.analysis.result = &service.AnalysisResult{
		Admitted: true,
		Record:   &domain.QuotaRecord{Tariff: domain.TariffTest, ChecksRemaining: 4},
		Profile:  &domain.ProfileSnapshot{Username: "creator", FollowerCount: 100},
	}

	h.d.HandleUpdate(context.Background(), textUpdate(7, "глянь instagram.com/Creator/?igsh=abc"))

	require.Len(t, h.analysis.calls, 1)
	assert.Equal(t, "https://www.instagram.com/creator/", h.analysis.calls[0].ProfileURL)
	assert.Equal(t, int64(7), h.analysis.calls[0].UserID)

	msgs := h.transport.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, analyzingText, msgs[0].Text)
	assert.Contains(t, msgs[1].Text, "@creator")
	assert.True(t, msgs[1].DisableWebPagePreview)
}

func TestDispatcher_AnalysisDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.analysis.result = &service.AnalysisResult{
		Record: &domain.QuotaRecord{Tariff: domain.TariffTest},
	}

	h.d.HandleUpdate(context.Background(), textUpdate(7, "@creator"))

	msg := h.transport.last(t)
	assert.Equal(t, limitReachedTest, msg.Text)
	require.NotNil(t, msg.ReplyMarkup)
}

func TestDispatcher_AnalysisFetchError(t *testing.T) {
	h := newHarness(t, nil)
	h.analysis.err = &provider.FetchError{Kind: provider.KindProfileNotFound, Status: 404}

	h.d.HandleUpdate(context.Background(), textUpdate(7, "@creator"))

	assert.True(t, strings.Contains(h.transport.last(t).Text, "не найден"))
}

func TestDispatcher_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute, testLogger())
	t.Cleanup(limiter.Close)

	h := newHarness(t, limiter)
	h.analysis.result = &service.AnalysisResult{
		Admitted: true,
		Record:   &domain.QuotaRecord{},
		Profile:  &domain.ProfileSnapshot{Username: "creator"},
	}
	ctx := context.Background()

	h.d.HandleUpdate(ctx, textUpdate(7, "@creator"))
	h.d.HandleUpdate(ctx, textUpdate(7, "@creator"))

	assert.Len(t, h.analysis.calls, 1)
	assert.Equal(t, rateLimitedText, h.transport.last(t).Text)

	// Other users have their own budget.
	h.d.HandleUpdate(ctx, textUpdate(8, "@creator"))
	assert.Len(t, h.analysis.calls, 2)
}

func TestDispatcher_ConcurrentRequestRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.analysis.block = make(chan struct{})
	h.analysis.result = &service.AnalysisResult{
		Admitted: true,
		Record:   &domain.QuotaRecord{},
		Profile:  &domain.ProfileSnapshot{Username: "creator"},
	}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.d.HandleUpdate(ctx, textUpdate(7, "@creator"))
	}()

	require.Eventually(t, func() bool {
		for _, m := range h.transport.messages() {
			if m.Text == analyzingText {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	h.d.HandleUpdate(ctx, textUpdate(7, "@other"))
	assert.Equal(t, busyText, h.transport.last(t).Text)

	close(h.analysis.block)
	<-done
}

// =============================================================================
// Callbacks
// =============================================================================

func TestDispatcher_BuyCallback(t *testing.T) {
	h := newHarness(t, nil)
	h.payments.checkout = &payment.Checkout{PaymentURL: "https://pay.example/1", PaymentID: "1"}

	h.d.HandleUpdate(context.Background(), telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb-1",
			From:    telegram.User{ID: 7, Username: "user"},
			Message: &telegram.Message{Chat: telegram.Chat{ID: 7}},
			Data:    buyPrefix + "M",
		},
	})

	assert.Equal(t, []string{"cb-1"}, h.transport.answered)
	assert.Equal(t, []domain.TariffCode{domain.TariffM}, h.payments.codes)

	msg := h.transport.last(t)
	assert.Equal(t, checkoutText, msg.Text)
	require.NotNil(t, msg.ReplyMarkup)
	assert.Equal(t, "https://pay.example/1", msg.ReplyMarkup.InlineKeyboard[0][0].URL)
}

func TestDispatcher_BuyCallbackUnknownTariff(t *testing.T) {
	h := newHarness(t, nil)

	h.d.HandleUpdate(context.Background(), telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{ID: "cb-2", From: telegram.User{ID: 7}, Data: buyPrefix + "XL"},
	})

	assert.Empty(t, h.payments.codes)
	assert.Empty(t, h.transport.messages())
}

func TestDispatcher_BuyCallbackCheckoutFails(t *testing.T) {
	h := newHarness(t, nil)
	h.payments.err = domain.Unavailable(assert.AnError, "payment.initiate", "gateway down")

	h.d.HandleUpdate(context.Background(), telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{ID: "cb-3", From: telegram.User{ID: 7}, Data: buyPrefix + "S"},
	})

	assert.Equal(t, checkoutFailed, h.transport.last(t).Text)
}

// =============================================================================
// Polling
// =============================================================================

func TestDispatcher_Run(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.d.Run(ctx) }()

	h.transport.updates <- []telegram.Update{textUpdate(7, "/help")}

	require.Eventually(t, func() bool {
		return len(h.transport.messages()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Equal(t, Commands, h.transport.commands)
}
