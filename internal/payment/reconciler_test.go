package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/store"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	initReq   InitRequest
	initResp  *Response
	initErr   error
	states    map[string]*Response
	stateErr  error
	stateHits int
}

func (f *fakeGateway) Init(_ context.Context, req InitRequest) (*Response, error) {
	f.initReq = req
	return f.initResp, f.initErr
}

func (f *fakeGateway) GetState(_ context.Context, paymentID string) (*Response, error) {
	f.stateHits++
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	resp, ok := f.states[paymentID]
	if !ok {
		return &Response{Success: false, ErrorCode: "7"}, &GatewayError{Method: "GetState", Code: "7", Message: "Покупатель не найден"}
	}
	return resp, nil
}

func testConfig() Config {
	return Config{
		TerminalKey:     "TK",
		Password:        "pw",
		NotificationURL: "https://bot.example/payment/notification",
		SuccessURL:      "https://bot.example/payment/success",
		FailURL:         "https://bot.example/payment/fail",
	}
}

func newTestReconciler(gw Gateway) (*Reconciler, *store.Memory) {
	s := store.NewMemory()
	r := NewReconciler(gw, s, testConfig(), discardLogger(), WithClock(func() time.Time { return now }))
	return r, s
}

// signedNotification builds a webhook body the way the gateway does.
func signedNotification(t *testing.T, fields map[string]any, password string) *Notification {
	t.Helper()
	fields["Token"] = Sign(fields, password)
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	n, err := ParseNotification(body)
	require.NoError(t, err)
	return n
}

func TestInitiate(t *testing.T) {
	gw := &fakeGateway{initResp: &Response{Success: true, Status: "NEW", PaymentID: "p-1", PaymentURL: "https://pay.example/p-1"}}
	r, s := newTestReconciler(gw)

	checkout, err := r.Initiate(context.Background(), 42, domain.TariffS, "alice")
	require.NoError(t, err)

	assert.Equal(t, &Checkout{PaymentURL: "https://pay.example/p-1", PaymentID: "p-1"}, checkout)
	assert.Equal(t, int64(119000), gw.initReq.Amount)
	assert.Equal(t, "Тариф S для @alice", gw.initReq.Description)
	assert.Equal(t, OrderID{UserID: 42, Tariff: domain.TariffS, IssuedAt: now}.String(), gw.initReq.OrderID)
	assert.Equal(t, "42", gw.initReq.Data["userId"])
	assert.Equal(t, testConfig().NotificationURL, gw.initReq.NotificationURL)

	rec, err := s.GetPayment(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, domain.TariffS, rec.Tariff)
	assert.Equal(t, domain.PaymentCreated, rec.Status)
	assert.Equal(t, "NEW", rec.GatewayStatus)
}

func TestInitiate_DescriptionFallsBackToUserID(t *testing.T) {
	gw := &fakeGateway{initResp: &Response{Success: true, PaymentID: "p-1", PaymentURL: "https://pay.example/p-1"}}
	r, _ := newTestReconciler(gw)

	_, err := r.Initiate(context.Background(), 42, domain.TariffM, "")
	require.NoError(t, err)
	assert.Equal(t, "Тариф M для @42", gw.initReq.Description)
}

func TestInitiate_Errors(t *testing.T) {
	t.Run("gateway refusal", func(t *testing.T) {
		gw := &fakeGateway{initErr: &GatewayError{Method: "Init", Code: "9999"}}
		r, _ := newTestReconciler(gw)

		_, err := r.Initiate(context.Background(), 42, domain.TariffS, "alice")

		var initErr *InitError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, domain.TariffS, initErr.Tariff)
	})

	t.Run("not purchasable", func(t *testing.T) {
		r, _ := newTestReconciler(&fakeGateway{})

		_, err := r.Initiate(context.Background(), 42, domain.TariffTest, "alice")
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("unknown tariff", func(t *testing.T) {
		r, _ := newTestReconciler(&fakeGateway{})

		_, err := r.Initiate(context.Background(), 42, domain.TariffCode("XL"), "alice")
		assert.ErrorIs(t, err, domain.ErrUnknownTariff)
	})
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"TerminalKey":"TK","OrderId":"42_S_1","Success":true,"Status":"CONFIRMED","PaymentId":13660,"ErrorCode":"0","Amount":119000,"Token":"abc"}`))
	require.NoError(t, err)

	assert.Equal(t, "13660", n.PaymentID)
	assert.Equal(t, "CONFIRMED", n.Status)
	assert.Equal(t, int64(119000), n.Amount)
	assert.Equal(t, json.Number("13660"), n.Params["PaymentId"])

	_, err = ParseNotification([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedNotification)

	_, err = ParseNotification([]byte(`{"Status":"CONFIRMED"}`))
	assert.ErrorIs(t, err, ErrMalformedNotification)
}

func TestVerifyAndExtract_KnownPayment(t *testing.T) {
	r, s := newTestReconciler(&fakeGateway{})
	require.NoError(t, s.SavePayment(context.Background(), &domain.PaymentRecord{
		PaymentID: "13660", UserID: 42, Tariff: domain.TariffS, Amount: 119000,
		Status: domain.PaymentCreated, GatewayStatus: "NEW", OrderID: "42_S_1",
	}))

	n := signedNotification(t, map[string]any{
		"TerminalKey": "TK",
		"OrderId":     "42_S_1",
		"Success":     true,
		"Status":      "CONFIRMED",
		"PaymentId":   13660,
		"Amount":      119000,
	}, "pw")

	rec, err := r.VerifyAndExtract(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, domain.TariffS, rec.Tariff)
	assert.True(t, rec.IsConfirmed())

	stored, err := s.GetPayment(context.Background(), "13660")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, stored.Status)
	assert.NotEmpty(t, stored.Notification)
}

func TestVerifyAndExtract_RejectsForgery(t *testing.T) {
	tests := []struct {
		name     string
		password string
		terminal string
		tamper   bool
	}{
		{name: "wrong password", password: "guess", terminal: "TK"},
		{name: "wrong terminal", password: "pw", terminal: "OTHER"},
		{name: "tampered after signing", password: "pw", terminal: "TK", tamper: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			r, s := newTestReconciler(gw)
			require.NoError(t, s.SavePayment(context.Background(), &domain.PaymentRecord{
				PaymentID: "1", UserID: 42, Tariff: domain.TariffS, Status: domain.PaymentCreated, GatewayStatus: "NEW",
			}))

			n := signedNotification(t, map[string]any{
				"TerminalKey": tt.terminal,
				"Status":      "REJECTED",
				"PaymentId":   "1",
			}, tt.password)
			if tt.tamper {
				n.Params["Status"] = "CONFIRMED"
			}

			_, err := r.VerifyAndExtract(context.Background(), n)
			assert.ErrorIs(t, err, ErrInvalidSignature)
			assert.Zero(t, gw.stateHits)

			stored, err := s.GetPayment(context.Background(), "1")
			require.NoError(t, err)
			assert.Equal(t, "NEW", stored.GatewayStatus)
		})
	}
}

func TestVerifyAndExtract_RecoversFromGatewayState(t *testing.T) {
	gw := &fakeGateway{states: map[string]*Response{
		"900": {Success: true, Status: "CONFIRMED", PaymentID: "900", OrderID: "77_M_1718000000000", Amount: 297000},
	}}
	r, s := newTestReconciler(gw)

	n := signedNotification(t, map[string]any{
		"TerminalKey": "TK",
		"Status":      "CONFIRMED",
		"PaymentId":   "900",
		"OrderId":     "77_M_1718000000000",
	}, "pw")

	rec, err := r.VerifyAndExtract(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, int64(77), rec.UserID)
	assert.Equal(t, domain.TariffM, rec.Tariff)
	assert.Equal(t, int64(297000), rec.Amount)
	assert.Equal(t, 1, gw.stateHits)

	stored, err := s.GetPayment(context.Background(), "900")
	require.NoError(t, err)
	assert.Equal(t, int64(77), stored.UserID)
}

func TestVerifyAndExtract_UnknownPayment(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]*Response
	}{
		{name: "gateway does not know it", states: map[string]*Response{}},
		{name: "foreign order id", states: map[string]*Response{
			"5": {Success: true, Status: "CONFIRMED", PaymentID: "5", OrderID: "order-from-elsewhere"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, s := newTestReconciler(&fakeGateway{states: tt.states})

			n := signedNotification(t, map[string]any{"TerminalKey": "TK", "Status": "CONFIRMED", "PaymentId": "5"}, "pw")

			_, err := r.VerifyAndExtract(context.Background(), n)
			assert.ErrorIs(t, err, ErrUnknownPayment)

			_, err = s.GetPayment(context.Background(), "5")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestVerifyAndExtract_GatewayDown(t *testing.T) {
	r, _ := newTestReconciler(&fakeGateway{stateErr: errors.New("connection reset")})

	n := signedNotification(t, map[string]any{"TerminalKey": "TK", "Status": "CONFIRMED", "PaymentId": "5"}, "pw")

	_, err := r.VerifyAndExtract(context.Background(), n)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.NotErrorIs(t, err, ErrUnknownPayment)
}

func TestVerifyAndExtract_OrderMismatch(t *testing.T) {
	r, s := newTestReconciler(&fakeGateway{})
	require.NoError(t, s.SavePayment(context.Background(), &domain.PaymentRecord{
		PaymentID: "1", UserID: 42, Tariff: domain.TariffS, OrderID: "42_S_1",
	}))

	n := signedNotification(t, map[string]any{"TerminalKey": "TK", "Status": "CONFIRMED", "PaymentId": "1", "OrderId": "43_M_1"}, "pw")

	_, err := r.VerifyAndExtract(context.Background(), n)
	assert.ErrorIs(t, err, ErrUnknownPayment)
}

func TestRefresh(t *testing.T) {
	gw := &fakeGateway{states: map[string]*Response{
		"1": {Success: true, Status: "DEADLINE_EXPIRED", PaymentID: "1"},
	}}
	r, s := newTestReconciler(gw)
	require.NoError(t, s.SavePayment(context.Background(), &domain.PaymentRecord{
		PaymentID: "1", UserID: 42, Tariff: domain.TariffS, Status: domain.PaymentCreated, GatewayStatus: "NEW",
	}))

	rec, err := r.Refresh(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRejected, rec.Status)
	assert.Equal(t, "DEADLINE_EXPIRED", rec.GatewayStatus)

	_, err = r.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownPayment)
}
