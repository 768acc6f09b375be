package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	body   map[string]any
}

func apiServer(t *testing.T, reply func(method string) string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/botTOKEN/"), r.URL.Path)
		method := strings.TrimPrefix(r.URL.Path, "/botTOKEN/")

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls = append(calls, recorded{method: method, body: body})

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply(method))
	}))
	return srv, &calls
}

func TestGetUpdates(t *testing.T) {
	srv, calls := apiServer(t, func(string) string {
		return `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"from":{"id":5,"username":"alice"},"chat":{"id":5},"text":"/start"}},
			{"update_id":11,"callback_query":{"id":"cb1","from":{"id":5},"data":"buy:S","message":{"message_id":2,"chat":{"id":5}}}}
		]}`
	})
	defer srv.Close()

	c := NewClient("TOKEN", srv.URL, srv.Client())
	updates, err := c.GetUpdates(context.Background(), 10, 30*time.Second)
	require.NoError(t, err)

	require.Len(t, updates, 2)
	assert.Equal(t, "alice", updates[0].Message.From.Username)
	assert.Equal(t, "/start", updates[0].Message.Text)
	assert.Equal(t, "buy:S", updates[1].CallbackQuery.Data)

	require.Len(t, *calls, 1)
	assert.Equal(t, "getUpdates", (*calls)[0].method)
	assert.Equal(t, float64(10), (*calls)[0].body["offset"])
	assert.Equal(t, float64(30), (*calls)[0].body["timeout"])
}

func TestSendMessage_InlineKeyboard(t *testing.T) {
	srv, calls := apiServer(t, func(string) string { return `{"ok":true,"result":{}}` })
	defer srv.Close()

	c := NewClient("TOKEN", srv.URL+"/", srv.Client())
	err := c.SendMessage(context.Background(), OutgoingMessage{
		ChatID: 5,
		Text:   "hi",
		ReplyMarkup: Rows(
			InlineButton{Text: "Pay", URL: "https://pay.example"},
			InlineButton{Text: "S", CallbackData: "buy:S"},
		),
	})
	require.NoError(t, err)

	body := (*calls)[0].body
	assert.Equal(t, float64(5), body["chat_id"])
	markup := body["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "https://pay.example", first["url"])
	assert.NotContains(t, first, "callback_data")
}

func TestCall_APIError(t *testing.T) {
	srv, _ := apiServer(t, func(string) string {
		return `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`
	})
	defer srv.Close()

	c := NewClient("TOKEN", srv.URL, srv.Client())
	err := c.SendText(context.Background(), 5, "hi")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "sendMessage", apiErr.Method)
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 3, apiErr.RetryAfter)
}

func TestCall_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("SECRET-TOKEN", url, nil)
	err := c.AnswerCallbackQuery(context.Background(), "cb", "")

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}
