package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
)

const statsTopUsers = 20

// StatsSource provides usage summaries. *audit.Reporter satisfies it.
type StatsSource interface {
	Latest(ctx context.Context) (*audit.Summary, error)
	Refresh(ctx context.Context) (*audit.Summary, error)
}

// StatsHandler serves the usage summary built from the audit log.
type StatsHandler struct {
	source StatsSource
	logger *slog.Logger
}

func NewStatsHandler(source StatsSource, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{source: source, logger: logger.With("handler", "stats")}
}

// ServeHTTP returns the stored summary as HTML, or as JSON when the client
// asks for it. ?refresh=1 rebuilds the summary first.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handler.stats"

	load := h.source.Latest
	if r.URL.Query().Get("refresh") == "1" {
		load = h.source.Refresh
	}
	summary, err := load(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "statistics are unavailable"))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if acceptsJSON(r) || r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statsPage(summary).Render(r.Context(), w); err != nil {
		h.logger.Error("Failed to render stats page", "error", err)
	}
}

const statsStyles = `body{margin:2rem;font-family:system-ui,-apple-system,sans-serif;color:#0f172a}
table{border-collapse:collapse;margin:1rem 0 2rem}th,td{border:1px solid #cbd5e1;padding:.35rem .75rem;text-align:right}
th:first-child,td:first-child{text-align:left}th{background:#f1f5f9}.muted{color:#64748b}`

func statsPage(s *audit.Summary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="ru"><head><meta charset="utf-8">`)
		b.WriteString(`<title>Статистика</title><style>` + statsStyles + `</style></head><body>`)
		b.WriteString(`<h1>Статистика ` + templ.EscapeString(s.From) + ` – ` + templ.EscapeString(s.To) + `</h1>`)
		b.WriteString(`<p class="muted">Обновлено ` + templ.EscapeString(s.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")) + `</p>`)

		b.WriteString(`<h2>Итого</h2><table><tr><th>Пользователи</th><th>Сообщения</th><th>Проверки</th><th>Успешные</th><th>Ошибки</th><th>Тарифы</th><th>Выручка, ₽</th></tr>`)
		writeRow(&b, strconv.Itoa(s.UniqueUsers), s.Totals)
		b.WriteString(`</table>`)

		b.WriteString(`<h2>Тарифы</h2><table><tr><th>Тариф</th><th>Подключено</th><th>Выручка, ₽</th></tr>`)
		codes := make([]string, 0, len(s.Tariffs))
		for code := range s.Tariffs {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			t := s.Tariffs[code]
			writeCells(&b, code, strconv.Itoa(t.Assigned), rubles(t.Revenue))
		}
		b.WriteString(`</table>`)

		b.WriteString(`<h2>По дням</h2><table><tr><th>Дата</th><th>Сообщения</th><th>Проверки</th><th>Успешные</th><th>Ошибки</th><th>Тарифы</th><th>Выручка, ₽</th></tr>`)
		for _, d := range s.Days {
			writeRow(&b, d.Date, d.Totals)
		}
		b.WriteString(`</table>`)

		b.WriteString(`<h2>Активные пользователи</h2><table><tr><th>Пользователь</th><th>Сообщения</th><th>Проверки</th><th>Успешные</th><th>Ошибки</th><th>Тарифы</th><th>Выручка, ₽</th></tr>`)
		for i, u := range s.Users {
			if i == statsTopUsers {
				break
			}
			name := strconv.FormatInt(u.UserID, 10)
			if u.Username != "" {
				name += " @" + u.Username
			}
			writeRow(&b, name, u.Totals)
		}
		b.WriteString(`</table></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeRow(b *strings.Builder, label string, t audit.Totals) {
	writeCells(b, label,
		strconv.Itoa(t.Messages),
		strconv.Itoa(t.ProfileRequests),
		strconv.Itoa(t.SuccessfulRequests()),
		strconv.Itoa(t.ProfileFailures),
		strconv.Itoa(t.TariffsAssigned),
		rubles(t.Revenue),
	)
}

func writeCells(b *strings.Builder, cells ...string) {
	b.WriteString(`<tr>`)
	for _, c := range cells {
		b.WriteString(`<td>` + templ.EscapeString(c) + `</td>`)
	}
	b.WriteString(`</tr>`)
}

// rubles formats kopecks as a fixed two-decimal amount.
func rubles(kopecks int64) string {
	return decimal.New(kopecks, -2).StringFixed(2)
}
