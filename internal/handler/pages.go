package handler

import (
	"context"
	"io"
	"net/url"
	"strings"

	twmerge "github.com/Oudwins/tailwind-merge-go"
	"github.com/a-h/templ"
)

const backToBotText = "Вернуться к боту"

// pageStyles defines the few utility classes the result pages use. Pages are
// served under a CSP that forbids external stylesheets.
const pageStyles = `body{margin:0;font-family:system-ui,-apple-system,sans-serif;background:#f8fafc;color:#0f172a}
.min-h-screen{min-height:100vh}.flex{display:flex}.items-center{align-items:center}.justify-center{justify-content:center}
.max-w-md{max-width:28rem}.w-full{width:100%}.p-8{padding:2rem}.mx-4{margin-left:1rem;margin-right:1rem}
.rounded-2xl{border-radius:1rem}.rounded-lg{border-radius:.5rem}.shadow{box-shadow:0 1px 3px rgba(0,0,0,.12)}
.bg-white{background:#fff}.text-center{text-align:center}.text-5xl{font-size:3rem}.text-2xl{font-size:1.5rem}
.font-semibold{font-weight:600}.mt-4{margin-top:1rem}.mt-8{margin-top:2rem}.text-slate-600{color:#475569}
.inline-block{display:inline-block}.px-6{padding-left:1.5rem;padding-right:1.5rem}.py-3{padding-top:.75rem;padding-bottom:.75rem}
.no-underline{text-decoration:none}.text-white{color:#fff}
.bg-sky-600{background:#0284c7}.bg-emerald-600{background:#059669}.bg-rose-600{background:#e11d48}`

const (
	baseCardClass   = "bg-white rounded-2xl shadow p-8 mx-4 max-w-md w-full text-center"
	baseButtonClass = "inline-block mt-8 px-6 py-3 rounded-lg text-white no-underline bg-sky-600"
)

// resultPage describes a payment result page.
type resultPage struct {
	Title   string
	Icon    string
	Message string
	Accent  string // overrides the button background
	BotURL  string
}

func successPage(botURL string) resultPage {
	return resultPage{
		Title:   "Оплата прошла успешно",
		Icon:    "✅",
		Message: "Тариф активирован. Бот пришлет подтверждение в чат.",
		Accent:  "bg-emerald-600",
		BotURL:  botURL,
	}
}

func failPage(botURL string) resultPage {
	return resultPage{
		Title:   "Оплата не прошла",
		Icon:    "❌",
		Message: "Платеж отклонен или отменен. Деньги не списаны. Попробуйте еще раз из бота.",
		Accent:  "bg-rose-600",
		BotURL:  botURL,
	}
}

// buttonClass merges the accent into the base button classes so the accent
// background replaces the default one.
func (p resultPage) buttonClass() string {
	return twmerge.Merge(baseButtonClass, p.Accent)
}

// Component renders the page.
func (p resultPage) Component() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="ru"><head><meta charset="utf-8">`)
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		b.WriteString(`<title>` + templ.EscapeString(p.Title) + `</title>`)
		b.WriteString(`<style>` + pageStyles + `</style></head>`)
		b.WriteString(`<body><main class="min-h-screen flex items-center justify-center">`)
		b.WriteString(`<div class="` + templ.EscapeString(baseCardClass) + `">`)
		b.WriteString(`<div class="text-5xl">` + templ.EscapeString(p.Icon) + `</div>`)
		b.WriteString(`<h1 class="text-2xl font-semibold mt-4">` + templ.EscapeString(p.Title) + `</h1>`)
		b.WriteString(`<p class="mt-4 text-slate-600">` + templ.EscapeString(p.Message) + `</p>`)
		if href, ok := safeLink(p.BotURL); ok {
			b.WriteString(`<a class="` + templ.EscapeString(p.buttonClass()) + `" href="` + templ.EscapeString(href) + `">`)
			b.WriteString(templ.EscapeString(backToBotText) + `</a>`)
		}
		b.WriteString(`</div></main></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// safeLink accepts only absolute http(s) and tg links.
func safeLink(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "https", "http", "tg":
		return u.String(), true
	}
	return "", false
}
