package bot

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/provider"
	"github.com/DukeRupert/reelstat/internal/telegram"
)

const (
	startText = "Чтобы начать работу, отправь в чат ссылку на аккаунт, который нужно проверить"

	helpText = "Отправьте ссылку на Instagram аккаунт или @username, и бот посчитает вовлеченность и спрогнозирует охваты будущих Reels.\n\n" +
		"/tariff — ваш тариф и остаток проверок\n" +
		"/buy — подключить тариф"

	hintText        = "Не нашел ссылку на аккаунт. Пришлите ссылку вида https://www.instagram.com/username/ или @username"
	analyzingText   = "Анализирую аккаунт, это займет несколько секунд..."
	rateLimitedText = "Слишком много запросов. Попробуйте через минуту."
	busyText        = "Предыдущая проверка еще выполняется. Дождитесь результата."
	internalText    = "Произошла ошибка. Попробуйте позже."
	checkoutText    = "Для оплаты перейдите по ссылке:"
	checkoutFailed  = "Не удалось создать платеж. Попробуйте позже или обратитесь в поддержку."
	buyText         = "Выберите тариф:"

	limitReachedTest = "А этот бот хорош, да?\n \nВы потратили все бесплатные проверки. Подключите платный тариф и верните доступ ко всем возможностям бота:\n \n" +
		" • Полная статистика Instagram аккаунта в 2 клика\n" +
		" • Полная статистика Instagram Reels блогера\n" +
		" • Прогноз охватов будущих Reels в аккаунте\n \n" +
		"2780 человек уже купили тариф. \n \nОФОРМИТЬ ПОДПИСКУ ⬇️"

	limitReachedPaid = "Кажется, не рассчитали силы и вам нужен пакет побольше.\n \n" +
		"Вы потратили все проверки на своем тарифе. Продлите текущий тариф или подключите тариф M\n \n" +
		"2780 человек уже купили тариф. \n \nОФОРМИТЬ ПОДПИСКУ ⬇️"

	specialTermsText = "Запросить спец. условия"
	payButtonText    = "Оплатить"
)

// formatter renders user-facing text in Russian.
type formatter struct {
	p *message.Printer
}

func newFormatter() *formatter {
	return &formatter{p: message.NewPrinter(language.Russian)}
}

// plain swaps the locale's non-breaking group separators for spaces so
// labels read the same in every client.
func plain(s string) string {
	return strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(s)
}

// count formats an integer with thousands grouping.
func (f *formatter) count(n int64) string {
	return plain(f.p.Sprint(number.Decimal(n)))
}

// percent formats a rate with at most two fraction digits.
func (f *formatter) percent(v float64) string {
	rounded := decimal.NewFromFloat(v).Round(2).InexactFloat64()
	return plain(f.p.Sprint(number.Decimal(rounded, number.MaxFractionDigits(2)))) + "%"
}

// rubles renders a kopeck amount as whole rubles.
func (f *formatter) rubles(kopecks int64) string {
	return f.count(decimal.New(kopecks, -2).IntPart())
}

// priceLabel is the catalog label of a tariff: "1 190 руб/мес" or "Бесплатно".
func (f *formatter) priceLabel(t domain.Tariff) string {
	if t.Price == 0 {
		return "Бесплатно"
	}
	return f.rubles(t.Price) + " руб/мес"
}

// tariffButtonText is the purchase button caption.
func (f *formatter) tariffButtonText(t domain.Tariff) string {
	return f.count(int64(t.MaxChecks)) + " проверок за " + f.priceLabel(t)
}

// purchaseKeyboard lists purchasable tariffs, optionally followed by the
// support link.
func (f *formatter) purchaseKeyboard(supportURL string) *telegram.InlineKeyboard {
	var buttons []telegram.InlineButton
	for _, t := range domain.PurchasableTariffs() {
		buttons = append(buttons, telegram.InlineButton{
			Text:         f.tariffButtonText(t),
			CallbackData: buyPrefix + string(t.Code),
		})
	}
	if supportURL != "" {
		buttons = append(buttons, telegram.InlineButton{Text: specialTermsText, URL: supportURL})
	}
	return telegram.Rows(buttons...)
}

// limitReached picks the upsell text for a user out of checks.
func (f *formatter) limitReached(rec *domain.QuotaRecord) string {
	if rec.Tariff == domain.TariffTest {
		return limitReachedTest
	}
	return limitReachedPaid
}

// tariffStatus describes the user's current tariff.
func (f *formatter) tariffStatus(rec *domain.QuotaRecord) string {
	tariff, err := rec.Tariff.Lookup()
	name := string(rec.Tariff)
	if err == nil {
		name = tariff.Name
	}

	var b strings.Builder
	b.WriteString("Ваш тариф: " + name + "\n")
	if rec.ChecksRemaining.IsUnlimited() {
		b.WriteString("Осталось проверок: без ограничений\n")
	} else {
		b.WriteString("Осталось проверок: " + f.count(int64(rec.ChecksRemaining)) + "\n")
	}
	b.WriteString("Использовано: " + f.count(int64(rec.ChecksUsed)))
	if rec.TariffExpiresAt != nil {
		b.WriteString("\nДействует до: " + rec.TariffExpiresAt.In(moscow).Format("02.01.2006"))
	}
	return b.String()
}

// analysis renders a prediction report.
func (f *formatter) analysis(profile *domain.ProfileSnapshot, res domain.PredictionResult, rec *domain.QuotaRecord) string {
	var b strings.Builder

	b.WriteString("📊 Статистика аккаунта @" + profile.Username + "\n")
	if profile.DisplayName != "" {
		b.WriteString(profile.DisplayName + "\n")
	}
	b.WriteString("\n")
	b.WriteString("Подписчики: " + f.count(profile.FollowerCount) + "\n")
	b.WriteString("Публикаций за 30 дней: " + f.count(int64(res.PostsInWindow)) + "\n")
	b.WriteString("Reels за 30 дней: " + f.count(int64(res.ReelsInWindow)) + "\n\n")

	if res.ZeroFollowers {
		b.WriteString("ER аккаунта: нет подписчиков\n")
	} else {
		b.WriteString("ER аккаунта: " + f.percent(res.AccountEngagementRate) + "\n")
		b.WriteString("ER Reels: " + f.percent(res.ReelEngagementRate) + "\n")
	}
	b.WriteString("ER Reels по просмотрам: " + f.percent(res.ReelViewEngagementRate) + "\n")
	b.WriteString("Медиана просмотров Reels: " + f.count(res.MedianReelViews) + "\n\n")

	b.WriteString("🔮 Прогноз для следующего Reels\n")
	b.WriteString("Охват: " + f.count(decimal.NewFromFloat(res.PredictedReach).Round(0).IntPart()) + "\n")
	if !res.ZeroFollowers {
		b.WriteString("ER: " + f.percent(res.PredictedEngagementRate) + "\n")
	}
	b.WriteString("ER по просмотрам: " + f.percent(res.PredictedViewEngagementRate))

	if rec != nil && !rec.ChecksRemaining.IsUnlimited() {
		b.WriteString("\n\nОсталось проверок: " + f.count(int64(rec.ChecksRemaining)))
	}
	return b.String()
}

// fetchError maps a provider failure to a message for the user.
func (f *formatter) fetchError(err error) string {
	switch {
	case errors.Is(err, provider.ErrProfileNotFound):
		return "Аккаунт не найден. Проверьте ссылку и попробуйте снова."
	case errors.Is(err, provider.ErrServiceUnavailable):
		return "Сервис временно недоступен. Попробуйте через пару минут."
	case errors.Is(err, provider.ErrProviderUnavailable):
		return "Сервис статистики перегружен. Попробуйте чуть позже."
	case errors.Is(err, provider.ErrProviderServerError):
		return "Сервис статистики вернул ошибку. Попробуйте позже."
	case errors.Is(err, provider.ErrInvalidProfileData), errors.Is(err, provider.ErrInvalidContentData):
		return "Не удалось разобрать данные аккаунта. Возможно, он закрыт или пуст."
	case errors.Is(err, provider.ErrHTTP):
		return "Не удалось получить данные аккаунта. Попробуйте позже."
	default:
		return internalText
	}
}

// moscow is the display zone for dates. It falls back to a fixed UTC+3 when
// the zone database is unavailable.
var moscow = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}()
