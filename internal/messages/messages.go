package messages

import (
	"fmt"
	"strings"
	"time"
)

const ParseModeHTML = "HTML"

// EmptyStep is sent for a step that has neither text nor usable media.
const EmptyStep = "(пусто)"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func Title(text string) string {
	return fmt.Sprintf("✨ <b>%s</b>", Escape(text))
}

func ErrorDefault() string {
	return "🚫 <b>Ошибка</b>\nПопробуйте ещё раз."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Команда не найдена</b>"
}

func StartWelcome() string {
	return "👋 <b>Привет!</b>\nЗдесь можно оформить подписку и получить доступ в закрытую группу."
}

func PaymentInvite(link string) string {
	return "<b>Оплата прошла успешно</b>\n\n" +
		"Ваша подписка активирована.\n\n" +
		"Вступить в закрытую группу: " + Escape(link) + "\n\n" +
		"Ссылка одноразовая."
}

func SubscriptionExpired() string {
	return "Ваша подписка истекла. Спасибо, что были с нами! Продлить подписку можно в боте."
}

func SubscriptionRequired() string {
	return "🔒 <b>Нужна активная подписка</b>\nОформите подписку, чтобы открыть этот раздел."
}

func ScenarioUnavailable() string {
	return "⚠️ <b>Сценарий недоступен</b>"
}

func UsageRunScenario() string {
	return "Использование: /run_scenario &lt;scenario_id&gt; &lt;telegram_id&gt;"
}

func UsageBroadcast() string {
	return "Использование: /broadcast &lt;all|subscribers|tag:имя&gt; &lt;текст&gt;"
}

func UsageTag(cmd string) string {
	return fmt.Sprintf("Использование: /%s &lt;telegram_id&gt; &lt;тег&gt;", Escape(cmd))
}

func UserNotFound() string {
	return "Пользователь не найден."
}

func ScenarioStarted(name string, telegramID int64) string {
	return fmt.Sprintf("▶️ Сценарий <b>%s</b> запущен для %d.", Escape(name), telegramID)
}

func BroadcastQueued(id int64) string {
	return fmt.Sprintf("📣 Рассылка #%d поставлена в очередь.", id)
}

func TagUpdated() string {
	return "✅ Готово."
}

func Stats(users, subscribers, payments int64, at time.Time) string {
	return Title("Статистика") + fmt.Sprintf(" на %s\n\nПользователей: %d\nАктивных подписок: %d\nОплат: %d",
		at.Format("02.01.2006 15:04"), users, subscribers, payments)
}

func Help() string {
	return Title("Помощь") + "\n\nПо вопросам подписки или оплаты напишите сюда, мы ответим."
}

func ScenarioUserNotEntitled() string {
	return "У пользователя нет активной подписки."
}
