package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgassist/tgassist/internal/dispatch"
	"github.com/tgassist/tgassist/internal/session"
)

// userFrom keys the account by chat id, matching where replies are sent
func userFrom(chat *tgbotapi.Chat, from *tgbotapi.User) session.User {
	u := session.User{ID: chat.ID}
	if from != nil {
		u.Username = from.UserName
	}
	return u
}

// jobFromUpdate maps an update to a dispatcher event. Updates without text
// or button data are skipped.
func jobFromUpdate(update tgbotapi.Update) (job, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Data == "" {
			return job{}, false
		}
		u := userFrom(cb.Message.Chat, cb.From)
		return job{
			chatID:     u.ID,
			callbackID: cb.ID,
			event:      dispatch.Selection(u, cb.Data),
		}, true
	}

	m := update.Message
	if m == nil || m.Chat == nil {
		return job{}, false
	}
	u := userFrom(m.Chat, m.From)

	if m.IsCommand() {
		return job{chatID: u.ID, event: dispatch.Command(u, m.Command())}, true
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return job{}, false
	}
	return job{chatID: u.ID, event: dispatch.Text(u, text)}, true
}
