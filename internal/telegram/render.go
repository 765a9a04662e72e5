package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgassist/tgassist/internal/consts"
	"github.com/tgassist/tgassist/internal/dispatch"
	"github.com/tgassist/tgassist/internal/session"
)

// renderNotice builds the messages for one notice. Long replies are split
// before rendering so escaping never straddles a chunk boundary.
func (b *Bot) renderNotice(chatID int64, lang string, n session.Notice) ([]tgbotapi.MessageConfig, error) {
	parts := []session.Notice{n}
	if n.Kind == session.KindReply {
		parts = parts[:0]
		for _, chunk := range splitText(n.Text, consts.MaxMessageLength) {
			p := n
			p.Text = chunk
			parts = append(parts, p)
		}
	}

	out := make([]tgbotapi.MessageConfig, 0, len(parts))
	for _, p := range parts {
		text, err := b.messages.Render(lang, p)
		if err != nil {
			return nil, err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = consts.ParseModeHTML
		msg.DisableWebPagePreview = true
		out = append(out, msg)
	}

	if kb := b.keyboardFor(lang, n); kb != nil {
		out[len(out)-1].ReplyMarkup = *kb
	}
	return out, nil
}

func (b *Bot) keyboardFor(lang string, n session.Notice) *tgbotapi.InlineKeyboardMarkup {
	button := func(key, data string) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(b.messages.Text(lang, key), data)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	switch n.Kind {
	case session.KindMenu:
		for _, m := range b.catalog.Modes() {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(m.Label, dispatch.OptModePrefix+m.ID)))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(consts.ButtonSettings, dispatch.OptSettings),
			button(consts.ButtonBalance, dispatch.OptBalance),
			button(consts.ButtonRecharge, dispatch.OptRecharge),
		))
	case session.KindTierOptions:
		for _, t := range b.catalog.Tiers() {
			label := fmt.Sprintf("%s · %d %s", t.Label, t.Cost, consts.EmojiCredits)
			if t.ID == n.Tier.ID {
				label = consts.EmojiSelected + " " + label
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(label, dispatch.OptTierPrefix+t.ID)))
		}
	case session.KindInsufficientCredit:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(consts.ButtonRecharge, dispatch.OptRecharge),
			button(consts.ButtonSettings, dispatch.OptSettings),
		))
	case session.KindBalanceReport, session.KindGenericFailure:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button(consts.ButtonMenu, dispatch.OptMenu),
			button(consts.ButtonRecharge, dispatch.OptRecharge),
		))
	case session.KindPaymentLink:
		if n.URL == "" {
			return nil
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(b.messages.Text(lang, consts.ButtonPay), n.URL)))
	case session.KindTierChanged, session.KindRecharged, session.KindConversationEnded:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(consts.ButtonMenu, dispatch.OptMenu)))
	default:
		return nil
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// splitText cuts s into chunks of at most limit runes, preferring line breaks
func splitText(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var chunks []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		if i := lastIndexRune(runes[:limit], '\n'); i > limit/2 {
			cut = i + 1
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
