package consts

import "time"

// Command Descriptions shown in the Telegram command menu
const (
	CmdStartDesc    = "Start or restart the bot"
	CmdMenuDesc     = "Choose an assistant"
	CmdHelpDesc     = "How to use the bot"
	CmdStopDesc     = "End the current conversation"
	CmdSettingsDesc = "Choose the model tier"
	CmdBalanceDesc  = "Show credits and usage"
	CmdRechargeDesc = "Top up credits"
)

// Message catalog keys for static labels
const (
	ButtonRecharge = "button_recharge"
	ButtonBalance  = "button_balance"
	ButtonMenu     = "button_menu"
	ButtonSettings = "button_settings"
	ButtonPay      = "button_pay"
)

// HTML Parse Mode
const (
	ParseModeHTML = "HTML"
)

// Status Emojis
const (
	EmojiSelected = "✅"
	EmojiCredits  = "🪙"
)

// Telegram limits
const (
	// Telegram rejects messages over 4096 characters; leave room for markup
	MaxMessageLength = 4000

	CallbackDedupTTL   = 5 * time.Minute
	UserLimiterIdleTTL = 10 * time.Minute
	PollTimeoutSeconds = 60
	ShutdownTimeout    = 15 * time.Second
)
