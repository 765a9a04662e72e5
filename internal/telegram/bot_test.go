package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tgassist/tgassist/internal/cache"
	"github.com/tgassist/tgassist/internal/catalog"
	"github.com/tgassist/tgassist/internal/database"
	"github.com/tgassist/tgassist/internal/dispatch"
	"github.com/tgassist/tgassist/internal/llm"
	"github.com/tgassist/tgassist/internal/messages"
	"github.com/tgassist/tgassist/internal/session"
	"github.com/tgassist/tgassist/internal/stripe"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
	delay    time.Duration
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) callbackAnswers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.requests {
		if _, ok := c.(tgbotapi.CallbackConfig); ok {
			n++
		}
	}
	return n
}

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	return llm.Completion{Text: "echo: " + req.UserText}, nil
}

type testBot struct {
	bot *Bot
	api *fakeAPI
	db  *database.MemoryDB
}

func newTestBot(t *testing.T, payments *stripe.Manager) *testBot {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	msgs, err := messages.Load("")
	require.NoError(t, err)

	db := database.NewMemoryDB()
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)
	engine := session.NewEngine(cat, db, db, store, echoCompleter{}, session.Options{
		InitialCredits:  15,
		RechargeCredits: 15,
	})

	var linker dispatch.PaymentLinker
	if payments != nil {
		linker = payments
	}
	d := dispatch.New(engine, linker, dispatch.Options{RechargeCredits: 15})

	api := newFakeAPI()
	bot := NewBot(api, d, cat, msgs, Options{
		GlobalRate: 10000,
		UserRate:   10000,
		Workers:    WorkerPoolConfig{Workers: 2, QueueSize: 10},
		Payments:   payments,
		Stats:      db.GetGlobalStats,
		Sessions:   store.Len,
	})
	t.Cleanup(func() {
		bot.userLimiters.Close()
		bot.processedCallbacks.Close()
	})
	return &testBot{bot: bot, api: api, db: db}
}

func commandMessage(chatID int64, text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID, UserName: "eve"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID, UserName: "eve"},
	}
}

func (tb *testBot) run(t *testing.T, update tgbotapi.Update) {
	t.Helper()
	j, ok := jobFromUpdate(update)
	require.True(t, ok)
	j.received = time.Now()
	tb.bot.handle(context.Background(), j)
}

func TestJobFromUpdate(t *testing.T) {
	j, ok := jobFromUpdate(tgbotapi.Update{Message: commandMessage(5, "/chat@tgassist_bot")})
	require.True(t, ok)
	assert.Equal(t, dispatch.EventCommand, j.event.Kind)
	assert.Equal(t, "chat", j.event.Name)
	assert.Equal(t, int64(5), j.event.User.ID)
	assert.Equal(t, "eve", j.event.User.Username)

	j, ok = jobFromUpdate(tgbotapi.Update{Message: textMessage(5, "hello")})
	require.True(t, ok)
	assert.Equal(t, dispatch.EventText, j.event.Kind)
	assert.Equal(t, "hello", j.event.Body)

	captioned := textMessage(5, "")
	captioned.Caption = "what is this"
	j, ok = jobFromUpdate(tgbotapi.Update{Message: captioned})
	require.True(t, ok)
	assert.Equal(t, "what is this", j.event.Body)

	_, ok = jobFromUpdate(tgbotapi.Update{Message: textMessage(5, "")})
	assert.False(t, ok, "sticker-like updates are skipped")

	j, ok = jobFromUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 5},
		Message: textMessage(5, "menu"),
		Data:    "mode:code",
	}})
	require.True(t, ok)
	assert.Equal(t, dispatch.EventSelection, j.event.Kind)
	assert.Equal(t, "mode:code", j.event.Option)
	assert.Equal(t, "cb1", j.callbackID)

	_, ok = jobFromUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb2", Data: "menu"}})
	assert.False(t, ok)

	_, ok = jobFromUpdate(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestHandle_ConversationFlow(t *testing.T) {
	tb := newTestBot(t, nil)

	tb.run(t, tgbotapi.Update{Message: commandMessage(5, "/start")})
	sent := tb.api.messages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "15")
	assert.Equal(t, "HTML", sent[0].ParseMode)
	menu, ok := sent[1].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "menu carries the mode keyboard")
	assert.Equal(t, "mode:chat", *menu.InlineKeyboard[0][0].CallbackData)

	tb.run(t, tgbotapi.Update{Message: commandMessage(5, "/code")})
	tb.run(t, tgbotapi.Update{Message: textMessage(5, "x < y")})
	sent = tb.api.messages()
	assert.Equal(t, "echo: x &lt; y", sent[len(sent)-1].Text)

	b, err := tb.db.Balance(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(14), b)

	tb.run(t, tgbotapi.Update{Message: commandMessage(5, "/stop")})
	sent = tb.api.messages()
	assert.Contains(t, sent[len(sent)-2].Text, "stopped")
}

func TestHandle_CaptionCommandInterrupts(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.run(t, tgbotapi.Update{Message: commandMessage(5, "/chat")})

	photo := textMessage(5, "")
	photo.Caption = "/stop"
	tb.run(t, tgbotapi.Update{Message: photo})

	b, err := tb.db.Balance(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), b, "interrupt is free")
	sent := tb.api.messages()
	assert.Contains(t, sent[len(sent)-2].Text, "stopped")
}

func TestHandle_DuplicateCallbackIsIgnored(t *testing.T) {
	tb := newTestBot(t, nil)
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-dup",
		From:    &tgbotapi.User{ID: 9},
		Message: textMessage(9, "menu"),
		Data:    "balance",
	}}

	tb.run(t, update)
	tb.run(t, update)

	assert.Len(t, tb.api.messages(), 1)
	assert.Equal(t, 2, tb.api.callbackAnswers(), "every press is answered")
}

func TestRenderNotice_Keyboards(t *testing.T) {
	tb := newTestBot(t, nil)
	tier, _ := tb.bot.catalog.Tier(catalog.TierAdvanced)

	msgs, err := tb.bot.renderNotice(1, "eng", session.Notice{Kind: session.KindTierOptions, Tier: tier})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	kb := msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, kb.InlineKeyboard, 3)
	assert.Equal(t, "tier:basic", *kb.InlineKeyboard[0][0].CallbackData)
	assert.True(t, strings.HasPrefix(kb.InlineKeyboard[1][0].Text, "✅"), "current tier is marked")
	assert.False(t, strings.HasPrefix(kb.InlineKeyboard[0][0].Text, "✅"))

	msgs, err = tb.bot.renderNotice(1, "eng", session.Notice{Kind: session.KindPaymentLink, URL: "https://pay.example/x", Credits: 15})
	require.NoError(t, err)
	kb = msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "https://pay.example/x", *kb.InlineKeyboard[0][0].URL)

	msgs, err = tb.bot.renderNotice(1, "eng", session.Notice{Kind: session.KindHelp})
	require.NoError(t, err)
	assert.Nil(t, msgs[0].ReplyMarkup)
}

func TestRenderNotice_LongReplyIsSplit(t *testing.T) {
	tb := newTestBot(t, nil)
	long := strings.Repeat("line with <tags> & more\n", 400)

	msgs, err := tb.bot.renderNotice(1, "eng", session.Notice{Kind: session.KindReply, Text: long})
	require.NoError(t, err)
	require.Greater(t, len(msgs), 1)
	for _, m := range msgs {
		assert.NotContains(t, m.Text, "<tags>")
	}
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	chunks := splitText("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, chunks)

	chunks = splitText(strings.Repeat("é", 25), 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 10), chunks[0])
	assert.Equal(t, strings.Repeat("é", 5), chunks[2])
}

func TestStart_PollsUntilCancelled(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tb.bot.Start(ctx) }()

	tb.api.updates <- tgbotapi.Update{UpdateID: 1, Message: commandMessage(5, "/help")}
	assert.Eventually(t, func() bool { return len(tb.api.messages()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, tb.bot.Stop())

	tb.api.mu.Lock()
	assert.True(t, tb.api.stopped)
	_, isCommands := tb.api.requests[0].(tgbotapi.SetMyCommandsConfig)
	tb.api.mu.Unlock()
	assert.True(t, isCommands, "commands are registered on start")
}

func TestHealthEndpoint(t *testing.T) {
	tb := newTestBot(t, nil)

	rec := httptest.NewRecorder()
	tb.bot.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	tb.bot.opts.Health = func(context.Context) error { return assert.AnError }
	rec = httptest.NewRecorder()
	tb.bot.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	tb.bot.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stripe/webhook", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "stripe not configured")
}

func TestStatsEndpoint(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.run(t, tgbotapi.Update{Message: commandMessage(5, "/chat")})
	tb.run(t, tgbotapi.Update{Message: textMessage(5, "hi")})

	rec := httptest.NewRecorder()
	tb.bot.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workers  map[string]interface{} `json:"workers"`
		Caches   map[string]cache.Stats `json:"caches"`
		Sessions int                    `json:"sessions"`
		Usage    database.GlobalStats   `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body.Workers["workers"])
	assert.Equal(t, 1, body.Sessions, "the chat session is still armed")
	assert.Equal(t, 1, body.Caches["rate_limiters"].Size, "one chat has sent messages")
	assert.Equal(t, 0, body.Caches["callbacks"].Size)
	assert.Equal(t, int64(1), body.Usage.TotalUsers)
	assert.Equal(t, int64(1), body.Usage.TotalTurns)
	assert.Equal(t, int64(1), body.Usage.TotalCreditsSpent)
}

func TestStripeWebhookCreditsOnce(t *testing.T) {
	const secret = "whsec_bot_test"
	tb := newTestBot(t, stripe.NewManager("sk_test", secret, "price_test", "https://example.com"))

	post := func() int {
		return postCheckout(t, tb, secret, "cs_paid_1", 31)
	}

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusOK, post(), "redelivery is acknowledged")

	b, err := tb.db.Balance(context.Background(), 31)
	require.NoError(t, err)
	assert.Equal(t, int64(30), b, "initial grant plus one recharge")

	assert.Eventually(t, func() bool { return len(tb.api.messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, tb.api.messages()[0].Text, "Added 15 credits")
}

func TestStopWaitsForPaymentNotice(t *testing.T) {
	const secret = "whsec_bot_test"
	tb := newTestBot(t, stripe.NewManager("sk_test", secret, "price_test", "https://example.com"))
	tb.api.delay = 50 * time.Millisecond
	require.NoError(t, tb.bot.workerPool.Start())

	require.Equal(t, http.StatusOK, postCheckout(t, tb, secret, "cs_paid_2", 32))
	require.NoError(t, tb.bot.Stop())

	require.Len(t, tb.api.messages(), 1, "notice delivered before Stop returned")
	assert.Contains(t, tb.api.messages()[0].Text, "Added 15 credits")
}

func postCheckout(t *testing.T, tb *testBot, secret, sessionID string, userID int64) int {
	t.Helper()
	body := fmt.Sprintf(`{"id":"evt_%[1]s","object":"event","type":"checkout.session.completed","data":{"object":{"id":"%[1]s","object":"checkout.session","amount_total":300,"payment_status":"paid","metadata":{"user_id":"%[2]d","payment_type":"recharge"}}}}`, sessionID, userID)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: secret, Timestamp: time.Now()})
	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	tb.bot.Handler().ServeHTTP(rec, req)
	return rec.Code
}
