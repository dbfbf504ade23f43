package relay

import (
	"testing"

	tbapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg-lounge/tg-lounge/app/core"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

func TestListener_StartJoins(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})

	r.processMessage(r.commands(), cmdMsg(1, "alice", "/start"))
	drain(r)

	u, err := engine.GetUser(1)
	require.NoError(t, err)
	assert.True(t, u.IsJoined())
	assert.Equal(t, storage.RankAdmin, u.Rank)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "<em>You joined the chat!</em>", calls[0].C.(tbapi.MessageConfig).Text)
}

func TestListener_CommandsNeedMembership(t *testing.T) {
	r, _, api := prepRelay(t, Config{}, core.Config{})

	r.processMessage(r.commands(), cmdMsg(1, "alice", "/info"))
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "not in the chat")
}

func TestListener_ModCommandSilentForUsers(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	r.processMessage(r.commands(), cmdMsg(2, "bob", "/modhelp"))
	drain(r)
	assert.Empty(t, api.SendCalls(), "privileged commands don't exist for regular users")

	r.processMessage(r.commands(), cmdMsg(1, "alice", "/modhelp"))
	drain(r)
	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "Moderators can use")
}

func TestListener_UnknownCommandIgnored(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")

	r.processMessage(r.commands(), cmdMsg(1, "alice", "/frobnicate"))
	drain(r)
	assert.Empty(t, api.SendCalls())
}

func TestListener_WarnNeedsReply(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")

	r.processMessage(r.commands(), cmdMsg(1, "alice", "/warn"))
	drain(r)
	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "need to reply")

	api.ResetCalls()
	bad := cmdMsg(1, "alice", "/warn")
	bad.ReplyToMessage = &tbapi.Message{MessageID: 424242}
	r.processMessage(r.commands(), bad)
	drain(r)
	calls = api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "not found in cache")
}

func TestListener_WarnFlow(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	msg := userMsg(2, "bob", "rude message")
	r.processMessage(r.commands(), msg)
	drain(r)
	require.Len(t, api.SendCalls(), 1)
	msid, _ := r.cache.LookupByExternal(2, msg.MessageID)
	aliceCopy, ok := r.cache.LookupByMsid(1, msid)
	require.True(t, ok)
	api.ResetCalls()

	warn := cmdMsg(1, "alice", "/warn")
	warn.ReplyToMessage = &tbapi.Message{MessageID: aliceCopy}
	r.processMessage(r.commands(), warn)
	drain(r)

	u, err := engine.GetUser(2)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Warnings)
	assert.True(t, u.IsInCooldown())

	var texts []string
	for _, c := range api.SendCalls() {
		texts = append(texts, c.C.(tbapi.MessageConfig).Text)
	}
	require.Len(t, texts, 2, "cooldown notice for bob, checkmark for alice")
	assert.Contains(t, texts[0]+texts[1], "cooldown of 1m")
	assert.Contains(t, texts[0]+texts[1], "☑")
}

func TestListener_KarmaPlusOne(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	msg := userMsg(2, "bob", "insightful take")
	r.processMessage(r.commands(), msg)
	drain(r)
	msid, _ := r.cache.LookupByExternal(2, msg.MessageID)
	aliceCopy, _ := r.cache.LookupByMsid(1, msid)
	api.ResetCalls()

	vote := userMsg(1, "alice", "+1")
	vote.ReplyToMessage = &tbapi.Message{MessageID: aliceCopy}
	r.processMessage(r.commands(), vote)
	drain(r)

	u, err := engine.GetUser(2)
	require.NoError(t, err)
	assert.Equal(t, core.KarmaAmount, u.Karma)

	var all string
	for _, c := range api.SendCalls() {
		all += c.C.(tbapi.MessageConfig).Text
	}
	assert.Contains(t, all, "sweet karma")
}

func TestListener_PlusOneWithoutReplyIsRelayed(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	r.processMessage(r.commands(), userMsg(2, "bob", "+1"))
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+1", calls[0].C.(tbapi.MessageConfig).Text, "a bare +1 with no reply is just a message")
}

func TestListener_SignRelaysWithSignature(t *testing.T) {
	r, engine, api := prepRelay(t, Config{EnableSigning: true}, core.Config{EnableSigning: true})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	r.processMessage(r.commands(), cmdMsg(2, "bob", "/sign my statement"))
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	mc := calls[0].C.(tbapi.MessageConfig)
	assert.Equal(t, int64(1), mc.ChatID)
	assert.Contains(t, mc.Text, "my statement")
	assert.Contains(t, mc.Text, `<a href="tg://user?id=2">~~@bob</a>`)
	assert.Equal(t, tbapi.ModeHTML, mc.ParseMode)
}

func TestListener_SignBlockedByPrivacy(t *testing.T) {
	r, engine, api := prepRelay(t, Config{EnableSigning: true}, core.Config{EnableSigning: true})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	api.GetChatFunc = func(config tbapi.ChatInfoConfig) (tbapi.ChatFullInfo, error) {
		return tbapi.ChatFullInfo{HasPrivateForwards: true}, nil
	}

	r.processMessage(r.commands(), cmdMsg(2, "bob", "/sign my statement"))
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	mc := calls[0].C.(tbapi.MessageConfig)
	assert.Equal(t, int64(2), mc.ChatID, "rejection goes back to the sender")
	assert.Contains(t, mc.Text, "privacy settings")
}

func TestListener_TsignUsesTripcode(t *testing.T) {
	r, engine, api := prepRelay(t, Config{EnableSigning: true}, core.Config{EnableSigning: true, SecretSalt: "salt"})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")
	engine.SetTripcode(2, "anon#pass")

	r.processMessage(r.commands(), cmdMsg(2, "bob", "/t hidden words"))
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	mc := calls[0].C.(tbapi.MessageConfig)
	assert.Contains(t, mc.Text, "<b>anon</b> <code>!")
	assert.Contains(t, mc.Text, "hidden words")
}

func TestListener_TripcodeCommandGated(t *testing.T) {
	// with signing off the command still answers, but only to say it's disabled
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")

	r.processMessage(r.commands(), cmdMsg(1, "alice", "/tripcode anon#pass"))
	drain(r)
	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "disabled")

	r2, engine2, api2 := prepRelay(t, Config{EnableSigning: true}, core.Config{EnableSigning: true})
	engine2.Join(1, "alice", "Alice")

	r2.processMessage(r2.commands(), cmdMsg(1, "alice", "/tripcode anon#pass"))
	drain(r2)
	calls = api2.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "anon")
}

func TestListener_RemoveDisabled(t *testing.T) {
	r, engine, api := prepRelay(t, Config{AllowRemove: false}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	msg := userMsg(2, "bob", "something")
	r.processMessage(r.commands(), msg)
	drain(r)
	msid, _ := r.cache.LookupByExternal(2, msg.MessageID)
	aliceCopy, _ := r.cache.LookupByMsid(1, msid)
	api.ResetCalls()

	remove := cmdMsg(1, "alice", "/remove")
	remove.ReplyToMessage = &tbapi.Message{MessageID: aliceCopy}
	r.processMessage(r.commands(), remove)
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "disabled")
}

func TestListener_ContactsAndDocumentsGated(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	contact := userMsg(2, "bob", "")
	contact.Contact = &tbapi.Contact{PhoneNumber: "123", FirstName: "X"}
	r.processMessage(r.commands(), contact)
	drain(r)

	calls := api.SendCalls()
	require.Len(t, calls, 1)
	mc := calls[0].C.(tbapi.MessageConfig)
	assert.Equal(t, int64(2), mc.ChatID)
	assert.Contains(t, mc.Text, "contacts is not allowed")
	api.ResetCalls()

	doc := userMsg(2, "bob", "")
	doc.Document = &tbapi.Document{FileID: "doc1"}
	r.processMessage(r.commands(), doc)
	drain(r)
	calls = api.SendCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].C.(tbapi.MessageConfig).Text, "documents is not allowed")
}

func TestListener_EmptyServiceMessageIgnored(t *testing.T) {
	r, engine, api := prepRelay(t, Config{}, core.Config{})
	engine.Join(1, "alice", "Alice")
	engine.Join(2, "bob", "Bob")

	r.processMessage(r.commands(), userMsg(2, "bob", ""))
	drain(r)
	assert.Empty(t, api.SendCalls())
}

func TestParseCaptionCommand(t *testing.T) {
	tbl := []struct {
		in     string
		rest   string
		signed bool
		trip   bool
	}{
		{"plain text", "plain text", false, false},
		{"/sign hello", "hello", true, false},
		{"/s hello", "hello", true, false},
		{"/tsign hello", "hello", false, true},
		{"/t hello", "hello", false, true},
		{"/signature", "/signature", false, false},
		{"", "", false, false},
	}
	for _, tt := range tbl {
		rest, signed, trip := parseCaptionCommand(tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
		assert.Equal(t, tt.signed, signed, tt.in)
		assert.Equal(t, tt.trip, trip, tt.in)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, core.KindText, classify(&tbapi.Message{Text: "hi"}))
	assert.Equal(t, core.KindSticker, classify(&tbapi.Message{Sticker: &tbapi.Sticker{}}))
	assert.Equal(t, core.KindMedia, classify(&tbapi.Message{Photo: []tbapi.PhotoSize{{}}}))
	assert.Equal(t, core.KindMedia, classify(&tbapi.Message{Document: &tbapi.Document{}}))
	assert.Equal(t, core.KindMedia, classify(&tbapi.Message{Voice: &tbapi.Voice{}}))
	assert.Equal(t, core.KindMedia, classify(&tbapi.Message{Contact: &tbapi.Contact{}}))
	assert.Equal(t, core.KindForward, classify(&tbapi.Message{
		ForwardOrigin: &tbapi.MessageOrigin{Type: "user"}, Text: "fwd"}))
	// a forwarded sticker is still a forward
	assert.Equal(t, core.KindForward, classify(&tbapi.Message{
		ForwardOrigin: &tbapi.MessageOrigin{Type: "user"}, Sticker: &tbapi.Sticker{}}))
}
