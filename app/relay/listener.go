package relay

import (
	"context"
	"errors"
	"log"
	"strings"

	tbapi "github.com/OvyFlash/telegram-bot-api"

	"github.com/tg-lounge/tg-lounge/app/core"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// handler is one registered command
type handler struct {
	minRank    int
	needsReply bool // must be a reply to a relayed message, resolved to a msid
	fn         func(caller *storage.User, msg *tbapi.Message, args string, msid int) replies.Reply
}

func (r *Relay) commands() map[string]handler {
	cmds := map[string]handler{
		"stop": {minRank: storage.RankUser, fn: func(caller *storage.User, _ *tbapi.Message, _ string, _ int) replies.Reply {
			return r.engine.Leave(caller.ID)
		}},
		"users": {minRank: storage.RankUser, fn: func(caller *storage.User, _ *tbapi.Message, _ string, _ int) replies.Reply {
			return r.engine.GetUsers(caller.Rank)
		}},
		"info": {minRank: storage.RankUser, fn: func(caller *storage.User, msg *tbapi.Message, _ string, _ int) replies.Reply {
			if msg.ReplyToMessage != nil && caller.Rank >= storage.RankMod {
				msid, ok := r.cache.LookupByExternal(caller.ID, msg.ReplyToMessage.MessageID)
				if !ok {
					return replies.Reply{Type: replies.ErrNotInCache}
				}
				return r.engine.GetInfoMod(msid)
			}
			return r.engine.GetInfo(caller.ID)
		}},
		"version": {minRank: storage.RankUser, fn: func(*storage.User, *tbapi.Message, string, int) replies.Reply {
			return r.engine.Version()
		}},
		"toggledebug": {minRank: storage.RankUser, fn: func(caller *storage.User, _ *tbapi.Message, _ string, _ int) replies.Reply {
			return r.engine.ToggleDebug(caller.ID)
		}},
		"togglekarma": {minRank: storage.RankUser, fn: func(caller *storage.User, _ *tbapi.Message, _ string, _ int) replies.Reply {
			return r.engine.ToggleKarma(caller.ID)
		}},
		"motd": {minRank: storage.RankUser, fn: func(caller *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return r.engine.GetMotd()
			}
			if caller.Rank < storage.RankAdmin {
				return replies.Reply{}
			}
			return r.engine.SetMotd(args)
		}},
		"privacy": {minRank: storage.RankUser, fn: func(caller *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return r.engine.GetPrivacy()
			}
			if caller.Rank < storage.RankAdmin {
				return replies.Reply{}
			}
			return r.engine.SetPrivacy(args)
		}},
		"modhelp": {minRank: storage.RankMod, fn: func(*storage.User, *tbapi.Message, string, int) replies.Reply {
			return replies.Reply{Type: replies.HelpModerator}
		}},
		"adminhelp": {minRank: storage.RankAdmin, fn: func(*storage.User, *tbapi.Message, string, int) replies.Reply {
			return replies.Reply{Type: replies.HelpAdmin}
		}},
		"modsay": {minRank: storage.RankMod, fn: func(caller *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return replies.Reply{}
			}
			return r.engine.SendModMessage(caller.ID, args)
		}},
		"adminsay": {minRank: storage.RankAdmin, fn: func(caller *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return replies.Reply{}
			}
			return r.engine.SendAdminMessage(caller.ID, args)
		}},
		"mod": {minRank: storage.RankAdmin, fn: func(_ *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return replies.Reply{}
			}
			return r.engine.PromoteUser(args, storage.RankMod)
		}},
		"admin": {minRank: storage.RankAdmin, fn: func(_ *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return replies.Reply{}
			}
			return r.engine.PromoteUser(args, storage.RankAdmin)
		}},
		"warn": {minRank: storage.RankMod, needsReply: true, fn: func(_ *storage.User, _ *tbapi.Message, _ string, msid int) replies.Reply {
			return r.engine.WarnUser(msid, false)
		}},
		"delete": {minRank: storage.RankMod, needsReply: true, fn: func(_ *storage.User, _ *tbapi.Message, _ string, msid int) replies.Reply {
			return r.engine.WarnUser(msid, true)
		}},
		"cleanup": {minRank: storage.RankAdmin, fn: func(*storage.User, *tbapi.Message, string, int) replies.Reply {
			return r.engine.CleanupMessages()
		}},
		"uncooldown": {minRank: storage.RankAdmin, fn: func(_ *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if args == "" {
				return replies.Reply{}
			}
			return r.engine.UncooldownUser(args)
		}},
		"blacklist": {minRank: storage.RankAdmin, needsReply: true, fn: func(caller *storage.User, _ *tbapi.Message, args string, msid int) replies.Reply {
			return r.engine.BlacklistUser(caller.Rank, msid, args)
		}},
	}

	cmds["remove"] = handler{minRank: storage.RankMod, needsReply: true,
		fn: func(_ *storage.User, _ *tbapi.Message, _ string, msid int) replies.Reply {
			if !r.cfg.AllowRemove {
				return replies.Reply{Type: replies.ErrCommandDisabled}
			}
			return r.engine.RemoveMessage(msid)
		}}

	cmds["tripcode"] = handler{minRank: storage.RankUser,
		fn: func(caller *storage.User, _ *tbapi.Message, args string, _ int) replies.Reply {
			if !r.cfg.EnableSigning {
				return replies.Reply{Type: replies.ErrCommandDisabled}
			}
			if args == "" {
				return r.engine.GetTripcode(caller.ID)
			}
			return r.engine.SetTripcode(caller.ID, args)
		}}
	return cmds
}

// listen consumes the long poll channel until ctx cancels or the channel dies
func (r *Relay) listen(ctx context.Context) error {
	u := tbapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := r.api.GetUpdatesChan(u)
	cmds := r.commands()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram updates channel closed")
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			if update.Message.Chat.Type != "private" {
				continue // the lounge lives in private chats only
			}
			r.processMessage(cmds, update.Message)
		}
	}
}

func (r *Relay) processMessage(cmds map[string]handler, msg *tbapi.Message) {
	from := msg.From
	username := from.UserName
	realname := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName))

	if msg.IsCommand() {
		cmd := strings.ToLower(msg.Command())
		args := strings.TrimSpace(msg.CommandArguments())
		switch cmd {
		case "start":
			r.Reply(from.ID, r.engine.Join(from.ID, username, realname))
			return
		case "sign", "s":
			r.relayText(msg, args, true, false)
			return
		case "tsign", "t":
			r.relayText(msg, args, false, true)
			return
		}
		h, known := cmds[cmd]
		if !known {
			log.Printf("[DEBUG] unknown command /%s from user %d", cmd, from.ID)
			return
		}
		caller, errRep, ok := r.engine.Authorize(from.ID, username, realname, h.minRank)
		if !ok {
			r.Reply(from.ID, errRep)
			return
		}
		msid := 0
		if h.needsReply {
			if msg.ReplyToMessage == nil {
				r.Reply(from.ID, replies.Reply{Type: replies.ErrNoReply})
				return
			}
			var found bool
			msid, found = r.cache.LookupByExternal(caller.ID, msg.ReplyToMessage.MessageID)
			if !found {
				r.Reply(from.ID, replies.Reply{Type: replies.ErrNotInCache})
				return
			}
		}
		r.Reply(caller.ID, h.fn(caller, msg, args, msid))
		return
	}

	// bare "+1" replying to a relayed message gives karma
	if strings.TrimSpace(msg.Text) == "+1" && msg.ReplyToMessage != nil {
		caller, errRep, ok := r.engine.Authorize(from.ID, username, realname, storage.RankUser)
		if !ok {
			r.Reply(from.ID, errRep)
			return
		}
		msid, found := r.cache.LookupByExternal(caller.ID, msg.ReplyToMessage.MessageID)
		if !found {
			r.Reply(from.ID, replies.Reply{Type: replies.ErrNotInCache})
			return
		}
		r.Reply(caller.ID, r.engine.GiveKarma(caller.ID, msid))
		return
	}

	r.relayUserMessage(msg)
}

// relayText handles /sign and /tsign, which relay their argument as a text message
func (r *Relay) relayText(msg *tbapi.Message, text string, signed, trip bool) {
	if text == "" {
		return
	}
	in := core.Incoming{Kind: core.KindText, Text: text, Signed: signed, UseTripcode: trip,
		Username: msg.From.UserName,
		Realname: strings.TrimSpace(strings.TrimSpace(msg.From.FirstName) + " " + strings.TrimSpace(msg.From.LastName))}
	r.relay(msg, in, text)
}

// relayUserMessage classifies a plain (non-command) message and relays it
func (r *Relay) relayUserMessage(msg *tbapi.Message) {
	from := msg.From
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	text, signed, trip := parseCaptionCommand(text)

	in := core.Incoming{
		Kind:        classify(msg),
		Text:        text,
		Signed:      signed,
		UseTripcode: trip,
		Username:    from.UserName,
		Realname:    strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName)),
	}

	if msg.Contact != nil && !r.cfg.AllowContacts {
		r.ReplyTo(from.ID, replies.Reply{Type: replies.Custom, Text: "<em>Sending contacts is not allowed here.</em>"}, msg.MessageID)
		return
	}
	if msg.Document != nil && msg.Animation == nil && !r.cfg.AllowDocuments {
		r.ReplyTo(from.ID, replies.Reply{Type: replies.Custom, Text: "<em>Sending documents is not allowed here.</em>"}, msg.MessageID)
		return
	}
	if in.Kind == core.KindText && text == "" {
		return // nothing relayable (pins, service messages and such)
	}

	r.relay(msg, in, text)
}

// parseCaptionCommand strips a leading /sign or /tsign from a media caption
func parseCaptionCommand(text string) (rest string, signed, trip bool) {
	for _, p := range []string{"/sign ", "/s "} {
		if strings.HasPrefix(text, p) {
			return strings.TrimSpace(text[len(p):]), true, false
		}
	}
	for _, p := range []string{"/tsign ", "/t "} {
		if strings.HasPrefix(text, p) {
			return strings.TrimSpace(text[len(p):]), false, true
		}
	}
	return text, false, false
}

func classify(msg *tbapi.Message) core.Kind {
	switch {
	case msg.ForwardOrigin != nil:
		return core.KindForward
	case msg.Sticker != nil:
		return core.KindSticker
	case msg.Photo != nil || msg.Audio != nil || msg.Animation != nil || msg.Document != nil ||
		msg.Video != nil || msg.Voice != nil || msg.VideoNote != nil || msg.Location != nil ||
		msg.Venue != nil || msg.Contact != nil:
		return core.KindMedia
	default:
		return core.KindText
	}
}

// relay runs the admission gate and enqueues the fan-out
func (r *Relay) relay(msg *tbapi.Message, in core.Incoming, text string) {
	uid := msg.From.ID

	if in.Signed && r.signBlockedByPrivacy(uid) {
		r.ReplyTo(uid, replies.Reply{Type: replies.ErrSignPrivacy}, msg.MessageID)
		return
	}

	msid, author, rep, ok := r.engine.PrepareUserMessage(uid, in)
	if !ok {
		r.ReplyTo(uid, rep, msg.MessageID)
		return
	}
	if r.audit != nil {
		r.audit.record("relay", uid, msid)
	}

	replyMsid := 0
	if msg.ReplyToMessage != nil {
		if m, found := r.cache.LookupByExternal(uid, msg.ReplyToMessage.MessageID); found {
			replyMsid = m
		}
	}
	r.cache.SaveMapping(uid, msid, msg.MessageID)

	spec := r.buildSpec(msg, in, author, text)
	for _, rcpt := range r.engine.Recipients(author) {
		rcptID := rcpt.ID
		r.q.Put(rcpt.MessagePriority(), item{uid: rcptID, msid: msid, thunk: func() {
			r.deliver(rcptID, msid, replyMsid, spec)
		}})
	}
}

// deliver sends one fan-out copy, translating the reply reference into the
// recipient's own copy of the referenced message
func (r *Relay) deliver(uid int64, msid, replyMsid int, spec sendSpec) {
	replyExt := 0
	if replyMsid != 0 {
		if ext, ok := r.cache.LookupByMsid(uid, replyMsid); ok {
			replyExt = ext
		}
	}
	sent, ok := r.invoke(uid, spec.build(uid, replyExt))
	if ok {
		r.cache.SaveMapping(uid, msid, sent.MessageID)
	}
}

// signBlockedByPrivacy checks whether the sender's privacy settings would
// make the signature link useless
func (r *Relay) signBlockedByPrivacy(uid int64) bool {
	chat, err := r.api.GetChat(tbapi.ChatInfoConfig{ChatConfig: tbapi.ChatConfig{ChatID: uid}})
	if err != nil {
		log.Printf("[WARN] privacy check for %d failed: %v", uid, err)
		return false
	}
	return chat.HasPrivateForwards
}
