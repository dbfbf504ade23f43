package relay

import (
	"strings"

	tbapi "github.com/OvyFlash/telegram-bot-api"

	"github.com/tg-lounge/tg-lounge/app/core"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// sendSpec builds the outgoing Chattable for one recipient. The content is
// fixed at fan-out time, only the chat id and the reply reference vary.
type sendSpec struct {
	build func(chatID int64, replyExt int) tbapi.Chattable
}

func replyParams(replyExt int) tbapi.ReplyParameters {
	if replyExt == 0 {
		return tbapi.ReplyParameters{}
	}
	return tbapi.ReplyParameters{MessageID: replyExt}
}

// buildSpec turns an incoming message into a per-recipient send builder,
// re-sending media by file id so nothing is re-uploaded
func (r *Relay) buildSpec(msg *tbapi.Message, in core.Incoming, author *storage.User, text string) sendSpec {
	html, rewritten := r.renderText(in, author, msg, text)

	if in.Kind == core.KindForward && !r.hideForward(msg) {
		return sendSpec{build: func(chatID int64, _ int) tbapi.Chattable {
			return tbapi.NewForward(chatID, msg.Chat.ID, msg.MessageID)
		}}
	}

	// caption variants shared by all media with captions
	caption, parseMode := text, ""
	captionEntities := msg.CaptionEntities
	if rewritten {
		caption, parseMode = html, tbapi.ModeHTML
		captionEntities = nil
	}

	switch {
	case msg.Photo != nil:
		fileID := tbapi.FileID(msg.Photo[len(msg.Photo)-1].FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			p := tbapi.NewPhoto(chatID, fileID)
			p.Caption, p.ParseMode, p.CaptionEntities = caption, parseMode, captionEntities
			p.ReplyParameters = replyParams(replyExt)
			return p
		}}
	case msg.Sticker != nil:
		fileID := tbapi.FileID(msg.Sticker.FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			s := tbapi.NewSticker(chatID, fileID)
			s.ReplyParameters = replyParams(replyExt)
			return s
		}}
	case msg.Animation != nil:
		fileID := tbapi.FileID(msg.Animation.FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			a := tbapi.NewAnimation(chatID, fileID)
			a.Caption, a.ParseMode, a.CaptionEntities = caption, parseMode, captionEntities
			a.ReplyParameters = replyParams(replyExt)
			return a
		}}
	case msg.Audio != nil:
		fileID := tbapi.FileID(msg.Audio.FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			a := tbapi.NewAudio(chatID, fileID)
			a.Caption, a.ParseMode, a.CaptionEntities = caption, parseMode, captionEntities
			a.ReplyParameters = replyParams(replyExt)
			return a
		}}
	case msg.Document != nil:
		fileID := tbapi.FileID(msg.Document.FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			d := tbapi.NewDocument(chatID, fileID)
			d.Caption, d.ParseMode, d.CaptionEntities = caption, parseMode, captionEntities
			d.ReplyParameters = replyParams(replyExt)
			return d
		}}
	case msg.Video != nil:
		fileID := tbapi.FileID(msg.Video.FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			v := tbapi.NewVideo(chatID, fileID)
			v.Caption, v.ParseMode, v.CaptionEntities = caption, parseMode, captionEntities
			v.ReplyParameters = replyParams(replyExt)
			return v
		}}
	case msg.Voice != nil:
		fileID := tbapi.FileID(msg.Voice.FileID)
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			v := tbapi.NewVoice(chatID, fileID)
			v.Caption, v.ParseMode, v.CaptionEntities = caption, parseMode, captionEntities
			v.ReplyParameters = replyParams(replyExt)
			return v
		}}
	case msg.VideoNote != nil:
		fileID := tbapi.FileID(msg.VideoNote.FileID)
		length := msg.VideoNote.Length
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			v := tbapi.NewVideoNote(chatID, length, fileID)
			v.ReplyParameters = replyParams(replyExt)
			return v
		}}
	case msg.Venue != nil:
		venue := *msg.Venue
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			v := tbapi.NewVenue(chatID, venue.Title, venue.Address, venue.Location.Latitude, venue.Location.Longitude)
			v.ReplyParameters = replyParams(replyExt)
			return v
		}}
	case msg.Location != nil:
		loc := *msg.Location
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			l := tbapi.NewLocation(chatID, loc.Latitude, loc.Longitude)
			l.ReplyParameters = replyParams(replyExt)
			return l
		}}
	case msg.Contact != nil:
		contact := *msg.Contact
		return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
			c := tbapi.NewContact(chatID, contact.PhoneNumber, contact.FirstName)
			c.LastName = contact.LastName
			c.ReplyParameters = replyParams(replyExt)
			return c
		}}
	}

	// plain text, either passed through with its entities or as rewritten html
	entities := msg.Entities
	body := text
	if rewritten {
		body, entities = html, nil
	}
	return sendSpec{build: func(chatID int64, replyExt int) tbapi.Chattable {
		m := tbapi.NewMessage(chatID, body)
		m.Entities = entities
		if rewritten {
			m.ParseMode = tbapi.ModeHTML
		}
		m.LinkPreviewOptions = tbapi.LinkPreviewOptions{IsDisabled: true}
		m.ReplyParameters = replyParams(replyExt)
		return m
	}}
}

// hideForward reports if the forward origin is a configured anonymizer bot
// whose forwards should be unwrapped into regular messages
func (r *Relay) hideForward(msg *tbapi.Message) bool {
	if msg.ForwardOrigin == nil || len(r.cfg.HideForwardFrom) == 0 {
		return false
	}
	var origin string
	switch {
	case msg.ForwardOrigin.SenderUser != nil:
		origin = msg.ForwardOrigin.SenderUser.UserName
	case msg.ForwardOrigin.SenderChat != nil:
		origin = msg.ForwardOrigin.SenderChat.UserName
	case msg.ForwardOrigin.Chat != nil:
		origin = msg.ForwardOrigin.Chat.UserName
	}
	if origin == "" {
		return false
	}
	for _, name := range r.cfg.HideForwardFrom {
		if strings.EqualFold(strings.TrimPrefix(name, "@"), origin) {
			return true
		}
	}
	return false
}
