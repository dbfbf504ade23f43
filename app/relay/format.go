package relay

import (
	"fmt"

	tbapi "github.com/OvyFlash/telegram-bot-api"

	"github.com/tg-lounge/tg-lounge/app/core"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// renderText decides whether the outgoing text needs rewriting into html.
// Signed and tripcoded messages always do, plain ones only when they carry
// cross-lounge links to expand. Pass-through keeps the original entities.
func (r *Relay) renderText(in core.Incoming, author *storage.User, msg *tbapi.Message, text string) (html string, rewritten bool) {
	switch {
	case in.UseTripcode:
		name, code := r.engine.DigestTripcode(author.Tripcode)
		body := r.expandEscaped(text) + lostLinks(msg)
		return fmt.Sprintf("<b>%s</b> <code>%s</code>:\n%s",
			replies.EscapeHTML(name), code, body), true
	case in.Signed:
		body := r.expandEscaped(text) + lostLinks(msg)
		return fmt.Sprintf(`%s <a href="tg://user?id=%d">~~%s</a>`,
			body, author.ID, replies.EscapeHTML(author.FormattedName())), true
	case in.Kind == core.KindText && r.net.Matches(text):
		return r.expandEscaped(text), true
	}
	return "", false
}

// expandEscaped escapes the text and expands >>>/name/ cross-links
func (r *Relay) expandEscaped(text string) string {
	return r.net.ExpandHTML(replies.EscapeHTML(text))
}

// lostLinks appends urls hidden in text_link entities, which a rewritten
// message would otherwise lose
func lostLinks(msg *tbapi.Message) string {
	entities := msg.Entities
	if entities == nil {
		entities = msg.CaptionEntities
	}
	var out string
	for _, e := range entities {
		if e.Type == "text_link" && e.URL != "" {
			out += "\n" + replies.EscapeHTML(e.URL)
		}
	}
	return out
}
