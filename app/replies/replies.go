// Package replies defines the command-level outcomes of the core engine as
// values and renders them to telegram HTML. The core never builds user-facing
// text itself, it returns a Reply descriptor and the transport adapter
// renders it right before sending.
package replies

import (
	"fmt"
	"strings"
	"time"
)

// Type enumerates every reply the core can produce
type Type int

// reply types, command results first, then errors, then info blocks
const (
	Custom Type = iota
	Success
	BooleanConfig

	ChatJoin
	ChatLeave
	UserInChat
	UserNotInChat
	GivenCooldown
	MessageDeleted
	DeletionQueued
	PromotedMod
	PromotedAdmin
	KarmaThankYou
	KarmaNotification
	TripcodeInfo
	TripcodeSet

	ErrNoReply
	ErrNotInCache
	ErrNoUser
	ErrNoUserByID
	ErrAlreadyWarned
	ErrNotInCooldown
	ErrCooldown
	ErrBlacklisted
	ErrAlreadyUpvoted
	ErrUpvoteOwnMessage
	ErrSpammy
	ErrSpammySign
	ErrSignPrivacy
	ErrInvalidTripFormat
	ErrNoTripcode
	ErrMediaLimit
	ErrCommandDisabled

	UserInfo
	UserInfoMod
	UsersInfo
	UsersInfoExtended

	ProgramVersion
	HelpModerator
	HelpAdmin
)

// Reply is a single answer descriptor. Only the fields relevant for the
// type are set, everything else stays zero.
type Reply struct {
	Type Type

	Text    string // Custom
	Reason  string // ErrBlacklisted
	Contact string // ErrBlacklisted

	Duration time.Duration // GivenCooldown
	Deleted  bool          // GivenCooldown
	Until    time.Time     // ErrCooldown
	Count    int           // UsersInfo, DeletionQueued

	Desc    string // BooleanConfig
	Enabled bool   // BooleanConfig

	OID        string // UserInfo, UserInfoMod
	Username   string
	Rank       int
	RankName   string
	Karma      int
	Warnings   int
	WarnExpiry *time.Time
	Cooldown   *time.Time

	Active      int // UsersInfoExtended
	Inactive    int
	Blacklisted int
	Total       int

	Version  string // ProgramVersion
	Tripcode string // TripcodeInfo
	TripName string // TripcodeSet
	TripCode string // TripcodeSet
}

// EscapeHTML escapes the characters telegram's HTML parse mode cares about
func EscapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// FormatDatetime renders an instant the way users see it, always UTC
func FormatDatetime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// FormatTimedelta renders a duration as its largest whole unit: 2w, 3d, 12h, 5m or 30s
func FormatTimedelta(d time.Duration) string {
	week := 7 * 24 * time.Hour
	switch {
	case d >= week:
		return fmt.Sprintf("%dw", d/week)
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

func em(s string) string { return "<em>" + s + "</em>" }

func smiley(warnings int) string {
	switch {
	case warnings <= 0:
		return ":)"
	case warnings == 1:
		return ":|"
	case warnings <= 3:
		return ":/"
	}
	return ":("
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// Render produces the telegram HTML for the reply
func (r Reply) Render() string {
	switch r.Type {
	case Custom:
		return r.Text
	case Success:
		return "☑"
	case BooleanConfig:
		return "<b>" + EscapeHTML(r.Desc) + "</b>: " + onOff(r.Enabled)

	case ChatJoin:
		return em("You joined the chat!")
	case ChatLeave:
		return em("You left the chat!")
	case UserInChat:
		return em("You're already in the chat!")
	case UserNotInChat:
		return em("You're not in the chat yet! Use /start to join.")
	case GivenCooldown:
		s := "You've been handed a cooldown of " + FormatTimedelta(r.Duration) + " for this message"
		if r.Deleted {
			s += " (message also deleted)"
		}
		return em(s)
	case MessageDeleted:
		return em("Your message has been deleted. No cooldown has been given this time, but refrain from posting it again.")
	case DeletionQueued:
		return em(fmt.Sprintf("Deletion of %d messages queued.", r.Count))
	case PromotedMod:
		return em("You've been promoted to moderator, run /modhelp for a list of commands.")
	case PromotedAdmin:
		return em("You've been promoted to admin, run /adminhelp for a list of commands.")
	case KarmaThankYou:
		return em("You just gave this user some sweet karma, awesome!")
	case KarmaNotification:
		return em("You've just been given sweet karma! (check /info to see your karma or /togglekarma to turn these notifications off)")
	case TripcodeInfo:
		tc := "unset"
		if r.Tripcode != "" {
			tc = "<code>" + EscapeHTML(r.Tripcode) + "</code>"
		}
		return "<b>tripcode</b>: " + tc
	case TripcodeSet:
		return em("Tripcode set. It will appear as: ") + "<b>" + EscapeHTML(r.TripName) + "</b> <code>" + EscapeHTML(r.TripCode) + "</code>"

	case ErrNoReply:
		return em("You need to reply to a message to use this command.")
	case ErrNotInCache:
		return em("Message not found in cache... (24h passed or bot was restarted)")
	case ErrNoUser:
		return em("No user found by that name!")
	case ErrNoUserByID:
		return em("No user found by that id! Note that all ids rotate every 24 hours.")
	case ErrAlreadyWarned:
		return em("A warning has already been issued for this message.")
	case ErrNotInCooldown:
		return em("This user is not in a cooldown right now.")
	case ErrCooldown:
		return em("Your cooldown expires at " + FormatDatetime(r.Until))
	case ErrBlacklisted:
		s := "You've been blacklisted"
		if r.Reason != "" {
			s += " for " + EscapeHTML(r.Reason)
		}
		out := em(s)
		if r.Contact != "" {
			out += "\n" + em("contact:") + " " + r.Contact
		}
		return out
	case ErrAlreadyUpvoted:
		return em("You already upvoted this message.")
	case ErrUpvoteOwnMessage:
		return em("You can't upvote your own message.")
	case ErrSpammy:
		return em("Your message has not been sent. Avoid sending messages too fast, try again later.")
	case ErrSpammySign:
		return em("Your message has not been sent. Avoid using /sign too often, try again later.")
	case ErrSignPrivacy:
		return em("Your account privacy settings prevent usage of the sign feature. Enable linked forwards first.")
	case ErrInvalidTripFormat:
		return em("Given tripcode is not valid, the format is ") + "<code>name#pass</code>" + em(".")
	case ErrNoTripcode:
		return em("You don't have a tripcode set, use /tripcode to set one.")
	case ErrMediaLimit:
		return em("You can't send media or forward messages at this time, try again later.")
	case ErrCommandDisabled:
		return em("This command has been disabled.")

	case UserInfo:
		warnExtra := ""
		if r.Warnings > 0 && r.WarnExpiry != nil {
			warnExtra = " (one warning will be removed on " + FormatDatetime(*r.WarnExpiry) + ")"
		}
		cd := "no"
		if r.Cooldown != nil {
			cd = "yes, until " + FormatDatetime(*r.Cooldown)
		}
		return fmt.Sprintf("<b>id</b>: %s, <b>username</b>: %s, <b>rank</b>: %d (%s), <b>karma</b>: %d\n"+
			"<b>warnings</b>: %d %s%s, <b>cooldown</b>: %s",
			r.OID, EscapeHTML(r.Username), r.Rank, r.RankName, r.Karma,
			r.Warnings, smiley(r.Warnings), warnExtra, cd)
	case UserInfoMod:
		cd := "no"
		if r.Cooldown != nil {
			cd = "yes, until " + FormatDatetime(*r.Cooldown)
		}
		return fmt.Sprintf("<b>id</b>: %s, <b>username</b>: anonymous, <b>rank</b>: n/a, <b>karma</b>: %d\n"+
			"<b>cooldown</b>: %s", r.OID, r.Karma, cd)
	case UsersInfo:
		return fmt.Sprintf("<b>%d</b> <i>users</i>", r.Count)
	case UsersInfoExtended:
		return fmt.Sprintf("<b>%d</b> <i>active</i>, %d <i>inactive and</i> %d <i>blacklisted users</i> (<i>total</i>: %d)",
			r.Active, r.Inactive, r.Blacklisted, r.Total)

	case ProgramVersion:
		return "tg-lounge v" + r.Version + " ~ https://github.com/tg-lounge/tg-lounge"
	case HelpModerator:
		return "<i>Moderators can use the following commands</i>:\n" +
			"  /modhelp - show this text\n" +
			"  /modsay &lt;message&gt; - send an official moderator message\n" +
			"\n" +
			"<i>Or reply to a message and use</i>:\n" +
			"  /info - get info about the user that sent this message\n" +
			"  /warn - warn the user that sent this message (cooldown)\n" +
			"  /delete - delete a message and warn the user\n" +
			"  /remove - delete a message without giving a cooldown"
	case HelpAdmin:
		return "<i>Admins can use the following commands</i>:\n" +
			"  /adminhelp - show this text\n" +
			"  /adminsay &lt;message&gt; - send an official admin message\n" +
			"  /motd &lt;message&gt; - set the welcome message\n" +
			"  /uncooldown &lt;id | username&gt; - remove a cooldown from a user\n" +
			"  /mod &lt;username&gt; - promote a user to the moderator rank\n" +
			"  /admin &lt;username&gt; - promote a user to the admin rank\n" +
			"  /cleanup - delete all messages from blacklisted users\n" +
			"\n" +
			"<i>Or reply to a message and use</i>:\n" +
			"  /blacklist [reason] - blacklist the user who sent this message"
	}
	return ""
}
