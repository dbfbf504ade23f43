package core

import (
	"crypto/sha256"
	"encoding/base64"
	"log"
	"strings"
	"time"

	"github.com/tg-lounge/tg-lounge/app/msgcache"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// Join adds a new user or brings back one who left
func (c *Core) Join(uid int64, username, realname string) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, ok := c.getUser(uid)
	if !ok {
		u = storage.NewUser(uid)
		u.Username = username
		u.Realname = realname
		if c.storeEmpty() {
			u.Rank = storage.RankAdmin // the very first joiner runs the place
		}
		if err := c.store.AddUser(u); err != nil {
			log.Printf("[ERROR] failed to add %s: %v", u, err)
			return replies.Reply{Type: replies.Custom, Text: "<em>Something went wrong, try again later.</em>"}
		}
		log.Printf("[INFO] %s joined the chat", u)
		c.sendMotd(uid)
		return replies.Reply{Type: replies.ChatJoin}
	}

	if u.IsBlacklisted() {
		return replies.Reply{Type: replies.ErrBlacklisted, Reason: u.BlacklistReason, Contact: c.cfg.BlacklistContact}
	}
	if u.IsJoined() {
		return replies.Reply{Type: replies.UserInChat}
	}
	u.SetLeft(false)
	u.Username = username
	u.Realname = realname
	longGone := c.now().Sub(u.LastActive) > MotdRemindAfter
	u.LastActive = c.now()
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	log.Printf("[INFO] %s rejoined the chat", u)
	if longGone {
		c.sendMotd(uid)
	}
	return replies.Reply{Type: replies.ChatJoin}
}

func (c *Core) storeEmpty() bool {
	empty := true
	_ = c.store.IterateUsers(func(*storage.User) bool {
		empty = false
		return false
	})
	return empty
}

func (c *Core) sendMotd(uid int64) {
	cfg, err := c.store.GetSystemConfig()
	if err != nil || cfg.MOTD == "" {
		return
	}
	c.sender.Reply(uid, replies.Reply{Type: replies.Custom, Text: cfg.MOTD})
}

// Leave removes the user from the lounge and drops their queued deliveries
func (c *Core) Leave(uid int64) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, ok := c.getUser(uid)
	if !ok || !u.IsJoined() {
		return replies.Reply{Type: replies.UserNotInChat}
	}
	u.SetLeft(true)
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	c.sender.StopInvoked(uid, false)
	log.Printf("[INFO] %s left the chat", u)
	return replies.Reply{Type: replies.ChatLeave}
}

// GetInfo returns the caller's own account summary
func (c *Core) GetInfo(uid int64) replies.Reply {
	u, ok := c.getUser(uid)
	if !ok {
		return replies.Reply{Type: replies.UserNotInChat}
	}
	return replies.Reply{
		Type:       replies.UserInfo,
		OID:        u.ObfuscatedID(),
		Username:   u.FormattedName(),
		Rank:       u.Rank,
		RankName:   storage.RankName(u.Rank),
		Karma:      u.Karma,
		Warnings:   u.Warnings,
		WarnExpiry: u.WarnExpiry,
		Cooldown:   cooldownOf(u),
	}
}

// GetInfoMod returns the anonymized summary of a message's author
func (c *Core) GetInfoMod(msid int) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	_, author, errRep, ok := c.messageAuthor(msid)
	if !ok {
		return errRep
	}
	return replies.Reply{
		Type:     replies.UserInfoMod,
		OID:      author.ObfuscatedID(),
		Karma:    author.ObfuscatedKarma(),
		Cooldown: cooldownOf(author),
	}
}

func cooldownOf(u *storage.User) *time.Time {
	if u.IsInCooldown() {
		return u.CooldownUntil
	}
	return nil
}

// GetUsers returns user counts, extended when the caller is at least a mod
func (c *Core) GetUsers(rank int) replies.Reply {
	var active, inactive, blacklisted, total int
	cutoff := c.now().Add(-ActiveWindow)
	_ = c.store.IterateUsers(func(u *storage.User) bool {
		total++
		switch {
		case u.IsBlacklisted():
			blacklisted++
		case u.IsJoined() && u.LastActive.After(cutoff):
			active++
		case u.IsJoined():
			inactive++
		}
		return true
	})
	if rank < storage.RankMod {
		return replies.Reply{Type: replies.UsersInfo, Count: active + inactive}
	}
	return replies.Reply{
		Type: replies.UsersInfoExtended, Active: active, Inactive: inactive,
		Blacklisted: blacklisted, Total: total,
	}
}

// GetMotd returns the welcome message
func (c *Core) GetMotd() replies.Reply {
	cfg, err := c.store.GetSystemConfig()
	if err != nil || cfg.MOTD == "" {
		return replies.Reply{Type: replies.Custom, Text: "<em>No welcome message is set.</em>"}
	}
	return replies.Reply{Type: replies.Custom, Text: cfg.MOTD}
}

// SetMotd replaces the welcome message
func (c *Core) SetMotd(text string) replies.Reply {
	return c.setSystemText(func(cfg *storage.SystemConfig) { cfg.MOTD = text })
}

// GetPrivacy returns the privacy policy text
func (c *Core) GetPrivacy() replies.Reply {
	cfg, err := c.store.GetSystemConfig()
	if err != nil || cfg.Privacy == "" {
		return replies.Reply{Type: replies.Custom, Text: "<em>No privacy policy is set.</em>"}
	}
	return replies.Reply{Type: replies.Custom, Text: cfg.Privacy}
}

// SetPrivacy replaces the privacy policy text
func (c *Core) SetPrivacy(text string) replies.Reply {
	return c.setSystemText(func(cfg *storage.SystemConfig) { cfg.Privacy = text })
}

func (c *Core) setSystemText(apply func(*storage.SystemConfig)) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	cfg, err := c.store.GetSystemConfig()
	if err != nil {
		cfg = &storage.SystemConfig{}
	}
	apply(cfg)
	if err := c.store.SetSystemConfig(cfg); err != nil {
		log.Printf("[ERROR] failed to save system config: %v", err)
	}
	return replies.Reply{Type: replies.Success}
}

// ToggleDebug flips the caller's debug echo setting
func (c *Core) ToggleDebug(uid int64) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, ok := c.getUser(uid)
	if !ok {
		return replies.Reply{Type: replies.UserNotInChat}
	}
	u.DebugEnabled = !u.DebugEnabled
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	return replies.Reply{Type: replies.BooleanConfig, Desc: "debug mode", Enabled: u.DebugEnabled}
}

// ToggleKarma flips the caller's karma notification setting
func (c *Core) ToggleKarma(uid int64) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, ok := c.getUser(uid)
	if !ok {
		return replies.Reply{Type: replies.UserNotInChat}
	}
	u.HideKarma = !u.HideKarma
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	return replies.Reply{Type: replies.BooleanConfig, Desc: "karma notifications", Enabled: !u.HideKarma}
}

// GetTripcode shows the caller's current tripcode
func (c *Core) GetTripcode(uid int64) replies.Reply {
	u, ok := c.getUser(uid)
	if !ok {
		return replies.Reply{Type: replies.UserNotInChat}
	}
	return replies.Reply{Type: replies.TripcodeInfo, Tripcode: u.Tripcode}
}

// SetTripcode validates and stores a "name#password" tripcode
func (c *Core) SetTripcode(uid int64, value string) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, ok := c.getUser(uid)
	if !ok {
		return replies.Reply{Type: replies.UserNotInChat}
	}
	if !validTripcode(value) {
		return replies.Reply{Type: replies.ErrInvalidTripFormat}
	}
	u.Tripcode = value
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	name, code := c.DigestTripcode(value)
	return replies.Reply{Type: replies.TripcodeSet, TripName: name, TripCode: code}
}

func validTripcode(value string) bool {
	if len(value) > 30 || strings.ContainsRune(value, '\n') {
		return false
	}
	pos := strings.IndexByte(value, '#')
	return pos > 0 && pos < len(value)-1
}

// DigestTripcode derives the display name and the short code from the stored
// "name#password" value. The code depends on the instance secret so it can't
// be verified offline.
func (c *Core) DigestTripcode(value string) (name, code string) {
	pos := strings.IndexByte(value, '#')
	name, pass := value[:pos], value[pos+1:]
	sum := sha256.Sum256(append([]byte(pass), c.cfg.SecretSalt...))
	return name, "!" + base64.StdEncoding.EncodeToString(sum[:])[:10]
}

// PromoteUser raises a user to the given rank and notifies them
func (c *Core) PromoteUser(arg string, rank int) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, errRep, ok := c.ResolveUser(arg)
	if !ok {
		return errRep
	}
	if u.Rank >= rank {
		return replies.Reply{Type: replies.Success}
	}
	u.Rank = rank
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	switch rank {
	case storage.RankAdmin:
		c.sender.Reply(u.ID, replies.Reply{Type: replies.PromotedAdmin})
	case storage.RankMod:
		c.sender.Reply(u.ID, replies.Reply{Type: replies.PromotedMod})
	}
	log.Printf("[INFO] %s was promoted to %s", u, storage.RankName(rank))
	return replies.Reply{Type: replies.Success}
}

// SendModMessage broadcasts an official moderator message
func (c *Core) SendModMessage(uid int64, text string) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()
	log.Printf("[INFO] mod message from user %d: %s", uid, text)
	c.pushSystemMessage(replies.EscapeHTML(text) + " ~<b>mods</b>")
	return replies.Reply{Type: replies.Success}
}

// SendAdminMessage broadcasts an official admin message
func (c *Core) SendAdminMessage(uid int64, text string) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()
	log.Printf("[INFO] admin message from user %d: %s", uid, text)
	c.pushSystemMessage(replies.EscapeHTML(text) + " ~<b>admins</b>")
	return replies.Reply{Type: replies.Success}
}

// WarnUser issues a cooldown for the message's author, optionally deleting
// the message everywhere. A second warn on the same message is rejected
// unless it asks for the deletion that hasn't happened yet.
func (c *Core) WarnUser(msid int, del bool) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	m, author, errRep, ok := c.messageAuthor(msid)
	if !ok {
		return errRep
	}
	if m.Warned {
		if !del {
			return replies.Reply{Type: replies.ErrAlreadyWarned}
		}
		c.sender.Delete([]int{msid})
		return replies.Reply{Type: replies.Success}
	}

	m.Warned = true
	d := author.AddWarning()
	author.Karma -= KarmaWarnPenalty
	if err := c.store.UpdateUser(author); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", author, err)
	}
	if c.warnsGiven != nil {
		c.warnsGiven.Inc()
	}
	c.sender.Reply(author.ID, replies.Reply{Type: replies.GivenCooldown, Duration: d, Deleted: del})
	if del {
		c.sender.Delete([]int{msid})
	}
	log.Printf("[INFO] %s was warned (cooldown %v, deleted=%v)", author, d, del)
	return replies.Reply{Type: replies.Success}
}

// RemoveMessage deletes a message everywhere without giving a cooldown
func (c *Core) RemoveMessage(msid int) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	m, author, errRep, ok := c.messageAuthor(msid)
	if !ok {
		return errRep
	}
	if !m.Warned {
		m.Warned = true
		c.sender.Reply(author.ID, replies.Reply{Type: replies.MessageDeleted})
	}
	c.sender.Delete([]int{msid})
	return replies.Reply{Type: replies.Success}
}

// CleanupMessages queues deletion of all not yet collected messages from
// blacklisted users
func (c *Core) CleanupMessages() replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	banned := make(map[int64]bool)
	_ = c.store.IterateUsers(func(u *storage.User) bool {
		if u.IsBlacklisted() {
			banned[u.ID] = true
		}
		return true
	})

	var msids []int
	c.cache.Iterate(func(msid int, m *msgcache.Message) {
		if m.CleanupSeen || !banned[m.UserID] {
			return
		}
		m.CleanupSeen = true
		msids = append(msids, msid)
	})
	if len(msids) > 0 {
		c.sender.Delete(msids)
	}
	return replies.Reply{Type: replies.DeletionQueued, Count: len(msids)}
}

// UncooldownUser lifts an active cooldown, forgiving the warning behind it
func (c *Core) UncooldownUser(arg string) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, errRep, ok := c.ResolveUser(arg)
	if !ok {
		return errRep
	}
	if !u.IsInCooldown() {
		return replies.Reply{Type: replies.ErrNotInCooldown}
	}
	u.CooldownUntil = nil
	u.RemoveWarning()
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	log.Printf("[INFO] cooldown of %s was lifted", u)
	return replies.Reply{Type: replies.Success}
}

// BlacklistUser permanently bans the author of a message and deletes the
// offending message everywhere. Their other cached messages stay until an
// explicit /cleanup.
func (c *Core) BlacklistUser(actorRank int, msid int, reason string) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	m, author, errRep, ok := c.messageAuthor(msid)
	if !ok {
		return errRep
	}
	if author.Rank >= actorRank {
		return replies.Reply{} // can't ban your peers or betters, silent drop
	}
	m.Warned = true
	author.SetBlacklisted(reason)
	if err := c.store.UpdateUser(author); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", author, err)
	}
	c.sender.Reply(author.ID, replies.Reply{Type: replies.ErrBlacklisted, Reason: reason, Contact: c.cfg.BlacklistContact})
	c.sender.StopInvoked(author.ID, true)
	c.sender.Delete([]int{msid})
	log.Printf("[INFO] %s was blacklisted: %s", author, reason)
	return replies.Reply{Type: replies.Success}
}

// GiveKarma records a +1 for the message's author
func (c *Core) GiveKarma(uid int64, msid int) replies.Reply {
	c.lock.Lock()
	defer c.lock.Unlock()

	m, author, errRep, ok := c.messageAuthor(msid)
	if !ok {
		return errRep
	}
	if author.ID == uid {
		return replies.Reply{Type: replies.ErrUpvoteOwnMessage}
	}
	if m.HasUpvoted(uid) {
		return replies.Reply{Type: replies.ErrAlreadyUpvoted}
	}
	m.AddUpvote(uid)
	author.Karma += KarmaAmount
	if err := c.store.UpdateUser(author); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", author, err)
	}
	if c.karmaGiven != nil {
		c.karmaGiven.Inc()
	}
	if !author.HideKarma {
		c.sender.Reply(author.ID, replies.Reply{Type: replies.KarmaNotification})
	}
	return replies.Reply{Type: replies.KarmaThankYou}
}

// Version reports the build version
func (c *Core) Version() replies.Reply {
	return replies.Reply{Type: replies.ProgramVersion, Version: c.cfg.Version}
}
