// Package perms answers "may this user run this command": a role cache fed
// by gateway events plus a resolver that checks membership against the
// configured privileged roles.
package perms

import (
	"sync/atomic"

	"github.com/ferrite-bot/ferrite/internal/discord"
)

// Cache maps (guild, user) to the user's current role IDs. There is exactly
// one writer, the dispatch loop; handlers read concurrently. Updates replace
// an immutable snapshot atomically, so readers never need a lock.
type Cache struct {
	snap atomic.Pointer[map[string][]string]
}

func NewCache() *Cache {
	c := &Cache{}
	empty := make(map[string][]string)
	c.snap.Store(&empty)
	return c
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// Roles returns the cached role IDs for a member. ok is false when the
// member has never been seen on this session.
func (c *Cache) Roles(guildID, userID string) (roles []string, ok bool) {
	snap := *c.snap.Load()
	roles, ok = snap[memberKey(guildID, userID)]
	return roles, ok
}

// SetMember records a member's role set, replacing any previous entry.
func (c *Cache) SetMember(guildID, userID string, roles []string) {
	old := *c.snap.Load()
	next := make(map[string][]string, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[memberKey(guildID, userID)] = append([]string(nil), roles...)
	c.snap.Store(&next)
}

// RemoveMember drops a member, typically on GUILD_MEMBER_REMOVE.
func (c *Cache) RemoveMember(guildID, userID string) {
	old := *c.snap.Load()
	if _, ok := old[memberKey(guildID, userID)]; !ok {
		return
	}
	next := make(map[string][]string, len(old))
	for k, v := range old {
		next[k] = v
	}
	delete(next, memberKey(guildID, userID))
	c.snap.Store(&next)
}

// HydrateGuild bulk-loads every member delivered with a GUILD_CREATE in a
// single snapshot swap.
func (c *Cache) HydrateGuild(guild *discord.Guild) {
	if len(guild.Members) == 0 {
		return
	}
	old := *c.snap.Load()
	next := make(map[string][]string, len(old)+len(guild.Members))
	for k, v := range old {
		next[k] = v
	}
	for _, m := range guild.Members {
		if m.User == nil {
			continue
		}
		next[memberKey(guild.ID, m.User.ID)] = append([]string(nil), m.Roles...)
	}
	c.snap.Store(&next)
}

// Len reports the number of cached members.
func (c *Cache) Len() int {
	return len(*c.snap.Load())
}
