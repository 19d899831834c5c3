package perms

import (
	"log/slog"
	"sync/atomic"
)

// Privilege is the access tier a command requires.
type Privilege int

const (
	// PrivilegeNone marks commands anyone may run.
	PrivilegeNone Privilege = iota
	// PrivilegeMod gates moderation commands.
	PrivilegeMod
	// PrivilegeWgAndTeams gates tag mutation.
	PrivilegeWgAndTeams
)

func (p Privilege) String() string {
	switch p {
	case PrivilegeNone:
		return "none"
	case PrivilegeMod:
		return "mod"
	case PrivilegeWgAndTeams:
		return "wg_and_teams"
	default:
		return "unknown"
	}
}

// RoleSet holds the configured role IDs per tier. Talk is not a privilege;
// it is the role the reaction-role flow grants.
type RoleSet struct {
	Mod        string
	Talk       string
	WgAndTeams string
}

// Resolver decides whether a user holds a privilege, reading only the role
// cache. This is the fast path; moderation handlers re-check the invoker
// against the platform API before acting, so a stale cache can never be the
// sole gate for a destructive action.
type Resolver struct {
	cache  *Cache
	logger *slog.Logger
	roles  atomic.Pointer[RoleSet]
}

func NewResolver(cache *Cache, roles RoleSet, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{cache: cache, logger: logger}
	r.SetRoles(roles)
	return r
}

// SetRoles replaces the configured role IDs, e.g. after a config reload.
// An unconfigured privileged role means that tier denies everyone, which is
// worth a warning: a bot that cannot tell who is a moderator must not
// moderate.
func (r *Resolver) SetRoles(roles RoleSet) {
	r.roles.Store(&roles)
	if roles.Mod == "" {
		r.logger.Warn("mod role not configured; denying all moderation commands")
	}
	if roles.WgAndTeams == "" {
		r.logger.Warn("wg_and_teams role not configured; denying all tag mutations")
	}
	if roles.Talk == "" {
		r.logger.Warn("talk role not configured; code of conduct reactions will not grant a role")
	}
}

// Roles returns the currently configured role IDs.
func (r *Resolver) Roles() RoleSet {
	return *r.roles.Load()
}

// Has reports whether the user holds the privilege in the guild, according
// to the cache. Unknown members and unconfigured tiers deny.
func (r *Resolver) Has(guildID, userID string, p Privilege) bool {
	if p == PrivilegeNone {
		return true
	}
	required := r.requiredRole(p)
	if required == "" {
		return false
	}
	roles, ok := r.cache.Roles(guildID, userID)
	if !ok {
		return false
	}
	for _, id := range roles {
		if id == required {
			return true
		}
	}
	return false
}

func (r *Resolver) requiredRole(p Privilege) string {
	roles := r.roles.Load()
	switch p {
	case PrivilegeMod:
		return roles.Mod
	case PrivilegeWgAndTeams:
		return roles.WgAndTeams
	default:
		return ""
	}
}

// HoldsRole reports whether roleID appears in roles. Shared by the
// authoritative REST re-check in the moderation handlers.
func HoldsRole(roles []string, roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, id := range roles {
		if id == roleID {
			return true
		}
	}
	return false
}
