package perms_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/ferrite-bot/ferrite/internal/perms"
)

func newResolver(t *testing.T, roles perms.RoleSet) (*perms.Resolver, *perms.Cache) {
	t.Helper()
	cache := perms.NewCache()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return perms.NewResolver(cache, roles, logger), cache
}

func TestResolverHas(t *testing.T) {
	resolver, cache := newResolver(t, perms.RoleSet{Mod: "mod-role", WgAndTeams: "wg-role"})
	cache.SetMember("g1", "moderator", []string{"other", "mod-role"})
	cache.SetMember("g1", "plain", []string{"other"})

	tests := []struct {
		name      string
		userID    string
		privilege perms.Privilege
		want      bool
	}{
		{"mod holds mod", "moderator", perms.PrivilegeMod, true},
		{"mod lacks wg", "moderator", perms.PrivilegeWgAndTeams, false},
		{"plain lacks mod", "plain", perms.PrivilegeMod, false},
		{"unknown member denied", "stranger", perms.PrivilegeMod, false},
		{"none always allowed", "stranger", perms.PrivilegeNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolver.Has("g1", tt.userID, tt.privilege); got != tt.want {
				t.Errorf("Has(%s, %v) = %v, want %v", tt.userID, tt.privilege, got, tt.want)
			}
		})
	}
}

func TestResolverDeniesAllWhenRoleUnconfigured(t *testing.T) {
	var logs bytes.Buffer
	cache := perms.NewCache()
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	resolver := perms.NewResolver(cache, perms.RoleSet{}, logger)

	cache.SetMember("g1", "u1", []string{"any-role"})
	if resolver.Has("g1", "u1", perms.PrivilegeMod) {
		t.Fatal("unconfigured mod role must deny")
	}
	if resolver.Has("g1", "u1", perms.PrivilegeWgAndTeams) {
		t.Fatal("unconfigured wg_and_teams role must deny")
	}
	if !strings.Contains(logs.String(), "mod role not configured") {
		t.Fatalf("expected configuration warning in logs, got: %s", logs.String())
	}
}

func TestResolverSetRolesTakesEffect(t *testing.T) {
	resolver, cache := newResolver(t, perms.RoleSet{})
	cache.SetMember("g1", "u1", []string{"r-new"})

	if resolver.Has("g1", "u1", perms.PrivilegeMod) {
		t.Fatal("should deny before roles configured")
	}
	resolver.SetRoles(perms.RoleSet{Mod: "r-new"})
	if !resolver.Has("g1", "u1", perms.PrivilegeMod) {
		t.Fatal("should allow after SetRoles")
	}
	if resolver.Roles().Mod != "r-new" {
		t.Fatalf("Roles().Mod = %q, want r-new", resolver.Roles().Mod)
	}
}

func TestHoldsRole(t *testing.T) {
	if !perms.HoldsRole([]string{"a", "b"}, "b") {
		t.Fatal("expected role b held")
	}
	if perms.HoldsRole([]string{"a", "b"}, "c") {
		t.Fatal("did not expect role c held")
	}
	if perms.HoldsRole([]string{"a"}, "") {
		t.Fatal("empty role id must never match")
	}
}
