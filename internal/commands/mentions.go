package commands

import "strings"

// splitArg splits off the first whitespace-delimited token of an argument
// tail, returning the token and the remainder with leading whitespace
// trimmed.
func splitArg(s string) (token, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t\n")
}

// ParseUserID extracts a user id from a mention token (<@123> or <@!123>)
// or a bare numeric id.
func ParseUserID(token string) (string, bool) {
	if strings.HasPrefix(token, "<@") && strings.HasSuffix(token, ">") {
		inner := strings.TrimPrefix(token[2:len(token)-1], "!")
		if isSnowflake(inner) {
			return inner, true
		}
		return "", false
	}
	if isSnowflake(token) {
		return token, true
	}
	return "", false
}

// ParseChannelID extracts a channel id from a mention token (<#123>) or a
// bare numeric id.
func ParseChannelID(token string) (string, bool) {
	if strings.HasPrefix(token, "<#") && strings.HasSuffix(token, ">") {
		inner := token[2 : len(token)-1]
		if isSnowflake(inner) {
			return inner, true
		}
		return "", false
	}
	if isSnowflake(token) {
		return token, true
	}
	return "", false
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
