package security

import "strings"

const tokenSeparator = "."

func FormatToken(id, secret string) string {
	return id + tokenSeparator + secret
}

// ParseToken splits on the first separator. Tokens missing either part are rejected.
func ParseToken(token string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(token, tokenSeparator)
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// ParseKindToken parses a token and additionally requires the id to carry the kind prefix,
// so a token issued for one session kind is rejected before any store lookup of another.
func ParseKindToken[ID ~string](token, prefix string) (ID, string, bool) {
	id, secret, ok := ParseToken(token)
	if !ok || !strings.HasPrefix(id, prefix) || len(id) == len(prefix) {
		return "", "", false
	}
	return ID(id), secret, true
}
