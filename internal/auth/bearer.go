package auth

import "strings"

// CookieName is the cookie carrying "Bearer <token>".
const CookieName = "access_token"

const scheme = "Bearer"

func FormatBearer(token string) string {
	return scheme + " " + token
}

// ParseBearer extracts the token from a "<scheme> <token>" value. The scheme
// is matched case-insensitively and exactly two fields are required.
func ParseBearer(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", ErrNoToken
	}
	parts := strings.Fields(value)
	if len(parts) != 2 || !strings.EqualFold(parts[0], scheme) {
		return "", ErrBadScheme
	}
	return parts[1], nil
}
