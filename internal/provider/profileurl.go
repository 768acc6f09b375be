package provider

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/DukeRupert/reelstat/internal/domain"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

	reservedPaths = map[string]bool{
		"p": true, "reel": true, "reels": true, "stories": true, "explore": true, "accounts": true, "tv": true,
	}
)

// CanonicalProfileURL returns the provider's canonical URL for a username.
func CanonicalProfileURL(username string) string {
	return "https://www.instagram.com/" + strings.ToLower(username) + "/"
}

// ParseProfileReference extracts the first profile named in free text, either
// a profile URL (with or without scheme) or an @handle. It returns the
// canonical URL.
func ParseProfileReference(text string) (string, error) {
	const op = "provider.parse_profile_reference"

	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "@") {
			if name, ok := parseHandle(field); ok {
				return CanonicalProfileURL(name), nil
			}
			continue
		}
		if name, ok := parseProfileURL(field); ok {
			return CanonicalProfileURL(name), nil
		}
	}
	return "", domain.Invalid(op, "no profile reference found")
}

// parseHandle accepts "@name", ignoring punctuation that trails it in a
// sentence.
func parseHandle(field string) (string, bool) {
	name := strings.TrimRight(strings.TrimPrefix(field, "@"), ",.;:!?)")
	return name, usernamePattern.MatchString(name)
}

func parseProfileURL(field string) (string, bool) {
	candidate := field
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "instagram.com" && host != "m.instagram.com" {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if segments[0] == "" || reservedPaths[segments[0]] {
		return "", false
	}
	if !usernamePattern.MatchString(segments[0]) {
		return "", false
	}
	return segments[0], true
}
