package protocol

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidKind reports whether kind names a resource the socket layer serves.
func ValidKind(kind string) bool {
	switch kind {
	case KindEvent, KindDiscussion, KindForum:
		return true
	}
	return false
}

// BuildURL returns ws(s)://<host>/ws/<kind>/<id>/?token=<token>. The base may
// use an http(s) or ws(s) scheme; any path on the base is kept as a prefix.
func BuildURL(base, kind string, resourceID int64, token string) (string, error) {
	if !ValidKind(kind) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if resourceID <= 0 {
		return "", ErrInvalidResource
	}
	if token == "" {
		return "", ErrMissingToken
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + kind + "/" + strconv.FormatInt(resourceID, 10) + "/"
	query := url.Values{}
	query.Set("token", token)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// ParsePath extracts kind and resource id from /ws/<kind>/<id>/.
func ParsePath(path string) (string, int64, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "ws" {
		return "", 0, fmt.Errorf("%w: unexpected path %q", ErrInvalidResource, path)
	}
	if !ValidKind(parts[1]) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidKind, parts[1])
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, ErrInvalidResource
	}
	return parts[1], id, nil
}
