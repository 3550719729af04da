package devserver

import (
	"strings"
	"sync"

	"forumsync/pkg/protocol"
)

// Participant roles
const (
	RoleHost     = "host"
	RoleAttendee = "attendee"
)

// Identity is who a token resolves to.
type Identity struct {
	User protocol.UserSummary
	Role string
}

// Participant renders the identity as it appears in room snapshots.
func (i Identity) Participant() protocol.Participant {
	return protocol.Participant{
		ID:          i.User.ID,
		Username:    i.User.Username,
		DisplayName: i.User.DisplayName,
		Role:        i.Role,
	}
}

// TokenValidator resolves bearer tokens from a static table. Values are
// "username" or "username:role". An empty table accepts any non-empty token
// and uses the token itself as the username.
type TokenValidator struct {
	tokens map[string]string

	mu     sync.Mutex
	ids    map[string]int64
	nextID int64
}

// NewTokenValidator builds a validator from token -> "username[:role]" pairs.
func NewTokenValidator(tokens map[string]string) *TokenValidator {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &TokenValidator{
		tokens: copied,
		ids:    make(map[string]int64),
	}
}

// Validate returns the identity for token. The same username always maps
// to the same user id for the lifetime of the validator.
func (v *TokenValidator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	entry := token
	if len(v.tokens) > 0 {
		var ok bool
		entry, ok = v.tokens[token]
		if !ok {
			return Identity{}, ErrInvalidToken
		}
	}

	username, role, _ := strings.Cut(entry, ":")
	if username == "" {
		return Identity{}, ErrInvalidToken
	}
	if role == "" {
		role = RoleAttendee
	}

	return Identity{
		User: protocol.UserSummary{
			ID:          v.idFor(username),
			Username:    username,
			DisplayName: username,
		},
		Role: role,
	}, nil
}

func (v *TokenValidator) idFor(username string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if id, ok := v.ids[username]; ok {
		return id
	}
	v.nextID++
	v.ids[username] = v.nextID
	return v.nextID
}
