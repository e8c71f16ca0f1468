package auth

import "errors"

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for the authenticated caller
	UserContextKey ContextKey = "user"
)

// Scopes granted to research API callers.
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// UserContext is the caller identity extracted from a validated token.
type UserContext struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
