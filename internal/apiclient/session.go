package apiclient

import (
	"context"
	"strings"
)

// User is the signed-in administrator as reported by the API.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Credentials hold the tokens and user record of the current session.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// Authenticated reports whether a user record is present.
func (credentials Credentials) Authenticated() bool {
	return strings.TrimSpace(credentials.User.ID) != ""
}

// SessionRepository owns the token lifecycle. Load on an empty store returns
// zero Credentials and no error. Clear removes every field at once.
type SessionRepository interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, credentials Credentials) error
	Clear(ctx context.Context) error
}
