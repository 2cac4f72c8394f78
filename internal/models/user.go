package models

// User is the identity of the signed-in account as reported by the backend,
// or derived locally from the login email when the backend sends no profile.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Session is the durable portion of the authentication state. Tokens are
// opaque capabilities and are never parsed. Transient flags such as a login
// being in flight are deliberately not part of this struct.
type Session struct {
	User          User   `json:"user"`
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	Authenticated bool   `json:"authenticated"`
}
