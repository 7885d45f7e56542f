package models

// AuthProvider distinguishes password accounts from Google sign-in.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderGoogle AuthProvider = "google"
)

// User is the account record returned by the auth endpoints. CreatedAt stays
// a string: the server serializes naive ISO 8601 timestamps that strict
// RFC 3339 parsing would reject, and the client only displays it.
type User struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	Avatar    string       `json:"avatar,omitempty"`
	Provider  AuthProvider `json:"provider"`
	CreatedAt string       `json:"created_at"`
}

// Identity is the client's current authentication state. The zero value is
// the anonymous guest.
type Identity struct {
	Token string
	User  *User
}

// IsAuthenticated reports whether a login session is active.
func (i Identity) IsAuthenticated() bool { return i.Token != "" }
