package accounts

import "time"

// Profile is the record stored for every signed-up user, keyed by UserID.
type Profile struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials for email+password authentication.
type Credentials struct {
	Email    string
	Password string
}

// FederatedAssertion carries the token obtained from a federated provider.
type FederatedAssertion struct {
	ProviderID string // e.g. google.com
	IDToken    string
	RequestURI string
}

// Identity is what the identity provider returns on success.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	IDToken     string
	Provider    string
	NewUser     bool
}

const ProviderPassword = "password"
