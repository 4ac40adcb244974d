package accounts

import "context"

// Authenticator port (identity provider)
type Authenticator interface {
	SignUp(ctx context.Context, c Credentials, displayName string) (Identity, error)
	SignIn(ctx context.Context, c Credentials) (Identity, error)
	SignInFederated(ctx context.Context, a FederatedAssertion) (Identity, error)
}

// ProfileRepository port (document store for user profiles)
type ProfileRepository interface {
	Save(ctx context.Context, p *Profile) error
	Get(ctx context.Context, userID string) (*Profile, error)
}
