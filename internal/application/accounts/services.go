package accounts

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/xray-analyzer/internal/application"
	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/accounts"
)

// Service implements the signup and login use-cases. The identity provider
// and the profile store are handed in by the host; nothing here is global.
type Service struct {
	Auth     domain.Authenticator
	Profiles domain.ProfileRepository
	Tokens   *TokenStore
	Clock    application.Clock
	Log      *zap.Logger
}

type SignupCommand struct {
	Username string
	Email    string
	Password string
}

type FederatedCommand struct {
	ProviderID string
	IDToken    string
	RequestURI string
}

// LoginResult is returned by every successful use-case.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
}

// Signup creates the account, then stores the profile keyed by the new user id.
// A failure in either step is a signup failure.
func (s *Service) Signup(ctx context.Context, cmd SignupCommand) (LoginResult, error) {
	id, err := s.Auth.SignUp(ctx, domain.Credentials{Email: cmd.Email, Password: cmd.Password}, cmd.Username)
	if err != nil {
		s.logger().Warn("signup rejected by identity provider", zap.String("email", cmd.Email), zap.Error(err))
		return LoginResult{}, &domain.Error{Op: "Signup", Err: err}
	}

	p := &domain.Profile{
		UserID:    id.UserID,
		Username:  cmd.Username,
		Email:     cmd.Email,
		Provider:  domain.ProviderPassword,
		CreatedAt: s.now(),
	}
	if err := s.Profiles.Save(ctx, p); err != nil {
		s.logger().Error("failed to save profile", zap.String("user", id.UserID), zap.Error(err))
		return LoginResult{}, &domain.Error{Op: "Signup", Err: err}
	}

	s.logger().Info("user signed up", zap.String("user", id.UserID))
	return s.issue(id.UserID, cmd.Email, cmd.Username), nil
}

// Login authenticates with email and password.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	id, err := s.Auth.SignIn(ctx, domain.Credentials{Email: email, Password: password})
	if err != nil {
		return LoginResult{}, &domain.Error{Op: "Login", Err: err}
	}
	return s.issue(id.UserID, id.Email, id.DisplayName), nil
}

// LoginFederated authenticates through a federated provider; the first
// login also creates the profile record.
func (s *Service) LoginFederated(ctx context.Context, cmd FederatedCommand) (LoginResult, error) {
	op := providerName(cmd.ProviderID) + " Login"
	if strings.TrimSpace(cmd.IDToken) == "" {
		return LoginResult{}, &domain.Error{Op: op, Err: domain.ErrFederatedCanceled}
	}

	id, err := s.Auth.SignInFederated(ctx, domain.FederatedAssertion{
		ProviderID: cmd.ProviderID,
		IDToken:    cmd.IDToken,
		RequestURI: cmd.RequestURI,
	})
	if err != nil {
		return LoginResult{}, &domain.Error{Op: op, Err: err}
	}

	if id.NewUser {
		p := &domain.Profile{
			UserID:    id.UserID,
			Username:  id.DisplayName,
			Email:     id.Email,
			Provider:  cmd.ProviderID,
			CreatedAt: s.now(),
		}
		if err := s.Profiles.Save(ctx, p); err != nil {
			return LoginResult{}, &domain.Error{Op: op, Err: err}
		}
	}
	return s.issue(id.UserID, id.Email, id.DisplayName), nil
}

// Resolve maps a bearer token to its user id.
func (s *Service) Resolve(token string) (string, bool) {
	return s.Tokens.Resolve(token)
}

func (s *Service) Logout(token string) { s.Tokens.Revoke(token) }

func (s *Service) issue(userID, email, username string) LoginResult {
	token, exp := s.Tokens.Issue(userID)
	return LoginResult{Token: token, ExpiresAt: exp, UserID: userID, Email: email, Username: username}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func providerName(id string) string {
	switch id {
	case "google.com", "":
		return "Google"
	case "github.com":
		return "GitHub"
	case "facebook.com":
		return "Facebook"
	}
	return id
}
