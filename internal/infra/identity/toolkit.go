package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/accounts"
)

// Toolkit implements domain.Authenticator on the Identity Toolkit relying-party API.
type Toolkit struct {
	svc        *identitytoolkit.Service
	requestURI string
}

// New builds the adapter. Extra options (endpoint, http client) are passed through.
func New(ctx context.Context, apiKey, requestURI string, opts ...option.ClientOption) (*Toolkit, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("identity api key is empty")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("identitytoolkit: %w", err)
	}
	if requestURI == "" {
		requestURI = "http://localhost"
	}
	return &Toolkit{svc: svc, requestURI: requestURI}, nil
}

func (t *Toolkit) SignUp(ctx context.Context, c domain.Credentials, displayName string) (domain.Identity, error) {
	resp, err := t.svc.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:       c.Email,
		Password:    c.Password,
		DisplayName: displayName,
	}).Context(ctx).Do()
	if err != nil {
		return domain.Identity{}, providerError(err)
	}
	return domain.Identity{
		UserID:      resp.LocalId,
		Email:       resp.Email,
		DisplayName: firstNonEmpty(resp.DisplayName, displayName),
		IDToken:     resp.IdToken,
		Provider:    domain.ProviderPassword,
		NewUser:     true,
	}, nil
}

func (t *Toolkit) SignIn(ctx context.Context, c domain.Credentials) (domain.Identity, error) {
	resp, err := t.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             c.Email,
		Password:          c.Password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return domain.Identity{}, providerError(err)
	}
	return domain.Identity{
		UserID:      resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		IDToken:     resp.IdToken,
		Provider:    domain.ProviderPassword,
	}, nil
}

func (t *Toolkit) SignInFederated(ctx context.Context, a domain.FederatedAssertion) (domain.Identity, error) {
	provider := a.ProviderID
	if provider == "" {
		provider = "google.com"
	}
	reqURI := a.RequestURI
	if reqURI == "" {
		reqURI = t.requestURI
	}
	body := url.Values{}
	body.Set("id_token", a.IDToken)
	body.Set("providerId", provider)

	resp, err := t.svc.Relyingparty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          body.Encode(),
		RequestUri:        reqURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return domain.Identity{}, providerError(err)
	}
	return domain.Identity{
		UserID:      resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		IDToken:     resp.IdToken,
		Provider:    firstNonEmpty(resp.ProviderId, provider),
		NewUser:     resp.IsNewUser,
	}, nil
}

// providerError keeps the provider's message so it reaches the user unchanged.
func providerError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Body
		}
		return &domain.ProviderError{Code: gerr.Code, Message: msg}
	}
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
