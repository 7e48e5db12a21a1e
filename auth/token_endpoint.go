package auth

import (
	"context"

	"github.com/jrsteele09/go-consent-server/clients"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Token handles the OAuth 2.0 token request. The client is authenticated
// before the grant is looked at.
func (as *AuthorizationService) Token(ctx context.Context, creds ClientCredentials, req *oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	resp, err := as.token(ctx, creds, req)
	as.observer(req.GrantType, err)
	if err != nil {
		if e := apperrors.ToError(err); e.StatusCode >= 500 {
			log.Err(err).Str("grant_type", string(req.GrantType)).Msg("token request failed")
		} else {
			log.Debug().Str("grant_type", string(req.GrantType)).Str("error", e.Name).Str("hint", e.Hint).Msg("token request rejected")
		}
		return nil, err
	}
	return resp, nil
}

func (as *AuthorizationService) token(ctx context.Context, creds ClientCredentials, req *oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.GrantType == "" {
		return nil, apperrors.ErrBadRequest.WithHint("Form parameter 'grant_type' is required.")
	}
	client, err := as.AuthenticateClient(ctx, creds)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		if !client.HasGrantType(oauth2.AuthorizationCodeGrant) {
			return nil, apperrors.ErrUnauthorizedClient.WithHint("The client is not allowed to use the authorization_code grant.")
		}
		grant, err := as.tokens.RedeemAuthorizeCode(ctx, req.Code, client.ID, req.RedirectURI, req.CodeVerifier)
		if err != nil {
			return nil, err
		}
		resp, err := as.tokens.IssueTokens(ctx, *grant, issuesRefreshToken(client, grant.GrantedScope))
		if err != nil {
			return nil, errors.Wrap(err, "[Token] issue tokens")
		}
		log.Debug().Str("client_id", client.ID).Str("request_id", grant.RequestID).Msg("authorization code exchanged")
		return resp, nil

	case oauth2.RefreshTokenGrant:
		if !client.HasGrantType(oauth2.RefreshTokenGrant) {
			return nil, apperrors.ErrUnauthorizedClient.WithHint("The client is not allowed to use the refresh_token grant.")
		}
		return as.tokens.Refresh(ctx, req.RefreshToken, client.ID, req.Scope)

	case oauth2.ClientCredentialsGrant:
		if err := ValidateClientCredentialsGrant(req, client); err != nil {
			return nil, err
		}
		resp, err := as.tokens.IssueClientCredentials(ctx, client.ID, nonNil(req.Scope), nonNil(req.Audience))
		if err != nil {
			return nil, errors.Wrap(err, "[Token] issue client credentials")
		}
		return resp, nil

	default:
		return nil, apperrors.ErrUnsupportedGrantType.WithHintf("Grant type %q is not supported at the token endpoint.", req.GrantType)
	}
}

// issuesRefreshToken is true when offline access was granted to a client
// that may refresh.
func issuesRefreshToken(client *clients.Client, scope []string) bool {
	return client.HasGrantType(oauth2.RefreshTokenGrant) &&
		oauth2.Arguments(scope).HasOneOf(oauth2.ScopeOffline, oauth2.ScopeOfflineAccess)
}

// AuthenticateCaller authenticates a caller of the introspection endpoint:
// a client with its credentials, or anyone holding an active access token.
func (as *AuthorizationService) AuthenticateCaller(ctx context.Context, creds ClientCredentials, bearer string) error {
	if bearer != "" {
		_, err := as.tokens.ValidateAccessToken(ctx, bearer)
		return err
	}
	_, err := as.AuthenticateClient(ctx, creds)
	return err
}

// Introspect reports on a token. The caller must already be authenticated.
func (as *AuthorizationService) Introspect(ctx context.Context, raw string, hint oauth2.TokenTypeHint, scope oauth2.Arguments) *oauth2.IntrospectionResponse {
	return as.tokens.Introspect(ctx, raw, hint, scope)
}

// Revoke revokes a token owned by the authenticated client. Unknown tokens
// succeed, as required by RFC 7009.
func (as *AuthorizationService) Revoke(ctx context.Context, creds ClientCredentials, raw string, hint oauth2.TokenTypeHint) error {
	client, err := as.AuthenticateClient(ctx, creds)
	if err != nil {
		return err
	}
	if raw == "" {
		return apperrors.ErrBadRequest.WithHint("Form parameter 'token' is required.")
	}
	return as.tokens.Revoke(ctx, raw, client.ID, hint)
}

// UserInfo returns the claims of the subject an access token was issued for.
// The sub claim cannot be overridden by session data.
func (as *AuthorizationService) UserInfo(ctx context.Context, bearer string) (map[string]any, error) {
	if bearer == "" {
		return nil, apperrors.ErrInvalidToken.WithHint("A bearer token is required.")
	}
	rec, err := as.tokens.ValidateAccessToken(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if !oauth2.Arguments(rec.Scope).Has(oauth2.ScopeOpenID) {
		return nil, apperrors.ErrInvalidToken.WithHint("The access token was not granted the 'openid' scope.")
	}
	info := map[string]any{}
	for k, v := range rec.UserInfo {
		info[k] = v
	}
	info["sub"] = rec.Subject
	return info, nil
}
