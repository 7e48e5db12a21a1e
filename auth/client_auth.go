package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-consent-server/clients"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/rs/zerolog/log"
)

// assertionAlgorithms are the asymmetric algorithms accepted for client assertions.
var assertionAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

// ClientCredentials is what a caller presented to authenticate as a client.
type ClientCredentials struct {
	ID     string
	Secret string
	// Basic is true when ID and Secret came from the Authorization header.
	Basic         bool
	Assertion     string
	AssertionType string
}

// AuthenticateClient verifies the credentials with the method the client
// registered. Every failure is invalid_client.
func (as *AuthorizationService) AuthenticateClient(ctx context.Context, creds ClientCredentials) (*clients.Client, error) {
	if creds.Assertion != "" || creds.AssertionType != "" {
		return as.authenticateAssertion(ctx, creds)
	}
	if creds.ID == "" {
		return nil, apperrors.ErrInvalidClient.WithHint("Client credentials are missing.")
	}
	client, err := as.clients.Get(ctx, creds.ID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidClient.WithHint("Unknown client or wrong credentials.")
		}
		return nil, err
	}

	var used oauth2.TokenEndpointAuthMethod
	switch {
	case creds.Basic:
		used = oauth2.ClientSecretBasic
	case creds.Secret != "":
		used = oauth2.ClientSecretPost
	default:
		used = oauth2.AuthMethodNone
	}
	if used != client.TokenEndpointAuthMethod {
		return nil, apperrors.ErrInvalidClient.WithHintf("The client is registered for %q but authenticated with %q.", client.TokenEndpointAuthMethod, used)
	}
	if used == oauth2.AuthMethodNone {
		return client, nil
	}
	return as.clients.Authenticate(ctx, creds.ID, creds.Secret)
}

// authenticateAssertion implements private_key_jwt (RFC 7523 section 2.2).
func (as *AuthorizationService) authenticateAssertion(ctx context.Context, creds ClientCredentials) (*clients.Client, error) {
	if creds.AssertionType != oauth2.ClientAssertionTypeJWTBearer {
		return nil, apperrors.ErrInvalidClient.WithHintf("Parameter 'client_assertion_type' must be %q.", oauth2.ClientAssertionTypeJWTBearer)
	}
	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser(jwt.WithValidMethods(assertionAlgorithms)).ParseUnverified(creds.Assertion, unverified); err != nil {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion is malformed.").WithDebug(err.Error())
	}
	clientID, _ := unverified["sub"].(string)
	if clientID == "" {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion has no 'sub' claim.")
	}
	if creds.ID != "" && creds.ID != clientID {
		return nil, apperrors.ErrInvalidClient.WithHint("Parameter 'client_id' does not match the subject of the client assertion.")
	}

	client, err := as.clients.Get(ctx, clientID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidClient.WithHint("Unknown client or wrong credentials.")
		}
		return nil, err
	}
	if client.TokenEndpointAuthMethod != oauth2.PrivateKeyJWT {
		return nil, apperrors.ErrInvalidClient.WithHintf("The client is registered for %q but authenticated with %q.", client.TokenEndpointAuthMethod, oauth2.PrivateKeyJWT)
	}

	keySet, err := as.keySets.forClient(client)
	if err != nil {
		return nil, err
	}
	payload, err := keySet.VerifySignature(ctx, creds.Assertion)
	if err != nil {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion signature could not be verified.").WithDebug(err.Error())
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion is malformed.").WithDebug(err.Error())
	}

	validator := jwt.NewValidator(
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(client.ID),
		jwt.WithSubject(client.ID),
		jwt.WithAudience(as.urls.TokenURL()),
		jwt.WithTimeFunc(as.nowTime),
	)
	if err := validator.Validate(claims); err != nil {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion claims are invalid.").WithDebug(err.Error())
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion has no 'jti' claim.")
	}
	exp, _ := claims.GetExpirationTime()
	if exp.Time.After(as.nowTime().Add(maxAssertionLifetime)) {
		return nil, apperrors.ErrInvalidClient.WithHint("The client assertion expires too far in the future.")
	}
	if err := as.tokens.MarkClientAssertionJTI(ctx, jti, exp.Time); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			log.Warn().Str("client_id", client.ID).Str("jti", jti).Msg("client assertion replayed")
			return nil, apperrors.ErrInvalidClient.WithHint("The client assertion 'jti' has already been used.")
		}
		return nil, err
	}
	return client, nil
}

// clientKeySets caches remote key sets per jwks_uri so keys are fetched once
// and refreshed when an unknown kid shows up.
type clientKeySets struct {
	mu     sync.Mutex
	remote map[string]*oidc.RemoteKeySet
}

func newClientKeySets() *clientKeySets {
	return &clientKeySets{remote: map[string]*oidc.RemoteKeySet{}}
}

func (c *clientKeySets) forClient(client *clients.Client) (oidc.KeySet, error) {
	if client.JWKS != nil && len(client.JWKS.Keys) > 0 {
		keys := make([]crypto.PublicKey, 0, len(client.JWKS.Keys))
		for _, k := range client.JWKS.Keys {
			if k.Use != "" && k.Use != "sig" {
				continue
			}
			keys = append(keys, k.Key)
		}
		return &oidc.StaticKeySet{PublicKeys: keys}, nil
	}
	if client.JWKSURI == "" {
		return nil, apperrors.ErrInvalidClient.WithHint("The client has no keys to verify assertions with.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.remote[client.JWKSURI]
	if !ok {
		// The key set outlives the request that first needed it.
		ks = oidc.NewRemoteKeySet(context.Background(), client.JWKSURI)
		c.remote[client.JWKSURI] = ks
	}
	return ks, nil
}

// maxAssertionLifetime bounds the exp of a client assertion, and with it how
// long its jti is remembered.
const maxAssertionLifetime = time.Hour
