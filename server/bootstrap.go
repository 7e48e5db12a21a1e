package server

import (
	"context"

	"github.com/jrsteele09/go-consent-server/clients"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/internal/utils"
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	adminClientName = "Administrative API"
	// generatedSecretBytes is the entropy of a generated admin secret.
	generatedSecretBytes = 32
)

// BootstrapResult reports the admin credentials the server ended up with.
type BootstrapResult struct {
	AdminClientID     string
	AdminClientSecret string
	// SecretGenerated is true when the secret was not configured and has
	// been replaced by a new random one.
	SecretGenerated bool
}

// InitialiseSystem makes sure the signing key sets and the admin client exist.
// It is safe to run on every start.
func (s *Server) InitialiseSystem(ctx context.Context) (*BootstrapResult, error) {
	signingSets := map[string]string{
		jwk.IDTokenSet:     s.config.GetIDTokenAlgorithm(),
		jwk.AccessTokenSet: s.config.GetAccessTokenAlgorithm(),
	}
	for set, alg := range signingSets {
		key, err := s.keys.ActiveKey(ctx, set, alg)
		if err != nil {
			return nil, errors.Wrapf(err, "[InitialiseSystem] signing key for %s", set)
		}
		log.Debug().Str("set", set).Str("kid", key.KeyID).Str("alg", alg).Msg("signing key ready")
	}

	result, err := s.ensureAdminClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[InitialiseSystem] admin client")
	}

	baseURL := s.config.GetBaseURL()
	event := log.Info().
		Str("issuer", baseURL).
		Str("discovery", baseURL+RouteWellKnownOpenIDConfig).
		Str("admin_client_id", result.AdminClientID)
	if result.SecretGenerated {
		event = event.Str("admin_client_secret", result.AdminClientSecret)
	}
	event.Msg("system initialised")
	if result.SecretGenerated {
		log.Warn().Msg("ADMIN_CLIENT_SECRET is not set; a new admin secret was generated and will change on every start")
	}
	return result, nil
}

// ensureAdminClient creates the client_credentials client that holds the
// admin scope, or brings the stored one in line with the configuration.
func (s *Server) ensureAdminClient(ctx context.Context) (*BootstrapResult, error) {
	id := s.config.GetAdminClientID()
	scope := s.config.GetAdminScope()
	secret := s.config.GetAdminClientSecret()
	result := &BootstrapResult{AdminClientID: id, AdminClientSecret: secret}
	if secret == "" {
		generated, err := utils.RandomToken(generatedSecretBytes)
		if err != nil {
			return nil, err
		}
		result.AdminClientSecret, result.SecretGenerated = generated, true
	}

	desired := &clients.Client{
		ID:                      id,
		Name:                    adminClientName,
		Secret:                  result.AdminClientSecret,
		GrantTypes:              oauth2.Arguments{string(oauth2.ClientCredentialsGrant)},
		Scope:                   scope,
		TokenEndpointAuthMethod: oauth2.ClientSecretBasic,
	}

	existing, err := s.clients.Get(ctx, id)
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		if _, err := s.clients.Create(ctx, desired); err != nil {
			return nil, err
		}
		log.Info().Str("client_id", id).Msg("created admin client")
		return result, nil
	case err != nil:
		return nil, err
	}

	if !result.SecretGenerated && existing.HasScope(scope) && clients.CompareSecret(existing.SecretHash, secret) {
		return result, nil
	}
	// Keep whatever the operator registered besides the admin scope.
	desired.RedirectURIs = existing.RedirectURIs
	desired.Audience = existing.Audience
	if !existing.HasScope(scope) {
		desired.Scope = existing.Scope + " " + scope
	} else {
		desired.Scope = existing.Scope
	}
	if _, err := s.clients.Update(ctx, id, desired); err != nil {
		return nil, err
	}
	log.Info().Str("client_id", id).Msg("updated admin client")
	return result, nil
}
