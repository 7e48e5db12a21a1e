package server

import (
	"context"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/clients/memrepo"
	"github.com/jrsteele09/go-consent-server/consent"
	consentmem "github.com/jrsteele09/go-consent-server/consent/memstore"
	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/jrsteele09/go-consent-server/jwk"
	jwkmem "github.com/jrsteele09/go-consent-server/jwk/memstore"
	redisstore "github.com/jrsteele09/go-consent-server/persistence/redis"
	"github.com/jrsteele09/go-consent-server/persistence/sqlite"
	"github.com/jrsteele09/go-consent-server/token"
	tokenmem "github.com/jrsteele09/go-consent-server/token/memstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Dependencies are the managers a Server is built from, plus what it takes
// to release their backing stores.
type Dependencies struct {
	Clients     *clients.Manager
	Consent     *consent.Manager
	Tokens      *token.Manager
	Keys        *jwk.Manager
	Metrics     *Metrics
	ReadyChecks map[string]ReadyCheck

	closers []func() error
}

// Close releases the backing stores in reverse order of opening.
func (d *Dependencies) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}

// NewDependencies picks the stores from the configuration: SQLite for clients
// and keys when DATABASE_DSN is set, Redis for flow and token state when
// REDIS_ADDR is set, memory otherwise.
func NewDependencies(ctx context.Context, cfg config.Config) (*Dependencies, error) {
	deps := &Dependencies{
		Metrics:     NewMetrics(cfg.GetVersion()),
		ReadyChecks: map[string]ReadyCheck{},
	}

	var (
		clientRepo clients.Repo            = memrepo.New()
		keyStore   jwk.Store               = jwkmem.New()
		flowStore  consent.Store           = consentmem.New()
		tokenStore token.Store             = tokenmem.New()
		revoked    token.RevokedTokenCache = token.NewInMemoryRevokedTokenCache()
	)

	if dsn := cfg.GetDatabaseDSN(); dsn != "" {
		db, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, errors.Wrap(err, "[NewDependencies] open sqlite")
		}
		deps.closers = append(deps.closers, db.Close)
		deps.ReadyChecks["sqlite"] = db.Ping
		clientRepo = sqlite.NewClientRepo(db)
		keyStore = sqlite.NewKeyStore(db)
		log.Info().Msg("clients and keys are stored in sqlite")
	}

	if addr := cfg.GetRedisAddr(); addr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:      addr,
			Password:  cfg.GetRedisPassword(),
			DB:        cfg.GetRedisDB(),
			KeyPrefix: cfg.GetRedisKeyPrefix(),
		})
		if err != nil {
			_ = deps.Close()
			return nil, errors.Wrap(err, "[NewDependencies] connect redis")
		}
		deps.closers = append(deps.closers, client.Close)
		deps.ReadyChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		prefix := cfg.GetRedisKeyPrefix()
		flowStore = redisstore.NewConsentStore(client, prefix)
		tokenStore = redisstore.NewTokenStore(client, prefix)
		revoked = redisstore.NewRevokedTokenCache(client, prefix)
		log.Info().Str("addr", addr).Msg("flow and token state is stored in redis")
	}

	deps.Clients = clients.NewManager(clientRepo)
	deps.Keys = jwk.NewManager(keyStore)
	deps.Consent = consent.NewManager(flowStore, cfg.GetBaseURL()+RouteOAuth2Logout,
		consent.WithFlowTTL(cfg.GetFlowTimeout()),
		consent.WithSessionTTL(cfg.GetMaxSessionAge()),
		consent.WithObserver(deps.Metrics.ObserveChallenge),
	)
	deps.Tokens = token.New(tokenStore,
		deps.Keys.Signer(jwk.AccessTokenSet, cfg.GetAccessTokenAlgorithm()),
		deps.Keys.Signer(jwk.IDTokenSet, cfg.GetIDTokenAlgorithm()),
		token.WithIssuer(cfg.GetBaseURL()),
		token.WithTokenExpiry(cfg.GetDefaultAccessTokenExpiry(), cfg.GetDefaultIDTokenExpiry(), cfg.GetDefaultRefreshTokenExpiry()),
		token.WithAuthCodeExpiry(cfg.GetAuthCodeTimeout()),
		token.WithRevokedTokenCache(revoked),
		token.WithRefreshTokenRotation(cfg.GetRotateRefreshTokens()),
	)
	return deps, nil
}
