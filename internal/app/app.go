package app

import (
	"fmt"
	"strings"
	"time"

	"storerate/internal/metrics"
	"storerate/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	SessionTTL          time.Duration
	JWTSecret           string
	JWTPrivateKeyPath   string
	JWTPublicKeyPath    string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration

	Store    store.Store
	Sessions store.SessionStore
	Revoker  store.TokenRevoker
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// App is the application core wiring storage, sessions and the domain rules.
type App struct {
	store    store.Store
	sessions store.SessionStore
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New constructs the application, opening Postgres and the JWT session store
// unless they are injected.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = store.DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		revoker := cfg.Revoker
		if revoker == nil {
			if strings.TrimSpace(cfg.RedisAddr) != "" {
				revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
			} else {
				revoker = store.NewMemoryTokenRevoker()
			}
		}
		var err error
		sessionStore, err = newSessionStore(cfg, revoker)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		store:    dataStore,
		sessions: sessionStore,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}, nil
}

func newSessionStore(cfg Config, revoker store.TokenRevoker) (store.SessionStore, error) {
	opts := store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeeway,
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) != "" {
		rs, err := store.NewJWTRS256SessionStoreFromPEM(
			cfg.JWTPrivateKeyPath,
			cfg.JWTPublicKeyPath,
			cfg.JWTKeyID,
			cfg.JWTVerifyPublicKeys,
			cfg.SessionTTL,
			revoker,
			opts,
		)
		if err != nil {
			return nil, fmt.Errorf("init rs256 jwt session store: %w", err)
		}
		return rs, nil
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("jwtSecret or jwtPrivateKeyPath is required")
	}
	hs, err := store.NewJWTHS256SessionStore(cfg.JWTSecret, cfg.SessionTTL, revoker, opts)
	if err != nil {
		return nil, fmt.Errorf("init hs256 jwt session store: %w", err)
	}
	return hs, nil
}

// JWKS returns public signing keys when the session store publishes them.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.sessions.(store.JWKSProvider)
	if !ok {
		return nil
	}
	return provider.JWKS()
}
