package main

import (
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"storerate/internal/app"
	"storerate/internal/config"
	"storerate/internal/metrics"
	"storerate/internal/ratelimit"
	"storerate/internal/server"
	"storerate/internal/util"
	"storerate/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse jwt verify keys: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	m := metrics.New()

	var dataStore store.Store
	if cfg.Storage == config.StorageMemory {
		slog.Warn("using in-memory storage; data is lost on restart")
		dataStore = store.NewMemoryStore()
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		SessionTTL:          sessionTTL,
		JWTSecret:           cfg.JWTSecret,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:    cfg.JWTPublicKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: verifyKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           leeway,
		Store:               dataStore,
		Metrics:             m,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	newLimiter := func(name string, perMinute int) ratelimit.Limiter {
		if perMinute <= 0 {
			return nil
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			limiter, err := ratelimit.NewLocalLimiter(perMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init %s limiter: %v", name, err)
			}
			return limiter
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "storerate:ratelimit:"+name, perMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init %s limiter: %v", name, err)
		}
		return limiter
	}

	httpServer := server.New(server.Config{
		App:                appCore,
		Metrics:            m,
		SignupLimiter:      newLimiter("signup", cfg.SignupRateLimitPerMinute),
		LoginLimiter:       newLimiter("login", cfg.LoginRateLimitPerMinute),
		PasswordLimiter:    newLimiter("password", cfg.PasswordRateLimitPerMinute),
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("storerate api listening", "addr", addr, "storage", cfg.Storage)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
