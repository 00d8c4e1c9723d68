package main

import (
	"errors"
	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"storerate/internal/app"
	"storerate/internal/config"
	"storerate/internal/util"
	"storerate/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage != config.StoragePostgres {
		log.Fatalf("seed requires postgres storage, got %q", cfg.Storage)
	}
	util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:             dataStore,
		JWTSecret:         cfg.JWTSecret,
		JWTPrivateKeyPath: cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:  cfg.JWTPublicKeyPath,
		JWTKeyID:          cfg.JWTKeyID,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if err := ensureAccount(appCore, app.NewAccountInput{
		Name:     "Administrator Account",
		Email:    "admin@roxiler.com",
		Address:  "Admin Block, Pune",
		Password: "Admin@123",
		Role:     "ADMIN",
	}); err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	if err := ensureAccount(appCore, app.NewAccountInput{
		Name:     "Primary Store Owner",
		Email:    "owner@shop.com",
		Address:  "MG Road, Pune",
		Password: "Owner@123",
		Role:     "OWNER",
	}); err != nil {
		log.Fatalf("seed owner: %v", err)
	}
	owner, ok, err := dataStore.GetAccountByEmail("owner@shop.com")
	if err != nil || !ok {
		log.Fatalf("lookup seeded owner: ok=%v err=%v", ok, err)
	}
	_, err = appCore.CreateStore(app.NewStoreInput{
		Name:    "Blue Mart",
		Email:   "blue@mart.com",
		Address: "City Center, Pune",
		OwnerID: owner.ID,
	})
	switch {
	case errors.Is(err, app.ErrStoreEmailInUse):
		slog.Info("seed store exists", "email", "blue@mart.com")
	case err != nil:
		log.Fatalf("seed store: %v", err)
	default:
		slog.Info("seed store created", "email", "blue@mart.com")
	}
	slog.Info("seed data inserted")
}

func ensureAccount(a *app.App, in app.NewAccountInput) error {
	_, err := a.CreateAccount(in)
	if errors.Is(err, app.ErrEmailInUse) {
		slog.Info("seed account exists", "email", in.Email)
		return nil
	}
	if err == nil {
		slog.Info("seed account created", "email", in.Email, "role", in.Role)
	}
	return err
}
