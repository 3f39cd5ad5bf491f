package main

import (
	"context"
	"log"

	"credvault/internal/config"
	"credvault/internal/infra/db"
	httpinfra "credvault/internal/infra/http"
	"credvault/internal/infra/policyopa"
	"credvault/internal/usecase"

	"go.uber.org/zap"
)

func main() {
	cfg := config.FromEnv()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.MasterSecret == "" {
		log.Fatalf("VAULT_MASTER_SECRET is required")
	}

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	credRepo := db.NewCredentialRepository(store.DB)
	auditRepo := db.NewAuditLogRepository(store.DB)

	enc, err := usecase.NewEncryptionService(cfg.MasterSecret, nil)
	if err != nil {
		log.Fatalf("failed to init encryption: %v", err)
	}

	var policy usecase.PolicyEngine
	if cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromPath(context.Background(), cfg.PolicyBundlePath, cfg.PolicyBundleID)
		if err != nil {
			log.Fatalf("failed to load policy bundle: %v", err)
		}
		policy = engine
		logger.Info("policy bundle loaded", zap.String("bundle_id", cfg.PolicyBundleID))
	}

	access := usecase.NewAccessControlService(policy, nil)
	audit := usecase.NewAuditLogger(auditRepo, nil, logger, cfg.AuditQueueSize)
	defer audit.Close()

	vault := usecase.NewVaultService(credRepo, enc, access, audit, nil, logger)
	sweep := usecase.NewReencryptionSweep(credRepo, enc, nil, logger)

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Store:      store,
		Vault:      vault,
		Encryption: enc,
		Audit:      audit,
		Sweep:      sweep,
	})

	logger.Info("vaultd listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err == nil {
		cfg.Level = parsed
	}
	return cfg.Build()
}
