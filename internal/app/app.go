// Package app wires the core together: stores, services, and the enforcer
// are constructed once and passed by reference, never rebuilt per call.
package app

import (
	"context"
	"fmt"

	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/database"
	"github.com/opsgate/opsgate/internal/directory"
	"github.com/opsgate/opsgate/internal/enforcer"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/mfa"
	"github.com/opsgate/opsgate/internal/permission"
	"github.com/opsgate/opsgate/internal/secrets"
	"github.com/opsgate/opsgate/internal/store"
	pgstore "github.com/opsgate/opsgate/internal/store/postgres"
	"github.com/opsgate/opsgate/internal/token"
)

// App is the wired authorization core.
type App struct {
	Cfg      *config.Config
	Log      *logger.Logger
	Users    *directory.Directory
	Matrix   *permission.Matrix
	Secrets  *secrets.Service
	Tokens   *token.Service
	Trail    *audit.Trail
	Enforcer *enforcer.Enforcer
	Verifier mfa.Verifier
	// TOTP is non-nil when the TOTP provider is configured; it adds the
	// enrollment surface on top of the Verifier contract.
	TOTP *mfa.TOTPVerifier

	closers []func() error
}

// Wire constructs the full core from configuration. SecretStore
// initialization is the only external wait besides store connections.
func Wire(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	var userStore store.UserStore
	var auditStore store.AuditStore
	var secretStore store.SecretStore

	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		userStore = pgstore.NewUserStore(db)
		auditStore = pgstore.NewAuditStore(db)
		secretStore = pgstore.NewSecretStore(db)
	case "memory":
		userStore = store.NewMemoryUserStore()
		auditStore = store.NewMemoryAuditStore()
		secretStore = store.NewMemorySecretStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	var revocations store.RevocationStore
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		revocations = token.NewRedisRevocations(rdb)
	} else {
		revocations = store.NewMemoryRevocationStore()
	}

	a.Secrets = secrets.NewService(secretStore, cfg.Security.SigningSecretKey, log)
	if err := a.Secrets.Initialize(ctx, cfg.Security.SigningSecretBootstrap); err != nil {
		return nil, fmt.Errorf("failed to initialize secret store: %w", err)
	}

	a.Users = directory.New(userStore, cfg.Security.Lockout, log)
	if _, err := a.Users.EnsureDefaultAdmin(ctx, cfg.Security.DefaultAdminName); err != nil {
		return nil, fmt.Errorf("failed to bootstrap default admin: %w", err)
	}

	a.Matrix = permission.Default()
	a.Trail = audit.NewTrail(auditStore, log)
	a.Tokens = token.NewService(cfg.Security.Tokens, a.Secrets, a.Users, a.Matrix, revocations, log)

	switch cfg.MFA.Provider {
	case "totp":
		a.TOTP = mfa.NewTOTPVerifier(cfg.MFA, secretStore)
		a.Verifier = a.TOTP
	case "static":
		a.Verifier = mfa.NewStaticVerifier(nil)
	default:
		return nil, fmt.Errorf("unknown MFA provider %q", cfg.MFA.Provider)
	}

	a.Enforcer = enforcer.New(a.Users, a.Matrix, a.Tokens, a.Verifier, a.Trail, cfg.Security, cfg.MFA, log)
	return a, nil
}

// Close releases external connections.
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
