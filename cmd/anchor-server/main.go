package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medrec/anchor/internal/config"
	"github.com/medrec/anchor/internal/domain/anchor"
	"github.com/medrec/anchor/internal/domain/audit"
	"github.com/medrec/anchor/internal/domain/consent"
	"github.com/medrec/anchor/internal/domain/identity"
	"github.com/medrec/anchor/internal/domain/keys"
	"github.com/medrec/anchor/internal/domain/records"
	"github.com/medrec/anchor/internal/platform/auth"
	"github.com/medrec/anchor/internal/platform/chain"
	"github.com/medrec/anchor/internal/platform/crypto"
	"github.com/medrec/anchor/internal/platform/db"
	"github.com/medrec/anchor/internal/platform/middleware"
	"github.com/medrec/anchor/internal/platform/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "anchor-server",
		Short: "Medical record sharing and hash anchoring API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(anchorCmd())
	rootCmd.AddCommand(keysCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the anchoring worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	tokenSecret := cfg.TokenSecret
	if tokenSecret == "" {
		// Dev only; Validate rejects an empty secret in production. Tokens do
		// not survive a restart with a generated secret.
		raw := make([]byte, 32)
		if _, err := crypto_rand.Read(raw); err != nil {
			logger.Fatal().Err(err).Msg("failed to generate dev token secret")
		}
		tokenSecret = hex.EncodeToString(raw)
		logger.Warn().Msg("TOKEN_SECRET not set, generated an ephemeral dev secret")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	tokens := auth.NewTokenIssuer([]byte(tokenSecret), cfg.TokenIssuer, cfg.TokenLifetime)

	svcs, err := buildServices(cfg, pool, tokens, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	// Anchoring worker
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	w := worker.New(svcs.anchor, worker.Config{
		Interval:  cfg.AnchorInterval,
		BatchSize: cfg.AnchorBatchSize,
	}, logger)
	go func() {
		if err := w.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("anchor worker stopped")
		}
	}()

	// API groups
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	identityHandler := identity.NewHandler(svcs.identity)
	identityHandler.RegisterPublicRoutes(apiV1)

	authed := apiV1.Group("", auth.Middleware(tokens))
	identityHandler.RegisterRoutes(authed)
	keys.NewHandler(svcs.keys).RegisterRoutes(authed)
	records.NewHandler(svcs.records).RegisterRoutes(authed)
	consent.NewHandler(svcs.consent).RegisterRoutes(authed)
	anchor.NewHandler(svcs.anchor, w.Wake).RegisterRoutes(authed)
	audit.NewHandler(audit.NewService(svcs.auditRepo)).RegisterRoutes(authed)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func anchorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Operate the hash anchoring queue",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the anchoring queue once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs, err := buildServices(cfg, pool, nil, logger)
			if err != nil {
				return err
			}

			totalAnchored, totalFailed := 0, 0
			for {
				if _, err := svcs.anchor.RequeueRetryable(ctx, cfg.AnchorBatchSize); err != nil {
					return err
				}
				anchored, failed, err := svcs.anchor.ProcessBatch(ctx, cfg.AnchorBatchSize)
				if err != nil {
					return err
				}
				if anchored+failed == 0 {
					break
				}
				totalAnchored += anchored
				totalFailed += failed
			}

			fmt.Printf("Anchored %d entr(ies), %d failed.\n", totalAnchored, totalFailed)
			return nil
		},
	}
	cmd.AddCommand(runCmd)

	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage user encryption keys",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Ensure a key pair exists for a user",
		Long: `Ensure a key pair exists for a user. When a new pair is generated its
private key is printed once and never retained by the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			userFlag, _ := cmd.Flags().GetString("user")
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("--user must be a valid UUID: %w", err)
			}

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs, err := buildServices(cfg, pool, nil, logger)
			if err != nil {
				return err
			}

			issued, err := svcs.keys.EnsureKeyPair(ctx, userID, userID)
			if err != nil {
				return err
			}

			fmt.Printf("Algorithm:  %s\n", issued.Algorithm)
			fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(issued.PublicKey))
			if issued.HasPrivateKey {
				fmt.Printf("Private key (save it now, it will not be shown again):\n%s\n",
					base64.StdEncoding.EncodeToString(issued.PrivateKey))
			} else {
				fmt.Println("An active key pair already exists; no private key to show.")
			}
			return nil
		},
	}
	issueCmd.Flags().String("user", "", "User UUID to issue keys for")
	_ = issueCmd.MarkFlagRequired("user")
	cmd.AddCommand(issueCmd)

	return cmd
}

// services bundles the wired domain layer shared by serve and the one-shot
// CLI subcommands.
type services struct {
	auditRepo audit.Repository
	anchor    *anchor.Service
	keys      *keys.Service
	identity  *identity.Service
	consent   *consent.Service
	records   *records.Service
}

// buildServices wires repositories, the chain client and the domain services.
// tokens may be nil for CLI paths that never issue sessions.
func buildServices(cfg *config.Config, pool *pgxpool.Pool, tokens *auth.TokenIssuer, logger zerolog.Logger) (*services, error) {
	auditRepo := audit.NewRepoPG(pool)
	keyRepo := keys.NewRepoPG(pool)
	profileRepo := identity.NewRepoPG(pool)
	recordRepo := records.NewRepoPG(pool)
	consentRepo := consent.NewRepoPG(pool)
	anchorRepo := anchor.NewRepoPG(pool)

	auditor := audit.NewLogger(auditRepo, logger)

	chainClient := chain.NewTestnetClient(chain.TestnetConfig{
		SuccessRate: cfg.ChainSuccessRate,
		MinLatency:  cfg.ChainMinLatency,
		MaxLatency:  cfg.ChainMaxLatency,
	}, logger)

	systemUser := uuid.Nil
	if cfg.AnchorSystemUser != "" {
		parsed, err := uuid.Parse(cfg.AnchorSystemUser)
		if err != nil {
			return nil, fmt.Errorf("ANCHOR_SYSTEM_USER is not a valid UUID: %w", err)
		}
		systemUser = parsed
	}

	// The queue back-propagates confirmed tx hashes through the router, which
	// dispatches on the entry's record type; the router's services are filled
	// in below once they exist, since they in turn enqueue through the anchor
	// service.
	txRouter := &anchorTxRouter{}
	anchorSvc := anchor.NewService(anchorRepo, chainClient, txRouter, auditor, logger, systemUser)

	keySvc := keys.NewService(keyRepo, auditor, crypto.Algorithm(cfg.KeyAlgorithm))
	identitySvc := identity.NewService(profileRepo, tokens, keySvc)
	consentSvc := consent.NewService(consentRepo, anchorSvc, auditor)
	recordSvc := records.NewService(recordRepo, keySvc, anchorSvc, auditor)
	txRouter.records = recordSvc
	txRouter.consents = consentSvc

	return &services{
		auditRepo: auditRepo,
		anchor:    anchorSvc,
		keys:      keySvc,
		identity:  identitySvc,
		consent:   consentSvc,
		records:   recordSvc,
	}, nil
}

// anchorTxRouter dispatches confirmed-transaction callbacks from the anchor
// queue to the domain service owning the anchored row.
type anchorTxRouter struct {
	records  *records.Service
	consents *consent.Service
}

func (r *anchorTxRouter) RecordAnchorTx(ctx context.Context, recordType string, refID uuid.UUID, txHash string) error {
	switch recordType {
	case anchor.RecordTypeMedicalRecord:
		if r.records == nil {
			return fmt.Errorf("no record service wired for %q", recordType)
		}
		return r.records.RecordAnchorTx(ctx, recordType, refID, txHash)
	case anchor.RecordTypeConsent, anchor.RecordTypeRevocation:
		if r.consents == nil {
			return fmt.Errorf("no consent service wired for %q", recordType)
		}
		return r.consents.RecordAnchorTx(ctx, recordType, refID, txHash)
	default:
		return fmt.Errorf("unknown anchor record type %q", recordType)
	}
}
