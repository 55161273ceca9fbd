package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/config"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/domain/identifiersystem"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/domain/medicationrequest"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/auth"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/db"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/middleware"
	"github.com/icrc-loliveira/openmrs-module-fhir2/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fhir2-server",
		Short:        "OpenMRS FHIR2 R4 API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(identifierSystemCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// setup loads and validates configuration and opens the pool shared by every
// command.
func setup(ctx context.Context) (*config.Config, *pgxpool.Pool, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg, os.Stdout)

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:          cfg.DatabaseURL,
		MaxConns:     cfg.DBMaxConns,
		MinConns:     cfg.DBMinConns,
		TraceQueries: cfg.DBTraceQueries,
	}, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return cfg, pool, logger, nil
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, logger, err := setup(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer pool.Close()

	e, err := newServer(cfg, pool, logger)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader},
		ExposeHeaders: []string{echo.HeaderLocation, "ETag", echo.HeaderLastModified, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	capabilities := fhir.NewCapabilityRegistry(cfg.FHIRBaseURL)

	// Unauthenticated endpoints.
	e.GET("/health", db.HealthHandler(pool))
	e.GET("/fhir/metadata", capabilities.Handler)

	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	protected := []echo.MiddlewareFunc{
		authMW,
		rateLimit,
		db.TenantMiddleware(pool, cfg.DBSchema, cfg.DefaultTenant),
		middleware.Audit(logger),
	}
	apiV1 := e.Group("/api/v1", protected...)
	fhirGroup := e.Group("/fhir", protected...)

	mrService := medicationrequest.NewService(medicationrequest.NewDaoPG(pool), logger)
	mrHandler := medicationrequest.NewHandler(
		medicationrequest.NewResourceProvider(mrService),
		cfg.FHIRBaseURL+"/"+medicationrequest.ResourceType,
	)
	mrHandler.RegisterRoutes(fhirGroup)
	capabilities.Register(mrHandler.Capability())

	isService := identifiersystem.NewService(identifiersystem.NewDaoPG(pool))
	identifiersystem.NewHandler(isService).RegisterRoutes(apiV1)

	return e, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthPublicKeyFile == "" {
		return auth.DevAuthMiddleware(), nil
	}
	pub, err := cfg.PublicKey()
	if err != nil {
		return nil, err
	}
	jwtCfg := auth.JWTConfig{
		Issuer:    cfg.AuthIssuer,
		Audience:  cfg.AuthAudience,
		PublicKey: pub,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg), nil
}

func migrationFiles(cfg *config.Config, dir string) fs.FS {
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			cfg, pool, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if schema == "" {
				schema = cfg.DBSchema
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationFiles(cfg, dir), schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			cfg, pool, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if schema == "" {
				schema = cfg.DBSchema
			}
			statuses, err := db.NewMigrator(pool, migrationFiles(cfg, dir), schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(out io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func identifierSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identifier-system",
		Short: "Manage the identifier system URL of patient identifier types",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the identifier system URL of a patient identifier type",
		RunE: func(cmd *cobra.Command, args []string) error {
			typeID, _ := cmd.Flags().GetString("type")
			return withIdentifierSystems(cmd, func(ctx context.Context, svc *identifiersystem.Service) error {
				t, err := svc.GetPatientIdentifierType(ctx, typeID)
				if err != nil {
					return err
				}
				u, err := svc.GetURLByPatientIdentifierType(ctx, t)
				if err != nil {
					return err
				}
				if u == "" {
					return fmt.Errorf("no identifier system configured for %s", t.FHIRID)
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	getCmd.Flags().String("type", "", "Patient identifier type uuid")
	_ = getCmd.MarkFlagRequired("type")
	cmd.AddCommand(getCmd)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set the identifier system URL of a patient identifier type",
		RunE: func(cmd *cobra.Command, args []string) error {
			typeID, _ := cmd.Flags().GetString("type")
			rawURL, _ := cmd.Flags().GetString("url")
			return withIdentifierSystems(cmd, func(ctx context.Context, svc *identifiersystem.Service) error {
				t, err := svc.GetPatientIdentifierType(ctx, typeID)
				if err != nil {
					return err
				}
				if err := svc.SetURLForPatientIdentifierType(ctx, t, rawURL); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", t.FHIRID, rawURL)
				return nil
			})
		},
	}
	setCmd.Flags().String("type", "", "Patient identifier type uuid")
	setCmd.Flags().String("url", "", "Identifier system URL")
	_ = setCmd.MarkFlagRequired("type")
	_ = setCmd.MarkFlagRequired("url")
	cmd.AddCommand(setCmd)

	cmd.PersistentFlags().String("tenant", "", "Tenant whose schema to use (defaults to DEFAULT_TENANT)")
	return cmd
}

// withIdentifierSystems runs fn in a transaction whose search_path points at
// the tenant schema, the same way requests are scoped.
func withIdentifierSystems(cmd *cobra.Command, fn func(context.Context, *identifiersystem.Service) error) error {
	ctx := cmd.Context()
	cfg, pool, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	schema := db.SchemaFor(tenant, cfg.DBSchema)
	svc := identifiersystem.NewService(identifiersystem.NewDaoPG(pool))

	return db.WithTx(ctx, pool, func(ctx context.Context) error {
		if _, err := db.TxFromContext(ctx).Exec(ctx,
			fmt.Sprintf("SET LOCAL search_path TO %s, public", pgx.Identifier{schema}.Sanitize())); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		return fn(ctx, svc)
	})
}
