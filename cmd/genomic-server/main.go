package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/genomic/genomic/internal/config"
	"github.com/genomic/genomic/internal/domain/disease"
	"github.com/genomic/genomic/internal/domain/patient"
	"github.com/genomic/genomic/internal/platform/server"
	"github.com/genomic/genomic/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "genomic-server",
		Short:        "Patient record and genomic screening server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func serveCmd() *cobra.Command {
	var port, dataDir, diseaseDir, adminPort string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the TLS protocol server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if diseaseDir != "" {
				cfg.DiseaseDBDir = diseaseDir
			}
			if cmd.Flags().Changed("admin-port") {
				cfg.AdminPort = adminPort
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "protocol listener port (overrides PORT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "patient data directory (overrides DATA_DIR)")
	cmd.Flags().StringVar(&diseaseDir, "disease-db", "", "disease catalog directory (overrides DISEASE_DB_DIR)")
	cmd.Flags().StringVar(&adminPort, "admin-port", "", "admin HTTP port, empty disables it (overrides ADMIN_PORT)")
	return cmd
}

// app holds the wired components of a running server.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *telemetry.Provider
	catalog  *disease.Catalog
	patients *patient.Service
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "genomic-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})

	catalog, err := disease.LoadCatalog(cfg.DiseaseDBDir, logger)
	if err != nil {
		return nil, err
	}
	metrics.SetCatalogSize(catalog.Len())
	logger.Info().Int("diseases", catalog.Len()).Str("dir", cfg.DiseaseDBDir).Msg("disease catalog loaded")

	reporter := disease.NewReporter(cfg.ReportPath())
	screener := disease.NewScreener(catalog, reporter, cfg.MatchThreshold, logger).WithMetrics(metrics)

	repo, err := patient.NewCSVRepository(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	svc := patient.NewService(repo, screener, cfg.MaxFastaBytes, logger)
	metrics.SetPatients(svc.PatientCount(context.Background()))

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		catalog:  catalog,
		patients: svc,
	}, nil
}

func serverTLS(cfg *config.Config, logger zerolog.Logger) (*tls.Config, error) {
	if cfg.TLSCertFile != "" {
		return server.LoadTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
	}
	logger.Warn().Msg("no TLS_CERT_FILE configured, using an ephemeral self-signed certificate (development only)")
	tlsCfg, _, err := server.SelfSigned("localhost", "127.0.0.1")
	return tlsCfg, err
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise server")
		return err
	}

	tlsCfg, err := serverTLS(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load TLS configuration")
		return err
	}

	srv := server.New(server.Config{
		Addr:          cfg.ListenAddr(),
		TLS:           tlsCfg,
		MaxWorkers:    cfg.MaxWorkers,
		MaxFrameBytes: cfg.MaxFrameBytes,
		ReadTimeout:   cfg.ReadTimeout,
		Metrics:       a.metrics,
	}, server.NewDispatcher(a.patients), logger)
	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start server")
		return err
	}

	var admin *echo.Echo
	if cfg.AdminPort != "" {
		admin = newAdminServer(a)
		go func() {
			addr := ":" + cfg.AdminPort
			logger.Info().Str("addr", addr).Msg("starting admin server")
			if err := admin.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("admin server error")
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("admin server shutdown failed")
		}
	}
	if err := srv.Stop(); err != nil {
		logger.Warn().Err(err).Msg("listener close")
	}
	return nil
}
