package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
	"lumen.studio/internal/config"
	"lumen.studio/internal/datastore"
	"lumen.studio/internal/eligibility"
	"lumen.studio/internal/httpapi"
	"lumen.studio/internal/obs"
	"lumen.studio/internal/studio"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lumen-gateway:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:           "lumen-gateway",
		Short:         fmt.Sprintf("Lumen authorization gateway (version: %s, commit: %s)", version, commit),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfig(v, configFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML config file (default is ./lumen.yaml when present)")
	flags.String("addr", ":8080", "HTTP listen address")
	_ = v.BindPFlag("http.addr", flags.Lookup("addr"))
	flags.String("dsn", "", "PostgreSQL DSN")
	_ = v.BindPFlag("store.dsn", flags.Lookup("dsn"))
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	flags.String("log-format", "json", "Log format (json, console)")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	return cmd
}

func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("lumen")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := obs.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	zerolog.DefaultContextLogger = &log
	obs.Init()
	obs.InitBuildInfo(version, commit)

	db, err := datastore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	factory, err := datastore.NewFactory(db, cfg.Store)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(parent, cfg.Auth)
	if err != nil {
		return err
	}
	resolver, err := auth.NewResolver(cfg.Auth, verifier, factory, log)
	if err != nil {
		return err
	}
	if !cfg.ServiceCredentialsEnabled() {
		log.Warn().Msg("service key not configured, service credentials disabled")
	}

	recorder := audit.NewRecorder(factory, log)
	calc := eligibility.NewCalculator(cfg.Eligibility.Jurisdictions...)
	svc := studio.NewService(factory, calc, recorder, log)

	api := httpapi.New(httpapi.Options{
		Resolver:      resolver,
		Studio:        svc,
		Recorder:      recorder,
		Events:        factory,
		Ready:         httpapi.ReadyProbe{Store: factory},
		Logger:        log,
		Version:       version,
		ServiceHeader: cfg.Auth.ServiceKeyHeader,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		RateBurst:     cfg.HTTP.RateBurst,
		RatePerSecond: cfg.HTTP.RatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).
			Strs("jurisdictions", cfg.Eligibility.Jurisdictions).Msg("starting lumen gateway")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}
