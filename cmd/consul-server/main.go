package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meerkat/consul/internal/config"
	"github.com/meerkat/consul/internal/dhis2"
	"github.com/meerkat/consul/internal/domain/export"
	"github.com/meerkat/consul/internal/domain/forms"
	"github.com/meerkat/consul/internal/domain/locations"
	"github.com/meerkat/consul/internal/meerkat"
	"github.com/meerkat/consul/internal/platform/auth"
	"github.com/meerkat/consul/internal/platform/dispatch"
	"github.com/meerkat/consul/internal/platform/middleware"
	"github.com/meerkat/consul/internal/platform/transport"
)

const serviceName = "meerkat_consul"

func main() {
	rootCmd := &cobra.Command{
		Use:   "consul-server",
		Short: "Meerkat to DHIS2 synchronization service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the synchronization API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot synchronization and exit",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "locations",
		Short: "Mirror the Meerkat location tree into DHIS2 organisation units",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.pool.Close()
			res, err := app.locations.SyncTree(context.Background())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(res)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forms",
		Short: "Mirror configured form schemas into DHIS2 metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.pool.Close()
			results, err := app.forms.SyncAll(context.Background())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(results)
		},
	})

	return cmd
}

// app holds the wired service graph shared by the server and the
// one-shot commands.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	pool      *dispatch.Pool
	locations *locations.Service
	forms     *forms.Service
	export    *export.Service
}

func newApp() (*app, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return nil, err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	tr := transport.New(logger)

	var headers auth.HeaderProvider = auth.StaticHeaders{}
	if cfg.MeerkatAuthURL != "" {
		headers = auth.NewTokenProvider(cfg.MeerkatAuthURL, cfg.MeerkatAuthUsername, cfg.MeerkatAuthPassword, tr, logger)
	}
	catalogue := meerkat.NewClient(cfg.MeerkatAPIURL, headers, tr, logger)

	dhis := dhis2.NewClient(cfg.DHIS2URL, cfg.DHIS2APIResource, cfg.DHIS2Username, cfg.DHIS2Password, tr, logger)
	registry := dhis2.NewRegistry(dhis, logger)
	uids := dhis2.NewUIDProvider(dhis, cfg.UIDBatchSize, logger)
	pool := dispatch.NewPool(cfg.ExportWorkers, cfg.ExportQueueSize, logger)

	formList := make([]forms.Form, 0, len(cfg.FormExports))
	for _, fe := range cfg.FormExports {
		class, err := dhis2.ParseExportClass(fe.Class)
		if err != nil {
			return nil, err
		}
		formList = append(formList, forms.Form{Name: fe.Name, Class: class})
	}

	locSvc := locations.NewService(catalogue, dhis, registry, uids, cfg.CountryLocationID, logger)
	formSvc := forms.NewService(catalogue, dhis, registry, uids, formList, logger)
	expSvc := export.NewService(formSvc, catalogue, dhis, registry, pool, logger)

	return &app{
		cfg:       cfg,
		log:       logger,
		pool:      pool,
		locations: locSvc,
		forms:     formSvc,
		export:    expSvc,
	}, nil
}

func runServer() error {
	app, err := newApp()
	if err != nil {
		return err
	}
	logger := app.log

	go app.pool.LogResults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"name": serviceName})
	})

	root := e.Group("")
	locations.NewHandler(app.locations).RegisterRoutes(root)
	forms.NewHandler(app.forms).RegisterRoutes(root)
	export.NewHandler(app.export).RegisterRoutes(root)

	// Graceful shutdown
	go func() {
		addr := ":" + app.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	app.pool.Close()
	logger.Info().Msg("server stopped")
	return nil
}
