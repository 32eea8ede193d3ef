package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/nadmax/forecastd/internal/account"
	"github.com/nadmax/forecastd/internal/api"
	"github.com/nadmax/forecastd/internal/artifact"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/catalog"
	"github.com/nadmax/forecastd/internal/config"
	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/engine"
	"github.com/nadmax/forecastd/internal/lifecycle"
	"github.com/nadmax/forecastd/internal/notify"
	"github.com/nadmax/forecastd/internal/ratelimit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) (err error) {
	cfg, log, store, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var closers []func() error
	defer func() {
		var result *multierror.Error
		if err != nil {
			result = multierror.Append(result, err)
		}
		for _, c := range closers {
			if cerr := c(); cerr != nil {
				result = multierror.Append(result, cerr)
			}
		}
		if cerr := store.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}
		err = result.ErrorOrNil()
	}()

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.TokenTTL())

	accountOpts := []account.Option{account.WithLogger(log)}
	if cfg.Redis.Enabled {
		limiter, err := ratelimit.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginWindow, log)
		if err != nil {
			return err
		}
		closers = append(closers, limiter.Close)
		accountOpts = append(accountOpts, account.WithLimiter(limiter))
	}
	accounts := account.NewService(store, tokens, auth.NewHasher(cfg.Auth.BcryptCost), accountOpts...)

	managerOpts := []lifecycle.Option{lifecycle.WithLogger(log)}
	if cfg.NotifyEnabled() {
		managerOpts = append(managerOpts, lifecycle.WithNotifier(
			notify.NewSendGrid(cfg.Notify.SendGridAPIKey, cfg.Notify.FromName, cfg.Notify.FromAddress, log),
		))
	}
	manager := lifecycle.NewManager(
		store,
		engine.NewRegistry(engine.NewSynthetic(cfg.Engine.Delay, uint64(time.Now().UnixNano()))),
		artifact.NewStore(cfg.Storage.ResultDir),
		datafile.NewStore(cfg.Storage.UploadDir),
		managerOpts...,
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewAPI(api.Deps{
		Store:    store,
		Tokens:   tokens,
		Accounts: accounts,
		Catalog:  catalog.NewService(store, datafile.NewStore(cfg.Storage.DatasetDir), catalog.WithLogger(log)),
		Tasks:    manager,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("database", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		newStatsCollector(store, cfg.Server.StatsInterval, log).Run(gCtx)
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		return shutdown(srv, cfg, log)
	})

	return g.Wait()
}

func shutdown(srv *http.Server, cfg *config.Config, log *zap.Logger) error {
	log.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
