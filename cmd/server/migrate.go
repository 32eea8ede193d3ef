package main

import (
	"github.com/nadmax/forecastd/internal/account"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema and seed the admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, log, store, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		defer func() { _ = store.Close() }()

		if err := store.Migrate(ctx); err != nil {
			return err
		}

		if cfg.Admin.Username == "" {
			log.Info("no admin account configured, skipping seed")
			return nil
		}

		tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.TokenTTL())
		accounts := account.NewService(store, tokens, auth.NewHasher(cfg.Auth.BcryptCost), account.WithLogger(log))
		created, err := accounts.EnsureAdmin(ctx, account.RegisterInput{
			Username: cfg.Admin.Username,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		})
		if err != nil {
			return err
		}
		log.Info("admin account checked", zap.String("username", cfg.Admin.Username), zap.Bool("created", created))
		return nil
	},
}
