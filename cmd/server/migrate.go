package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"livraison/internal/commons"
	"livraison/internal/infrastructure/logger"
	"livraison/internal/infrastructure/migrations"
	"livraison/internal/infrastructure/mysql"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|status|redo|version> [args]",
	Short:     "Run database migrations",
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"up", "down", "status", "redo", "version", "up-to", "down-to"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commons.LoadConfig(configPath)
		if err != nil {
			return err
		}
		zapLogger, err := logger.New(cfg.Log)
		if err != nil {
			return err
		}
		defer zapLogger.Sync()

		ctx := cmd.Context()
		db, err := mysql.NewConnection(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.Run(ctx, db, args[0], args[1:]...); err != nil {
			return err
		}
		zapLogger.Info("migration finished", zap.String("command", args[0]))
		return nil
	},
}
