package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.pilab.hu/authz/config"
	"go.pilab.hu/authz/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the SQL schema and create the MongoDB indexes",
	Long: `Applies the embedded oauth_client_details migrations to SQL_DSN and, when a
MongoDB backend is configured, creates the indexes its repositories rely on.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		stores := newBackends(cfg, appLogger)
		defer stores.Close(ctx)

		sql, err := stores.sqlStore(ctx)
		if err != nil {
			return err
		}
		if err := sql.ApplyMigrations(); err != nil {
			return err
		}
		appLogger.Info(ctx, "SQL migrations applied", log.Fields{"driver": cfg.SQLDriver})

		if usesMongo(cfg) {
			// mongoDB ensures the indexes while connecting
			if _, err := stores.mongoDB(ctx); err != nil {
				return fmt.Errorf("mongodb indexes: %w", err)
			}
			appLogger.Info(ctx, "MongoDB indexes ensured", log.Fields{"db": cfg.MongoDBName})
		}

		return nil
	},
}

func usesMongo(cfg *config.ServerConfig) bool {
	return cfg.ClientRegistry == config.BackendMongo ||
		cfg.TokenStore == config.BackendMongo ||
		cfg.CodeStore == config.BackendMongo
}
