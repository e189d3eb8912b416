package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kisanmandi/pkg/config"
	"kisanmandi/pkg/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dbCfg := cfg.Database
			dbCfg.ApplySchemaOnStart = false

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.Connect(ctx, dbCfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.ApplySchema(ctx, pool, dbCfg.SchemaPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied from %s\n", dbCfg.SchemaPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}
