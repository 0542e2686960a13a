package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"worker-transcribe/config"
	server2 "worker-transcribe/server"
)

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := server2.NewRepository(config)
			if err != nil {
				return err
			}
			if err := repo.AutoMigrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("schema migrated")
			return nil
		},
	}
}
