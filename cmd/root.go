package cmd

import (
	"github.com/spf13/cobra"
	"worker-transcribe/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worker-transcribe",
		Short: "chunked audio transcription pipeline",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	return rootCmd
}
