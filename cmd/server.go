package cmd

import (
	"github.com/spf13/cobra"
	"worker-transcribe/config"
	server2 "worker-transcribe/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, chunk consumer and sweeper",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
