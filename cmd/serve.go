package cmd

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/jmorganca/speedtest/envconfig"
	"github.com/jmorganca/speedtest/server"
)

func RunServer(cmd *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	return server.Serve(cmd.Context(), ln)
}
