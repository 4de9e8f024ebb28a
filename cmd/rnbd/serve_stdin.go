package main

import (
	"github.com/rclone/rnbd/internal/server"
	"github.com/spf13/cobra"
)

func newServeStdinCmd() *cobra.Command {
	var g globalFlags
	var cf chainFlags

	cmd := &cobra.Command{
		Use:   "stdin",
		Short: "Serve over an inherited socket on standard input",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := server.Endpoint{Kind: server.TransportStdin}
			spec := server.ListenSpec{
				Endpoint: ep,
				URI:      server.URIOptions{Export: g.exportName},
			}
			return runServer(cmd, &g, &cf, spec)
		},
	}
	addGlobalFlags(&g, &cf, cmd)
	return cmd
}
