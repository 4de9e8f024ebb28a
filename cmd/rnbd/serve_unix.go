package main

import (
	"github.com/rclone/rnbd/internal/server"
	"github.com/spf13/cobra"
)

func newServeUnixCmd() *cobra.Command {
	var g globalFlags
	var cf chainFlags
	var socketPath string

	cmd := &cobra.Command{
		Use:   "unix",
		Short: "Serve over a Unix domain socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := server.Endpoint{Kind: server.TransportUnix, Path: socketPath}
			spec := server.ListenSpec{
				Endpoint: ep,
				URI:      server.URIOptions{TLS: g.tlsCertFile != "", Export: g.exportName},
			}
			return runServer(cmd, &g, &cf, spec)
		},
	}
	addGlobalFlags(&g, &cf, cmd)
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix domain socket path to listen on (required)")
	return cmd
}
