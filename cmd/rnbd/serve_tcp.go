package main

import (
	"github.com/rclone/rnbd/internal/server"
	"github.com/spf13/cobra"
)

func newServeTCPCmd() *cobra.Command {
	var g globalFlags
	var cf chainFlags
	var host string
	var port uint16

	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "Serve over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := server.Endpoint{Kind: server.TransportTCP, Host: host, Port: port}
			spec := server.ListenSpec{
				Endpoint: ep,
				URI:      server.URIOptions{TLS: g.tlsCertFile != "", Export: g.exportName},
			}
			return runServer(cmd, &g, &cf, spec)
		},
	}
	addGlobalFlags(&g, &cf, cmd)
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to listen on")
	cmd.Flags().Uint16Var(&port, "port", 10809, "TCP port to listen on")
	return cmd
}
