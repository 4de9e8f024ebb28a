package main

import (
	"github.com/rclone/rnbd/internal/server"
	"github.com/spf13/cobra"
)

func newServeVsockCmd() *cobra.Command {
	var g globalFlags
	var cf chainFlags
	var cid uint32
	var port uint16

	cmd := &cobra.Command{
		Use:   "vsock",
		Short: "Serve over VSOCK",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := server.Endpoint{Kind: server.TransportVSock, CID: cid, Port: port}
			spec := server.ListenSpec{
				Endpoint: ep,
				URI:      server.URIOptions{TLS: g.tlsCertFile != "", Export: g.exportName},
			}
			return runServer(cmd, &g, &cf, spec)
		},
	}
	addGlobalFlags(&g, &cf, cmd)
	cmd.Flags().Uint32Var(&cid, "cid", 0xFFFFFFFF, "VSOCK context id to listen on (VMADDR_CID_ANY by default)")
	cmd.Flags().Uint16Var(&port, "port", 10809, "VSOCK port to listen on")
	return cmd
}
