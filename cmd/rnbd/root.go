package main

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/metrics"
	"github.com/rclone/rnbd/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalFlags holds the flags common to every serve subcommand: export
// naming, TLS, the connection watchdog, and log verbosity.
type globalFlags struct {
	exportName        string
	connectionTimeout time.Duration
	logLevel          string

	tlsCertFile string
	tlsKeyFile  string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rnbd",
		Short:         "Serve a file or block device over the NBD protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start an NBD server on one transport",
	}
	serve.AddCommand(newServeTCPCmd())
	serve.AddCommand(newServeUnixCmd())
	serve.AddCommand(newServeVsockCmd())
	serve.AddCommand(newServeStdinCmd())
	return serve
}

func addGlobalFlags(g *globalFlags, cf *chainFlags, cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&g.exportName, "export-name", "default", "name clients request to reach this export")
	fs.DurationVar(&g.connectionTimeout, "connection-timeout", 0, "per-connection watchdog timeout (0 disables)")
	fs.StringVar(&g.logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	fs.StringVar(&g.tlsCertFile, "tls-cert", "", "TLS certificate file; enables NBD_OPT_STARTTLS")
	fs.StringVar(&g.tlsKeyFile, "tls-key", "", "TLS private key file, paired with --tls-cert")
	addChainFlags(cf, fs)
}

func buildLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("rnbd: %w", err)
	}
	log := logrus.New()
	log.SetLevel(lvl)
	return log, nil
}

func buildTLSConfig(g *globalFlags) (*tls.Config, error) {
	if g.tlsCertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(g.tlsCertFile, g.tlsKeyFile)
	if err != nil {
		return nil, fmt.Errorf("rnbd: loading TLS certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// runServer is the common tail of every serve subcommand: build the chain,
// wrap it in an ExportSet, build the server Config, and run it until the
// command's context is cancelled.
func runServer(cmd *cobra.Command, g *globalFlags, cf *chainFlags, specs ...server.ListenSpec) error {
	ctx := cmd.Context()

	log, err := buildLogger(g.logLevel)
	if err != nil {
		return err
	}

	var reg *metrics.Registry
	var registerer prometheus.Registerer
	if cf.metrics {
		promReg := prometheus.NewRegistry()
		registerer = promReg
		reg = metrics.NewRegistry(promReg)
	}

	ch, err := buildChain(ctx, cf, registerer)
	if err != nil {
		return err
	}

	tlsCfg, err := buildTLSConfig(g)
	if err != nil {
		return err
	}

	cfg := &server.Config{
		Exports:           server.NewExportSet(g.exportName, map[string]*chain.Chain{g.exportName: ch}),
		TLSConfig:         tlsCfg,
		ConnectionTimeout: g.connectionTimeout,
		Logger:            log,
		Metrics:           reg,
	}

	srv := server.New(cfg, specs...)
	return srv.Run(ctx)
}
