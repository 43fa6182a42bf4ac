package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/pdlcmesh/a2a"
	"github.com/hupe1980/pdlcmesh/pdlc"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:       "serve <sde|qa|coordinator>",
		Short:     "Serve an agent over HTTP",
		Long:      `Serves the agent card, the JSON-RPC task methods and, when enabled, Prometheus metrics.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(pdlc.KindSDE), string(pdlc.KindQA), string(pdlc.KindCoordinator)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := pdlc.ParseKind(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("host") || cfg.Server.Host == "" {
				cfg.Server.Host = host
			}

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			if cfg.Server.Port == 0 {
				cfg.Server.Port = kind.DefaultPort()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := setup(ctx, cfg, kind)
			if err != nil {
				return err
			}
			defer env.Close()

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

			server := a2a.NewServer(env.service.Card(fmt.Sprintf("http://%s/", addr)), env.service.Turns, func(o *a2a.Options) {
				o.Logger = env.logger
				o.Gatherer = env.gatherer
			})

			return a2a.ListenAndServe(ctx, addr, server, env.logger)
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "Host to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default 10004 sde, 10005 qa, 10006 coordinator)")

	return cmd
}
