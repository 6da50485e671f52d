package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/skincheck/internal/grpchealth"
)

func newHealthcheckCommand(root *rootOptions) *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health service of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.GRPCHealthAddr
			}
			if addr == "" {
				return errors.New("no health address: pass --addr or set server.grpc_health_addr")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := grpchealth.Check(ctx, addr, service, root.logger)
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "health service address (defaults to server.grpc_health_addr)")
	cmd.Flags().StringVar(&service, "service", "", "dependency to query; empty for overall status")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
