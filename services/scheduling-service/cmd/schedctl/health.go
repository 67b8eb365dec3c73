package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brokerdesk/crm/libs/grpcx"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newHealthCmd(a *app) *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the service's gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := a.v.GetString("GRPC_ADDR")
			conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return fmt.Errorf("health %s: %w", addr, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", addr, resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "gRPC address (env GRPC_ADDR)")
	_ = a.v.BindPFlag("GRPC_ADDR", cmd.Flags().Lookup("addr"))
	cmd.Flags().StringVar(&service, "service", "brokerdesk.scheduling.v1", "health service name")
	return cmd
}
