package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/internal/corelog"
	"github.com/coreemu/coreemu/internal/engine"
	"github.com/coreemu/coreemu/pkg/rpc"
	"github.com/coreemu/coreemu/pkg/servicesched"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session engine and its gRPC listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				os.Setenv("COREEMU_CONFIG", configPath)
			}
			settings, err := config.Load()
			if err != nil {
				return err
			}
			if settings.LogJSON {
				corelog.SetJSONFormat()
			}
			if settings.LogLevel != "" {
				corelog.SetLevel(settings.LogLevel)
			}

			reg := engine.New(settings, servicesched.Catalog{})
			server := rpc.NewServer(reg)

			lis, err := net.Listen("tcp", settings.GRPCListenAddr)
			if err != nil {
				return err
			}
			grpcServer := grpc.NewServer()
			grpcServer.RegisterService(&rpc.ServiceDesc, server)

			corelog.Logger.Infof("coresh serving on %s", settings.GRPCListenAddr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				corelog.Logger.Info("shutting down")
				reg.Shutdown(context.Background())
				grpcServer.GracefulStop()
			}()

			return grpcServer.Serve(lis)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to core.yaml (overrides $COREEMU_CONFIG)")
	return cmd
}
