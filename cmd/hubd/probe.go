package main

import (
	"fmt"

	"PPHub/service/rpc"
	"PPHub/tools/errs"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check the gRPC health of a running hub",
	Long:  `probe asks a hub replica for its health once, or keeps watching it with --watch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		watch, _ := cmd.Flags().GetDuration("watch")

		m := rpc.NewManager(rpc.Config{Target: target, HealthCheckInterval: watch})
		defer m.Stop()

		if watch <= 0 {
			status, err := m.Check(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != grpc_health_v1.HealthCheckResponse_SERVING {
				return errs.New("hub not serving", "target", target, "status", status)
			}
			return nil
		}

		m.Watch(cmd.Context(), func(serving bool, err error) {
			switch {
			case err != nil:
				fmt.Fprintf(cmd.OutOrStdout(), "%s unreachable: %v\n", target, err)
			case serving:
				fmt.Fprintf(cmd.OutOrStdout(), "%s SERVING\n", target)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s NOT_SERVING\n", target)
			}
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().String("target", "127.0.0.1:50052", "gRPC address of the hub")
	probeCmd.Flags().Duration("watch", 0, "Keep checking at this interval")
}
