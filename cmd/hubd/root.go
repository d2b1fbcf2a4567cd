package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hubd",
	Short: "hubd runs a development chat hub",
	Long: `hubd serves a SignalR compatible chat hub: negotiate, the WebSocket
endpoint, /healthz and /metrics, plus a gRPC health service. Replicas share
broadcasts through a memory, redis, nats or kafka backplane.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		logLevel, _ := cmd.Flags().GetString("log-level")
		return serve(cmd.Context(), configPath, logLevel)
	},
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringP("config", "c", "", "YAML or TOML config file")
	rootCmd.Flags().String("log-level", "", "Override log.level (debug, info, warn, error)")
}
