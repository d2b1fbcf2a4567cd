package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PPHub/global"
	"PPHub/logger"
	"PPHub/service/chatclient"
	"PPHub/service/transport"
	"PPHub/tools"
	"PPHub/tools/executor"

	"github.com/joho/godotenv"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hubchat",
	Short: "hubchat is a terminal client for a SignalR chat hub",
	Long: `hubchat connects to a chat hub, prints every message the hub relays and
sends each line typed on stdin. Commands: /retry, /user <name>, /quit.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := global.Load(configPath)
		if err != nil {
			return err
		}
		if url, _ := cmd.Flags().GetString("url"); url != "" {
			cfg.Client.HubURL = url
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Log.Level = lvl
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			return err
		}
		user, _ := cmd.Flags().GetString("user")
		return chat(cmd.Context(), cfg.Client, user)
	},
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() {
	_ = godotenv.Load()
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
	rootCmd.Flags().StringP("url", "u", "", "Hub URL, overrides client.hub_url")
	rootCmd.Flags().String("user", tools.GetEnv("PPHUB_USER", ""), "Sender name; blank sends as "+`"Anonymous"`)
	rootCmd.Flags().String("log-level", "", "Override log.level (debug, info, warn, error)")
}

func chat(ctx context.Context, conf global.ClientConfig, user string) error {
	defer logger.Sync()

	ui := executor.NewSerial("ui")
	presenter := newTerminalPresenter(os.Stdout, termenv.ColorProfile())

	dialer := transport.NewWebSocketDialer(
		transport.WithSkipNegotiation(conf.SkipNegotiation),
		transport.WithKeepAlive(conf.KeepAliveInterval, conf.ServerTimeout),
		transport.WithLogger(logger.Named("transport")),
	)
	sc := chatclient.New(presenter, ui,
		chatclient.WithDialer(dialer),
		chatclient.WithHandshakeTimeout(conf.HandshakeTimeout),
	)
	defer func() {
		sc.Teardown()
		ui.Stop()
		<-ui.Done()
	}()

	if err := sc.Initialize(conf.HubURL); err != nil {
		return err
	}
	return newRepl(sc, presenter, user).run(ctx, os.Stdin)
}
