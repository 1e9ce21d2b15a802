package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyEndpoint     = "endpoint"
	keyToken        = "token"
	keySendTimeout  = "send-timeout"
	keyTranscript   = "transcript"
	keyLogFile      = "log-file"
	keyAddr         = "addr"
	keyPath         = "path"
	keyDB           = "db"
	keyHistoryLimit = "history-limit"
	keyRoomCapacity = "room-capacity"
	keyRateLimit    = "rate-limit"
	keyRateWindow   = "rate-window"
	keyEditors      = "editors"
	keyQuiet        = "quiet"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "roomchat",
		Short:         "Join a chat room from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	root.PersistentFlags().Bool(keyQuiet, false, "suppress informational logs")
	_ = v.BindPFlag(keyQuiet, root.PersistentFlags().Lookup(keyQuiet))

	root.AddCommand(
		newJoinCmd(v),
		newServeCmd(v),
		newLocalCmd(v),
		newMembersCmd(v),
	)
	return root
}

func loadConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("ROOMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

// bindFlags lets flags, ROOMCHAT_* variables and the config file feed the
// same keys. Flags win when set explicitly.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys ...string) {
	for _, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(key))
	}
}

// serverLogger writes text logs to stderr.
func serverLogger(v *viper.Viper) *slog.Logger {
	level := slog.LevelInfo
	if v.GetBool(keyQuiet) {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
