package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"roomchat/internal/app"
	"roomchat/internal/chat"
	"roomchat/internal/devserver"
)

var clientKeys = []string{keyEndpoint, keyToken, keySendTimeout, keyTranscript, keyLogFile}

var serverKeys = []string{keyAddr, keyPath, keyDB, keyHistoryLimit, keyRoomCapacity, keyRateLimit, keyRateWindow, keyEditors}

func addClientFlags(cmd *cobra.Command, withEndpoint bool) {
	flags := cmd.Flags()
	if withEndpoint {
		flags.String(keyEndpoint, "", "socket endpoint, e.g. wss://chat.example.com/socket")
	}
	flags.String(keyToken, "", "auth token sent when connecting")
	flags.Duration(keySendTimeout, chat.DefaultSendTimeout, "how long a send waits for the server")
	flags.String(keyTranscript, "", "mirror the room into this HTML file")
	flags.String(keyLogFile, "", "write client logs here instead of discarding them")
}

func addServerFlags(cmd *cobra.Command, defaultAddr string) {
	flags := cmd.Flags()
	flags.String(keyAddr, defaultAddr, "listen address")
	flags.String(keyPath, devserver.DefaultPath, "socket mount path")
	flags.String(keyDB, "", "sqlite database path (defaults to a per-user path)")
	flags.Int(keyHistoryLimit, devserver.DefaultHistoryLimit, "messages replayed on join")
	flags.Int(keyRoomCapacity, 0, "distinct members allowed per room, 0 for no limit")
	flags.Int(keyRateLimit, devserver.DefaultRateLimit, "messages allowed per member per window")
	flags.Duration(keyRateWindow, devserver.DefaultRateWindow, "rate limit window")
	flags.StringSlice(keyEditors, nil, "names that get the editor role when they first join")
}

func clientConfig(v *viper.Viper, room string) app.ClientConfig {
	return app.ClientConfig{
		Endpoint:    v.GetString(keyEndpoint),
		Room:        room,
		Token:       v.GetString(keyToken),
		SendTimeout: v.GetDuration(keySendTimeout),
		Transcript:  v.GetString(keyTranscript),
		LogFile:     v.GetString(keyLogFile),
	}
}

func serverConfig(v *viper.Viper) app.ServerConfig {
	cfg := app.ServerConfig{
		Addr:         v.GetString(keyAddr),
		Path:         app.NormalizeSocketPath(v.GetString(keyPath)),
		DBPath:       v.GetString(keyDB),
		HistoryLimit: v.GetInt(keyHistoryLimit),
		RoomCapacity: v.GetInt(keyRoomCapacity),
		RateLimit:    v.GetInt(keyRateLimit),
		RateWindow:   v.GetDuration(keyRateWindow),
		Editors:      v.GetStringSlice(keyEditors),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}
	return cfg
}

func newJoinCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room in the terminal UI",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			bindFlags(v, cmd, clientKeys...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunClient(cmd.Context(), clientConfig(v, args[0]))
		},
	}
	addClientFlags(cmd, true)
	return cmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development room server",
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			bindFlags(v, cmd, serverKeys...)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := serverConfig(v)
			logger := serverLogger(v)
			handle, err := app.RunServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("roomchat server listening", "addr", handle.Addr(), "endpoint", handle.Endpoint(), "db", cfg.DBPath)
			return handle.Wait()
		},
	}
	addServerFlags(cmd, ":4000")
	return cmd
}

func newLocalCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local <room>",
		Short: "Start a local server and join a room on it",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			bindFlags(v, cmd, serverKeys...)
			bindFlags(v, cmd, clientKeys[1:]...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd.Context(), v, args[0])
		},
	}
	addServerFlags(cmd, "127.0.0.1:0")
	addClientFlags(cmd, false)
	return cmd
}

func runLocal(ctx context.Context, v *viper.Viper, room string) error {
	serverCfg := serverConfig(v)
	clientCfg := clientConfig(v, room)
	if clientCfg.Token == "" {
		clientCfg.Token = defaultName()
	}

	// The TUI owns the terminal, so server logs go where client logs go.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if clientCfg.LogFile != "" {
		f, err := os.OpenFile(clientCfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, nil)).With("component", "devserver")
	}

	handle, err := app.RunServer(ctx, serverCfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)
	if err := app.WaitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.Endpoint = handle.Endpoint()
	if err := app.RunClient(ctx, clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func newMembersCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members <room>",
		Short: "Print a room's roster",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			bindFlags(v, cmd, keyEndpoint, keyToken)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := v.GetString(keyEndpoint)
			if endpoint == "" {
				return errors.New("endpoint is required (--endpoint or ROOMCHAT_ENDPOINT)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			members, err := app.FetchRoster(ctx, endpoint, v.GetString(keyToken), args[0])
			if err != nil {
				return err
			}
			printRoster(cmd.OutOrStdout(), members)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String(keyEndpoint, "", "socket endpoint the roster API sits next to")
	flags.String(keyToken, "", "auth token")
	return cmd
}

func printRoster(w io.Writer, members []chat.Member) {
	if len(members) == 0 {
		fmt.Fprintln(w, "No members yet.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Role", "ID"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, member := range members {
		table.Append([]string{member.Name, string(member.Role), member.ID})
	}
	table.Render()
}

func defaultName() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "guest"
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
