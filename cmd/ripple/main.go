package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/ripple/internal/auth"
	serverrun "github.com/rzbill/ripple/internal/cmd/server"
	cfgpkg "github.com/rzbill/ripple/internal/config"
	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

func main() {
	// Respect RIPPLE_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("RIPPLE_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "ripple",
		Short: "Ripple realtime CLI",
		Long:  "Ripple is a single-binary realtime channel server. This CLI manages the server, channels, and policies.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start ripple server (WebSocket and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			wsAddr, _ := cmd.Flags().GetString("ws")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				_ = os.Setenv("RIPPLE_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("RIPPLE_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				WSAddr:        wsAddr,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("ws", "", "WebSocket listen address (default from config, :7070)")
	serverStartCmd.Flags().String("http", "", "Admin HTTP listen address (default from config, :7071)")
	serverStartCmd.Flags().String("config", "", "Path to JSON config file")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("RIPPLE_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("RIPPLE_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// channel commands
	channelCmd := &cobra.Command{Use: "channel", Short: "Channel catalog operations"}

	channelCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a channel pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, _ := cmd.Flags().GetString("pattern")
			desc, _ := cmd.Flags().GetString("description")
			webhooks, _ := cmd.Flags().GetStringSlice("webhook")
			disabled, _ := cmd.Flags().GetBool("disabled")
			return postAPI("/v1/channels/create", map[string]interface{}{
				"pattern":     pattern,
				"description": desc,
				"webhookUrls": webhooks,
				"disabled":    disabled,
			})
		},
	}
	channelCreateCmd.Flags().String("pattern", "", "Channel pattern, may contain % wildcard")
	channelCreateCmd.Flags().String("description", "", "Description")
	channelCreateCmd.Flags().StringSlice("webhook", nil, "Webhook endpoint URL (repeatable)")
	channelCreateCmd.Flags().Bool("disabled", false, "Create disabled")
	channelCmd.AddCommand(channelCreateCmd)

	channelListCmd := &cobra.Command{
		Use:   "list",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/channels/list")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(os.Stdout, resp.Body)
			fmt.Println()
			return nil
		},
	}
	channelCmd.AddCommand(channelListCmd)

	channelEnableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			return postAPI("/v1/channels/update", map[string]interface{}{"id": id, "enabled": true})
		},
	}
	channelEnableCmd.Flags().String("id", "", "Channel id")
	channelCmd.AddCommand(channelEnableCmd)

	channelDisableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			return postAPI("/v1/channels/update", map[string]interface{}{"id": id, "enabled": false})
		},
	}
	channelDisableCmd.Flags().String("id", "", "Channel id")
	channelCmd.AddCommand(channelDisableCmd)

	channelDeleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			return postAPI("/v1/channels/delete", map[string]interface{}{"id": id})
		},
	}
	channelDeleteCmd.Flags().String("id", "", "Channel id")
	channelCmd.AddCommand(channelDeleteCmd)

	channelPublishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a system message to a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			event, _ := cmd.Flags().GetString("event")
			payload, _ := cmd.Flags().GetString("payload")
			body := map[string]interface{}{"channel": channel, "event": event}
			if payload != "" {
				body["payload"] = json.RawMessage(payload)
			}
			return postAPI("/v1/channels/publish", body)
		},
	}
	channelPublishCmd.Flags().String("channel", "", "Concrete channel name")
	channelPublishCmd.Flags().String("event", "", "Event name")
	channelPublishCmd.Flags().String("payload", "", "JSON payload")
	channelCmd.AddCommand(channelPublishCmd)
	rootCmd.AddCommand(channelCmd)

	// policy commands
	policyCmd := &cobra.Command{Use: "policy", Short: "Policy expression operations"}
	policySetCmd := &cobra.Command{
		Use:   "set",
		Short: "Set the policy expression for an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			object, _ := cmd.Flags().GetString("object")
			expr, _ := cmd.Flags().GetString("expression")
			return postAPI("/v1/policies/set", map[string]string{"object": object, "expression": expr})
		},
	}
	policySetCmd.Flags().String("object", "", "Policy object: channels|messages")
	policySetCmd.Flags().String("expression", "", "CEL expression")
	policyCmd.AddCommand(policySetCmd)

	policyDropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop the policy expression for an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			object, _ := cmd.Flags().GetString("object")
			return postAPI("/v1/policies/drop", map[string]string{"object": object})
		},
	}
	policyDropCmd.Flags().String("object", "", "Policy object: channels|messages")
	policyCmd.AddCommand(policyDropCmd)

	policyGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the policy expression for an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			object, _ := cmd.Flags().GetString("object")
			resp, err := http.Get(apiURL() + "/v1/policies/get?object=" + url.QueryEscape(object))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(os.Stdout, resp.Body)
			fmt.Println()
			return nil
		},
	}
	policyGetCmd.Flags().String("object", "", "Policy object: channels|messages")
	policyCmd.AddCommand(policyGetCmd)
	rootCmd.AddCommand(policyCmd)

	// token mint
	tokenCmd := &cobra.Command{Use: "token", Short: "Token operations"}
	tokenMintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a signed client token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttlMin, _ := cmd.Flags().GetInt("ttl-min")
			if secret == "" {
				secret = os.Getenv("RIPPLE_JWT_SECRET")
			}
			if secret == "" || subject == "" {
				return fmt.Errorf("--secret (or RIPPLE_JWT_SECRET) and --subject are required")
			}
			token, err := auth.Mint(secret, subject, role, time.Duration(ttlMin)*time.Minute)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tokenMintCmd.Flags().String("secret", "", "Signing secret (defaults to RIPPLE_JWT_SECRET)")
	tokenMintCmd.Flags().String("subject", "", "Token subject")
	tokenMintCmd.Flags().String("role", "authenticated", "Token role")
	tokenMintCmd.Flags().Int("ttl-min", 60, "Token lifetime in minutes")
	tokenCmd.AddCommand(tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func postAPI(path string, body interface{}) error {
	b, _ := json.Marshal(body)
	resp, err := http.Post(apiURL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Println("status:", resp.Status)
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return nil
}

func apiURL() string {
	if v := os.Getenv("RIPPLE_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:7071"
}
