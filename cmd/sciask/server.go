package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sciask/internal/api"
	"github.com/kalambet/sciask/internal/config"
	"github.com/kalambet/sciask/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sciask proxy (foreground)",
	Long: `Run the sciask proxy in front of the research backend.

With --mcp the research tools are also served over MCP on stdin/stdout;
logs then go to stderr only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sciask proxy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	rootCmd.AddCommand(statusCmd)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(withMCP bool) error {
	fmt.Fprintf(stderr, "sciask version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	slog.Info("bearer sessions configured", "users", len(cfg.Auth.Tokens))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := upstream.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewHandler(api.Deps{
			Upstream: backend,
			Sessions: api.StaticTokens(cfg.Auth.Tokens),
			Logger:   slog.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// In-flight streams end with the process context.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("sciask listening", "addr", srv.Addr, "backend", cfg.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Framer:  api.NewFramer(backend, slog.Default()),
			History: backend,
			UserID:  cfg.MCP.UserID,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)", "user_id", cfg.MCP.UserID)
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    strings.TrimRight(cfg.Client.ServerURL, "/"),
		httpClient: &http.Client{},
	}
	if err := client.health(ctx); err != nil {
		printStatus("Proxy", "stopped (%v)", err)
	} else {
		printStatus("Proxy", "running at %s", client.baseURL)
	}

	printStatus("Backend", "%s", cfg.Backend.BaseURL)
	printStatus("User", "%s", valueOr(cfg.Client.UserID, "(not set)"))
	if cfg.Client.Token == "" {
		printStatus("Token", "(not set)")
	} else {
		printStatus("Token", "(set)")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
