package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"chart-gateway/internal/config"
	"chart-gateway/internal/mcp"
	"chart-gateway/internal/security"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "chart-gateway",
		Short:        "Chart query gateway",
		Long:         "Turns declarative chart query specs into safe, parameterized SQL against configured data sources.",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./configs/config.yaml or ./config.yaml)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCommand(load),
		newDescribeCommand(load),
		newTokenCommand(load),
		newMCPCommand(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg.Logging, os.Stderr)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()
	gw.Start(ctx)

	router, stopLimiter := newRouter(gw)
	defer stopLimiter()

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", srv.Addr,
			"version", version,
			"default_data_source", cfg.Engine.DefaultDataSource,
			"registry", cfg.Database.Enabled,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newDescribeCommand(load configLoader) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Print the columns of a table as the chart engine sees them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			gw, err := newGateway(cfg, config.NewLogger(cfg.Logging, os.Stderr))
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Schema.LookupTimeout+cfg.Pool.AcquireTimeout)
			defer cancel()

			columns, err := gw.charts.GetColumns(ctx, source, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-32s %-24s %s\n", "COLUMN", "TYPE", "KIND")
			for _, col := range columns {
				fmt.Fprintf(out, "%-32s %-24s %s\n", col.ColumnName, col.ColumnType, gw.typeMapper.ClassifyColumnType(col.ColumnType))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "data source name (default engine.default_data_source)")
	return cmd
}

func newTokenCommand(load configLoader) *cobra.Command {
	var (
		userID string
		roles  string
	)

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token signed with security.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			if userID == "" {
				userID = args[0]
			}
			var roleList []string
			if roles != "" {
				roleList = strings.Split(roles, ",")
			}

			jwtManager := security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
			token, err := jwtManager.GenerateToken(userID, args[0], roleList)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
				"token":      token,
				"expires_at": time.Now().Add(cfg.Security.JWTExpiration).UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject of the token (default the username)")
	cmd.Flags().StringVar(&roles, "roles", "", "comma separated roles, e.g. admin,viewer")
	return cmd
}

func newMCPCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve chart tools to an MCP client over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			// stdout carries the protocol
			logger := config.NewLogger(cfg.Logging, os.Stderr)
			gw, err := newGateway(cfg, logger)
			if err != nil {
				return err
			}
			defer gw.Close()
			gw.Start(cmd.Context())

			return mcp.NewChartToolServer(gw.charts, gw.dataSources, version, logger).StartStdio()
		},
	}
}
