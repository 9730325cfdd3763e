package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pal-backend/internal/auth"
	"pal-backend/internal/config"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/server"
)

const shutdownTimeout = 15 * time.Second

var (
	cfg *config.Config
	log *zap.Logger

	adminEmail    string
	adminName     string
	adminPassword string
)

var rootCmd = &cobra.Command{
	Use:           "pal-server",
	Short:         "PAL franchise backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if log, err = logger.Init(cfg); err != nil {
			return err
		}
		if cfg.UsesDefaultDSN() {
			log.Warn("DATABASE_DSN not set, using the local development database")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return database.Init(cfg)
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create the bootstrap admin account",
	Example: `  pal-server create-admin --email ops@example.com --name "Ops" --password 's3cret-pass'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(strings.ToLower(adminEmail))
		name := strings.TrimSpace(adminName)
		if email == "" || name == "" {
			return fmt.Errorf("--email and --name are required")
		}
		if len(adminPassword) < 8 {
			return fmt.Errorf("--password must be at least 8 characters")
		}
		if err := database.Init(cfg); err != nil {
			return err
		}
		user, err := auth.CreateAdmin(name, email, adminPassword)
		if err != nil {
			return err
		}
		log.Info("admin created", zap.Uint("user_id", user.ID), zap.String("email", user.Email))
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	createAdminCmd.Flags().StringVar(&adminName, "name", "", "admin display name")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password (min 8 characters)")

	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Init(cfg); err != nil {
		return err
	}

	srv, err := server.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
