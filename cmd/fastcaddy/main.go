package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/osa911/fastcaddy/internal/caddy"
	"github.com/osa911/fastcaddy/internal/config"
	"github.com/osa911/fastcaddy/internal/logging"
	"github.com/osa911/fastcaddy/internal/service"
	"github.com/osa911/fastcaddy/internal/telemetry"
	"github.com/osa911/fastcaddy/internal/version"
)

var (
	logger   *logging.Logger
	cfg      *config.Config
	client   *caddy.Client
	routes   service.RouteService
	shutdown telemetry.ShutdownFunc

	adminFlag  string
	serverFlag string
	levelFlag  string
)

// errFailures makes the process exit non-zero after a partially failed run.
var errFailures = errors.New("one or more operations failed")

var rootCmd = &cobra.Command{
	Use:   "fastcaddy",
	Short: "fastcaddy - safe route management for Caddy",
	Long: `fastcaddy manages reverse proxy routes through the Caddy admin API.
Adds check for an existing route first, deletes are verified, and batch
commands always report a result for every domain.

Configuration is read from the environment and .env files
(CADDY_ADMIN_API, CADDY_SERVER_NAME, LOG_LEVEL, ...).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No admin connection needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fastcaddy version: %s\n", version.Info())
	},
}

func initApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	if adminFlag != "" {
		cfg.CaddyAdminAPI = adminFlag
	}
	if serverFlag != "" {
		cfg.ServerName = serverFlag
	}
	if levelFlag != "" {
		cfg.LogLevel = levelFlag
	}

	logging.Configure(cfg.Logging())
	logger = logging.GetLogger()

	shutdown, err = telemetry.InitTracing(cmd.Context(), cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled: %v", err)
		shutdown = nil
	}

	client, err = caddy.New(caddy.Options{
		AdminAddress: cfg.CaddyAdminAPI,
		ServerName:   cfg.ServerName,
		Timeout:      cfg.RequestTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	routes = service.NewRouteService(client, service.RouteServiceOptions{
		SettleDelay:    cfg.SettleDelay,
		VerifyAttempts: cfg.VerifyAttempts,
		Logger:         logger,
	})

	logger.Debug("Using Caddy admin API at %s (server %s)", cfg.CaddyAdminAPI, cfg.ServerName)
	return nil
}

// spin shows a spinner on the terminal while fn runs.
func spin(suffix string, fn func()) {
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	fn()
}

// withSpinner is spin for operations that can fail.
func withSpinner(suffix string, fn func() error) error {
	var err error
	spin(suffix, func() { err = fn() })
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminFlag, "admin", "", "Caddy admin API address (overrides CADDY_ADMIN_API)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Caddy HTTP server name (overrides CADDY_SERVER_NAME)")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		if logger != nil {
			logger.Info("Received signal %v, stopping after the current request...", sig)
		}
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil && !errors.Is(err, errFailures) {
		if logger != nil {
			logger.Error("Command execution failed: %v", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if logger != nil {
		logger.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
