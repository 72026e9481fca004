package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/app"
	"github.com/JakeFAU/crawlbridge/internal/config"
	"github.com/JakeFAU/crawlbridge/internal/logging"
	"github.com/JakeFAU/crawlbridge/internal/telemetry"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// closeTimeout bounds service shutdown after a command that does not set its own.
const closeTimeout = 30 * time.Second

// newApp is the application factory. Tests replace it to inject their own services.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		logger          *zap.Logger
		tracingShutdown telemetry.Shutdown
	)
	cmd := &cobra.Command{
		Use:   "crawlbridge",
		Short: "Incremental document crawler for enterprise repositories.",
		Long: `crawlbridge walks configured repository connections (filesystems, web sites,
GCS and S3 buckets), fingerprints every document and ingests only what changed.
Connector calls run as cancellable background tasks that stream results back to
the crawl engine through bounded channels.`,
		SilenceUsage: true,

		// Build the services once the flags are parsed and hand them to the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			tracingShutdown, err = telemetry.InitTracerProvider(cmd.Context(), cfg.Tracing)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Release services even when the command was interrupted.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			var errs []error
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				errs = append(errs, appInstance.Close(ctx))
			}
			if tracingShutdown != nil {
				errs = append(errs, tracingShutdown(ctx))
			}
			if logger != nil {
				// Sync reports EINVAL for console outputs.
				_ = logger.Sync()
			}
			return errors.Join(errs...)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); CRAWLER_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "crawlbridge: %v\n", err)
		os.Exit(1)
	}
}
