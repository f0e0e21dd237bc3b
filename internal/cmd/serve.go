package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/metriclens/metriclens/internal/config"
	"github.com/metriclens/metriclens/internal/core"
	errwrap "github.com/metriclens/metriclens/internal/errors"
	"github.com/metriclens/metriclens/internal/observability"
	"github.com/metriclens/metriclens/internal/server"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit

Each POST /audits request builds a fresh extraction engine, so rate
limiter and cache state never leak across runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return errwrap.NewConfigInvalidError(err.Error())
		}

		logLevel := viper.GetString("logging.level")
		observability.InitServerLogger("metriclens", logLevel)

		st, err := openStore(cmd)
		if err != nil {
			observability.ServerLogger.Error("Failed to open run store", zap.Error(err))
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		// Fresh orchestrator per request; orchestrators are single-use.
		runner := server.RunnerFunc(func(ctx context.Context, timeframe core.DateRange) (*core.Dataset, error) {
			orch, err := buildOrchestrator(cfg)
			if err != nil {
				return nil, err
			}
			orch.Logger = observability.ServerLogger
			orch.Executor.Logger = observability.ServerLogger
			return orch.Run(ctx, timeframe, sectionExtractors(orch.Resolver))
		})

		observability.ServerLogger.Info("Initializing server",
			zap.String("version", versionInfo.Version),
			zap.String("host", serverHost),
			zap.Int("port", serverPort))

		srv := server.New(serverHost, serverPort, runner, st, cfg.Extraction.LookbackDays)
		server.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

		shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// LIFO order: the logger flush registered first runs last.
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
