package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/metriclens/metriclens/internal/config"
	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
	"github.com/metriclens/metriclens/internal/core/extractor"
	"github.com/metriclens/metriclens/internal/core/store"
	"github.com/metriclens/metriclens/internal/klaviyo"
	"github.com/metriclens/metriclens/internal/observability"
	"github.com/metriclens/metriclens/internal/output"
)

var (
	auditStart  string
	auditEnd    string
	auditDays   int
	auditOutput string
	auditSave   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a full account extraction",
	Long: `Run a full extraction across all sections (revenue, campaigns, flows,
attribution, list growth, forms) for the requested timeframe.

The run completes even when individual sections fail; gaps are reported
in the summary instead of aborting the whole audit. Press Ctrl+C to stop
scheduling new sections; in-flight calls finish and partial results are
still printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		if cfg.API.Key == "" {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
				"API key is required (set api.key or "+envPrefix+"_API_KEY)", nil)
		}

		format, err := output.ParseFormat(auditOutput)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid output format", err)
		}

		timeframe, err := resolveTimeframe(cfg)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid timeframe", err)
		}

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to build extraction engine", err)
		}

		observability.CLILogger.Info("Starting extraction run",
			zap.String("start", timeframe.Start.Format("2006-01-02")),
			zap.String("end", timeframe.End.Format("2006-01-02")),
			zap.String("tier", cfg.Extraction.Tier),
		)

		// Ctrl+C stops scheduling; in-flight calls drain naturally.
		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupts)
		go func() {
			<-interrupts
			observability.CLILogger.Warn("Interrupt received, finishing in-flight calls")
			orch.Abort()
		}()

		dataset, err := orch.Run(cmd.Context(), timeframe, sectionExtractors(orch.Resolver))
		if err != nil {
			return err
		}

		if auditSave {
			if err := persistRun(cmd, cfg, dataset); err != nil {
				observability.CLILogger.Warn("Failed to persist run", zap.Error(err))
			}
		}

		formatter := output.NewFormatter(format)
		rendered, err := formatter.FormatDataset(dataset)
		if err != nil {
			return err
		}
		fmt.Println(rendered)

		if dataset.Status == core.RunFailed {
			ExitWithCode(observability.CLILogger, foundry.ExitFailure, "Extraction run failed", nil)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditStart, "start", "", "timeframe start (YYYY-MM-DD, requires --end)")
	auditCmd.Flags().StringVar(&auditEnd, "end", "", "timeframe end (YYYY-MM-DD, requires --start)")
	auditCmd.Flags().IntVar(&auditDays, "days", 0, "derived lookback in days (ignored when --start/--end are set)")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "table", "output format: table or json")
	auditCmd.Flags().BoolVar(&auditSave, "save", false, "persist the completed run to the local store")
	auditCmd.Flags().String("tier", "", "provider rate tier: small, medium, large, xl")
	auditCmd.Flags().Float64("margin", 0, "safety margin applied to tier limits (0-1)")
	auditCmd.Flags().String("api-key", "", "provider API key")

	_ = viper.BindPFlag("extraction.tier", auditCmd.Flags().Lookup("tier"))
	_ = viper.BindPFlag("extraction.margin", auditCmd.Flags().Lookup("margin"))
	_ = viper.BindPFlag("api.key", auditCmd.Flags().Lookup("api-key"))
}

// resolveTimeframe builds the run timeframe from flags or config lookback.
func resolveTimeframe(cfg *config.Config) (core.DateRange, error) {
	if auditStart != "" || auditEnd != "" {
		if auditStart == "" || auditEnd == "" {
			return core.DateRange{}, fmt.Errorf("--start and --end must be supplied together")
		}
		start, err := time.Parse("2006-01-02", auditStart)
		if err != nil {
			return core.DateRange{}, fmt.Errorf("invalid --start: %w", err)
		}
		end, err := time.Parse("2006-01-02", auditEnd)
		if err != nil {
			return core.DateRange{}, fmt.Errorf("invalid --end: %w", err)
		}
		return core.ExplicitRange(start, end)
	}

	days := auditDays
	if days < 1 {
		days = cfg.Extraction.LookbackDays
	}
	return core.RangeFromDays(days, time.Now()), nil
}

// buildOrchestrator assembles the per-run engine stack from config.
func buildOrchestrator(cfg *config.Config) (*engine.Orchestrator, error) {
	tier, err := cfg.ResolveTier()
	if err != nil {
		return nil, err
	}

	transport := &klaviyo.Client{
		APIKey:    cfg.API.Key,
		BaseURL:   cfg.API.BaseURL,
		Revision:  cfg.API.Revision,
		UserAgent: "metriclens/" + versionInfo.Version,
	}

	executor := &engine.Executor{
		Transport:      transport,
		Limiter:        engine.NewLimiter(tier),
		Logger:         observability.CLILogger,
		MaxAttempts:    cfg.Extraction.RetryMaxAttempts,
		BackoffBase:    cfg.Extraction.BackoffBase,
		BackoffCap:     cfg.Extraction.BackoffCap,
		RetryAfterMax:  cfg.Extraction.RetryAfterMax,
		AttemptTimeout: cfg.Extraction.AttemptTimeout,
	}

	return &engine.Orchestrator{
		Executor: executor,
		Cache:    engine.NewResponseCache(cfg.Extraction.CacheCapacity),
		Resolver: &engine.MetricResolver{
			Executor:   executor,
			MetricName: cfg.Extraction.ConversionMetric,
		},
		Logger:     observability.CLILogger,
		Workers:    cfg.Extraction.Workers,
		BatchDelay: cfg.Extraction.BatchDelay,
	}, nil
}

// sectionExtractors returns every section extractor in report order.
func sectionExtractors(resolver *engine.MetricResolver) []engine.SectionExtractor {
	return []engine.SectionExtractor{
		&extractor.Revenue{Resolver: resolver},
		&extractor.Campaigns{Resolver: resolver},
		&extractor.Flows{Resolver: resolver},
		&extractor.Attribution{Resolver: resolver},
		&extractor.ListGrowth{},
		&extractor.Forms{},
	}
}

func persistRun(cmd *cobra.Command, cfg *config.Config, dataset *core.Dataset) error {
	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close() // nolint:errcheck // best-effort cleanup

	if err := st.Migrate(cmd.Context()); err != nil {
		return err
	}
	if err := st.SaveRun(cmd.Context(), dataset); err != nil {
		return err
	}

	observability.CLILogger.Info("Run persisted",
		zap.String("run_id", dataset.RunID),
		zap.String("store", cfg.Store.Path))
	return nil
}
