// Package cmd implements the metriclens command line interface.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/metriclens/metriclens/internal/observability"
)

const envPrefix = "METRICLENS"

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "metriclens",
	Short: "Rate-limit aware marketing data extraction",
	Long: `metriclens extracts marketing account data (revenue, campaigns, flows,
attribution, list growth, forms) through a rate-limited API without
tripping provider quotas.

Use the subcommands to perform specific operations.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/metriclens/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger("metriclens", verbose)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(configDir, "metriclens"))
		}
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			observability.CLILogger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
		}
	} else {
		// Missing config file is fine, defaults and env cover everything.
		if verbose {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				observability.CLILogger.Debug("No config file found, using defaults and environment variables")
			} else {
				observability.CLILogger.Warn("Error reading config file", zap.Error(err))
			}
		}
	}

	setDefaults()
}

// setDefaults sets default configuration values.
func setDefaults() {
	// API defaults
	viper.SetDefault("api.key", "")
	viper.SetDefault("api.base_url", "")
	viper.SetDefault("api.revision", "")

	// Extraction defaults
	viper.SetDefault("extraction.tier", "medium")
	viper.SetDefault("extraction.tier_file", "")
	viper.SetDefault("extraction.margin", 0.8)
	viper.SetDefault("extraction.cache_capacity", 50)
	viper.SetDefault("extraction.retry_max_attempts", 3)
	viper.SetDefault("extraction.backoff_base", "1s")
	viper.SetDefault("extraction.backoff_cap", "30s")
	viper.SetDefault("extraction.retry_after_max", "15s")
	viper.SetDefault("extraction.attempt_timeout", "30s")
	viper.SetDefault("extraction.batch_delay", "3s")
	viper.SetDefault("extraction.workers", 3)
	viper.SetDefault("extraction.conversion_metric", "Placed Order")
	viper.SetDefault("extraction.lookback_days", 90)

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30m")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	viper.SetDefault("store.driver", "libsql")
	viper.SetDefault("store.path", defaultStorePath())
	viper.SetDefault("store.url", "")
	viper.SetDefault("store.auth_token", "")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")
}

// defaultStorePath places the run database next to the user cache dir,
// falling back to the working directory.
func defaultStorePath() string {
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "metriclens", "metriclens.db")
	}
	return "./metriclens.db"
}
