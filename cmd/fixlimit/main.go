package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternarybob/fixlimit/internal/common"
)

var (
	configFiles []string
	targetPath  string
	buildDir    string
	onMissing   string
	maxAttempts int
	logLevel    string
	withHistory bool
	showBanner  bool

	rootCmd = &cobra.Command{
		Use:   "fixlimit [flags] <program> [args...]",
		Short: "Retry a build, raising type_length_limit until the compiler stops asking",
		Long: `fixlimit runs a build command. When the build fails with a type length limit
error, the suggested type_length_limit value is written into the crate root
(src/lib.rs, falling back to src/main.rs, or --target) and the build is retried.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}
)

func init() {
	// Flags end at the build program so its own flags pass through untouched
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&withHistory, "history", false, "Record applied patches in the history store")

	rootCmd.Flags().StringVarP(&targetPath, "target", "t", "", "Source file to patch (default: src/lib.rs, then src/main.rs)")
	rootCmd.Flags().StringVarP(&buildDir, "dir", "C", "", "Working directory for the build")
	rootCmd.Flags().StringVar(&onMissing, "on-missing", "", "When the directive is absent: insert, fail or ignore")
	rootCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Maximum number of builds (0 = unbounded)")
	rootCmd.Flags().BoolVar(&showBanner, "banner", false, "Print the startup banner")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fixlimit: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	flags := common.FlagOverrides{
		Command:   args,
		Target:    targetPath,
		Dir:       buildDir,
		OnMissing: onMissing,
		LogLevel:  logLevel,
		History:   withHistory,
		Banner:    showBanner,
	}
	if cmd.Flags().Changed("max-attempts") {
		flags.MaxAttempts = &maxAttempts
	}

	config, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return usageError{err: err}
	}

	logger := common.SetupLogger(config)
	if config.Banner {
		common.PrintBanner(common.GetVersion())
	}

	logger.Debug().
		Strs("config_files", configFiles).
		Strs("command", config.Build.Command).
		Str("target", config.Build.Target).
		Str("dir", config.Build.Dir).
		Str("on_missing", config.Build.OnMissing).
		Int("max_attempts", config.Build.MaxAttempts).
		Bool("history", config.History.Enabled).
		Msg("Resolved configuration")

	summary, err := runBuild(context.Background(), config, logger, cmd.OutOrStdout())
	if err != nil {
		logger.Error().
			Err(err).
			Str("run_id", summary.RunID).
			Int("attempts", summary.Attempts).
			Msg("Build loop aborted")
		return err
	}

	logger.Info().
		Str("run_id", summary.RunID).
		Str("state", summary.State.String()).
		Int("attempts", summary.Attempts).
		Int("patches", len(summary.Patches)).
		Msg("Build loop finished")
	return nil
}

// loadConfig resolves configuration: defaults -> files -> env -> CLI flags
func loadConfig(flags common.FlagOverrides) (*common.Config, error) {
	paths := common.DiscoverConfigFiles(configFiles)
	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		common.GetLogger().Error().Strs("paths", paths).Err(err).Msg("Failed to load configuration files")
		return nil, usageError{err: err}
	}
	common.ApplyFlagOverrides(config, flags)
	config.ResolveStatePaths()
	return config, nil
}

// usageError marks errors caused by arguments or configuration
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if errors.As(err, &usageError{}) {
		return common.ExitUsage
	}
	return common.ExitFatal
}
