package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igfilter/pkg/account"
	"igfilter/pkg/auth"
	"igfilter/pkg/classifier"
	"igfilter/pkg/config"
	"igfilter/pkg/fetcher"
	"igfilter/pkg/logger"
	"igfilter/pkg/pipeline"
	"igfilter/pkg/report"
	"igfilter/pkg/storage"
)

var (
	// Run command flags
	outputFile      string
	debugLogFile    string
	imagesDir       string
	batchSize       int
	maxConcurrentAI int
	accountsFile    string
	minDelay        time.Duration
	maxDelay        time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <usernames-file>",
	Short: "Classify a list of usernames and write the male ones out",
	Long: `Process a newline-delimited file of Instagram usernames.

The run needs at least one configured account and a vision API key. Progress
is committed after every batch, so an interrupted run can simply be started
again with the same arguments and it will continue where it stopped.`,
	Example: `  # Process a list with the default configuration
  igfilter run usernames.txt

  # Custom outputs and a smaller AI fan-out
  igfilter run usernames.txt --output male.txt --max-concurrent-ai 10

  # Accounts from a separate file
  igfilter run usernames.txt --accounts accounts.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "male usernames output file")
	runCmd.Flags().StringVar(&debugLogFile, "debug-log", "", "JSON debug log file")
	runCmd.Flags().StringVar(&imagesDir, "images-dir", "", "directory for downloaded profile pictures")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 0, "usernames per batch")
	runCmd.Flags().IntVar(&maxConcurrentAI, "max-concurrent-ai", 0, "maximum in-flight AI classification calls")
	runCmd.Flags().StringVar(&accountsFile, "accounts", "", "YAML file with additional accounts")
	runCmd.Flags().DurationVar(&minDelay, "min-delay", 0, "minimum delay between requests on one account")
	runCmd.Flags().DurationVar(&maxDelay, "max-delay", 0, "maximum delay between requests on one account")
}

// loadConfig assembles configuration, fills secrets from the keychain when
// available, and validates the result.
func loadConfig() (*config.Config, error) {
	flags := map[string]interface{}{
		"output":            outputFile,
		"debug-log":         debugLogFile,
		"images-dir":        imagesDir,
		"batch-size":        batchSize,
		"max-concurrent-ai": maxConcurrentAI,
		"accounts":          accountsFile,
		"min-delay":         minDelay,
		"max-delay":         maxDelay,
		"log-level":         logLevel,
	}

	cfg, err := config.Assemble(configFile, flags)
	if err != nil {
		return nil, err
	}

	if store, err := auth.NewKeyringStore(); err == nil {
		if err := auth.NewResolver(store).Apply(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	pool, err := account.NewPool(cfg.Accounts, cfg.RateLimit.MinDelay, cfg.RateLimit.MaxDelay)
	if err != nil {
		return err
	}

	sessions, err := account.NewSessionStore(cfg.Sessions.Dir, cfg.Sessions.Passphrase)
	if err != nil {
		return err
	}

	images, err := storage.NewImageStore(cfg.Output.ImagesDir)
	if err != nil {
		return err
	}

	reporter, err := report.NewReporter(cfg.Output.DebugLog, cfg.Output.MaleFile)
	if err != nil {
		return err
	}

	f := fetcher.New(fetcher.NewClientFactory(cfg.Pipeline.FetchTimeout), sessions, images, cfg.Pipeline.MaxRetries)
	c := classifier.New(&cfg.Vision)

	p := pipeline.New(pool, f, c, reporter, pipeline.Options{
		BatchSize:    cfg.Pipeline.BatchSize,
		MaxThrottles: cfg.Pipeline.MaxThrottles,
		ClassifyCap:  cfg.Vision.MaxConcurrent,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoWithFields("starting run", map[string]interface{}{
		"input":    args[0],
		"accounts": pool.Size(),
	})

	summary, err := p.Run(ctx, args[0])
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if summary != nil {
		fmt.Printf("\nProcessed %d usernames: %d male, %d female, %d unknown, %d verified skipped, %d failed\n",
			summary.Total, summary.Male, summary.Female, summary.Unknown, summary.Verified, summary.Failed)
		fmt.Printf("Male usernames written to %s\n", cfg.Output.MaleFile)
	}

	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted; progress up to the last completed batch is saved.")
	}

	return nil
}
