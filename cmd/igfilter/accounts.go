package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"igfilter/pkg/account"
	"igfilter/pkg/fetcher"
	"igfilter/pkg/logger"
	"igfilter/pkg/storage"
)

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and verify the configured account pool",
}

// verifyCmd represents the accounts verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Log in with every configured account",
	Long: `Attempt to authenticate each configured account, restoring stored
sessions where possible and performing fresh logins otherwise. Working
sessions are persisted so the next run starts without logging in.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

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

	f := fetcher.New(fetcher.NewClientFactory(cfg.Pipeline.FetchTimeout), sessions, images, cfg.Pipeline.MaxRetries)

	failures := 0
	for _, acct := range pool.Accounts() {
		if err := f.Verify(cmd.Context(), acct); err != nil {
			failures++
			fmt.Printf("✗ %s: %v\n", acct.Username, err)
			continue
		}
		fmt.Printf("✓ %s\n", acct.Username)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d accounts failed verification", failures, pool.Size())
	}

	fmt.Printf("All %d accounts verified.\n", pool.Size())
	return nil
}
