package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igfilter/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage secrets in the system keychain",
	Long: `Store secrets in the system keychain instead of configuration files.

Secrets stored here are picked up automatically: the vision API key fills in
when the configuration leaves it blank, and account entries without a
password fall back to their keychain entry.`,
}

// setKeyCmd represents the auth set-key command
var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the vision API key",
	RunE:  runSetKey,
}

// setPasswordCmd represents the auth set-password command
var setPasswordCmd = &cobra.Command{
	Use:   "set-password <username>",
	Short: "Store an account password",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetPassword,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(setKeyCmd)
	authCmd.AddCommand(setPasswordCmd)
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(value)), nil
}

func runSetKey(cmd *cobra.Command, args []string) error {
	store, err := auth.NewKeyringStore()
	if err != nil {
		return err
	}

	key, err := promptSecret("Vision API key")
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("no key entered")
	}

	if err := store.Set(auth.VisionKeyName, key); err != nil {
		return err
	}

	fmt.Println("Vision API key stored in the system keychain.")
	return nil
}

func runSetPassword(cmd *cobra.Command, args []string) error {
	store, err := auth.NewKeyringStore()
	if err != nil {
		return err
	}

	username := strings.TrimSpace(args[0])
	password, err := promptSecret(fmt.Sprintf("Password for %s", username))
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("no password entered")
	}

	if err := store.Set(auth.PasswordName(username), password); err != nil {
		return err
	}

	fmt.Printf("Password for %s stored in the system keychain.\n", username)
	return nil
}
