// nebulon is the command-line client for a nebulond registry. Every mutating
// command is signed with the agent's Ed25519 key.
//
// Usage:
//
//	nebulon keygen
//	nebulon issue @handle --name "My Agent" --mint <address>
//	nebulon show @handle
//	nebulon recommend <owner> --handle @handle
//	nebulon claim @handle
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/nebulon/internal/agent"
	"github.com/ssd-technologies/nebulon/internal/registry"
)

var (
	// Global flags
	serverURL   string
	keyPath     string
	adminSecret string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "nebulon",
	Short: "Client for the Nebulon identity and reputation registry",
	Long: `nebulon talks to a nebulond server. Identities are bound to the Ed25519
key in --key; generate one with "nebulon keygen".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("NEBULON_SERVER", "http://localhost:8080"), "nebulond base URL")
	rootCmd.PersistentFlags().StringVarP(&keyPath, "key", "k", envOr("NEBULON_KEY", defaultKeyPath()), "Agent key file")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", os.Getenv("NEBULON_ADMIN_SECRET"), "Operator secret for deposit")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")

	registerCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent.key"
	}
	return filepath.Join(home, ".nebulon", "agent.key")
}

// loadKey reads --key. A missing file is not an error for read-only
// commands, which run unsigned.
func loadKey() (ed25519.PrivateKey, error) {
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		return nil, nil
	}
	return agent.LoadKey(keyPath)
}

// apiClient builds a client from the global flags.
func apiClient() (*client, error) {
	key, err := loadKey()
	if err != nil {
		return nil, err
	}
	return newClient(serverURL, key, adminSecret), nil
}

// selfAddress is the registry address of the loaded key.
func selfAddress(c *client) (registry.Address, error) {
	if c.key == nil {
		return "", fmt.Errorf("no key at %s (run nebulon keygen)", keyPath)
	}
	return registry.AddressFromKey(c.key.Public().(ed25519.PublicKey))
}

// run wraps a command body with a client and the command context.
func run(fn func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), c, cmd, args)
	}
}
